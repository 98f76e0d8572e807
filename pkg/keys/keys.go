// Package keys builds and parses the composite database keys used by
// the sub-stores.
//
// Composite keys are ASCII strings joined with "~". The separator is
// reserved: forming a key from a component that contains "~" fails.
// Components that are not guaranteed URL-safe should be encoded with
// EncodeComponent before forming.
//
// Key formats:
//
//	Data Type        Key Format                                     Value
//	=====================================================================
//	Deleted marker   del~<kind>~<id1>[~<id2>...]                    BinEntry
//	History data     <ISO8601-time>~<userKey>                       HistoryEntry
//	History index    <kind>~<ownerId>~<ISO8601-time>~<userKey>      data key
//	Revision         <kind>~<fileKey>~<invTime>                     Revision
//	Shared index     <userKey>~<fileKey>                            SharedEntry
//
// Revision keys embed an inverse timestamp, (2^53-1)-unixMs zero-padded
// to 16 digits, so a forward lexicographic scan yields newest-first
// ordering.
package keys

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Separator joins key components. It must not appear inside one.
const Separator = "~"

// deletedPrefix marks tombstone keys in the bin namespace.
const deletedPrefix = "del"

// maxTime is the largest timestamp representable in a revision key.
const maxTime = int64(1)<<53 - 1

// historyTimeLayout is fixed-width so lexicographic order on history
// keys is chronological. RFC3339Nano trims trailing zeros and would
// break that.
const historyTimeLayout = "2006-01-02T15:04:05.000Z"

// Join forms a composite key from components. It fails when a
// component is empty or contains the separator.
func Join(components ...string) (string, error) {
	if len(components) == 0 {
		return "", fmt.Errorf("key: no components")
	}
	for _, c := range components {
		if c == "" {
			return "", fmt.Errorf("key: empty component")
		}
		if strings.Contains(c, Separator) {
			return "", fmt.Errorf("key: component %q contains reserved separator", c)
		}
	}
	return strings.Join(components, Separator), nil
}

// Split parses a composite key back into its components.
func Split(key string) []string {
	return strings.Split(key, Separator)
}

// EncodeComponent makes an arbitrary string safe for use as a key
// component.
func EncodeComponent(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// DecodeComponent reverses EncodeComponent.
func DecodeComponent(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("key: invalid encoded component: %w", err)
	}
	return string(b), nil
}

// Deleted forms a tombstone key: del~<kind>~<id1>[~<id2>...].
func Deleted(kind string, ids ...string) (string, error) {
	parts := append([]string{deletedPrefix, kind}, ids...)
	return Join(parts...)
}

// ParseDeleted recovers kind and ids from a tombstone key.
func ParseDeleted(key string) (kind string, ids []string, err error) {
	parts := Split(key)
	if len(parts) < 3 || parts[0] != deletedPrefix {
		return "", nil, fmt.Errorf("key: %q is not a deleted marker", key)
	}
	return parts[1], parts[2:], nil
}

// HistoryData forms the key of a history data record:
// <ISO8601-time>~<userKey>.
func HistoryData(created time.Time, userKey string) (string, error) {
	return Join(created.UTC().Format(historyTimeLayout), userKey)
}

// HistoryIndex forms a history index key:
// <kind>~<ownerId>~<ISO8601-time>~<userKey>. The stored value is the
// data key the index points at.
func HistoryIndex(kind, ownerId string, created time.Time, userKey string) (string, error) {
	return Join(kind, ownerId, created.UTC().Format(historyTimeLayout), userKey)
}

// HistoryIndexPrefix returns the range-scan prefix for one index owner.
func HistoryIndexPrefix(kind, ownerId string) (string, error) {
	k, err := Join(kind, ownerId)
	if err != nil {
		return "", err
	}
	return k + Separator, nil
}

// Revision forms a revision key: <kind>~<fileKey>~<invTime>.
func Revision(kind, fileKey string, t time.Time) (string, error) {
	return Join(kind, fileKey, InverseTime(t))
}

// RevisionPrefix returns the range-scan prefix for one file's
// revisions.
func RevisionPrefix(kind, fileKey string) (string, error) {
	k, err := Join(kind, fileKey)
	if err != nil {
		return "", err
	}
	return k + Separator, nil
}

// InverseTime encodes t so later times sort earlier. The value is
// zero-padded to a fixed width so lexicographic and numeric order
// agree.
func InverseTime(t time.Time) string {
	return fmt.Sprintf("%016d", maxTime-t.UnixMilli())
}

// ParseInverseTime recovers the original timestamp from an inverse
// time component.
func ParseInverseTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("key: invalid inverse time %q: %w", s, err)
	}
	ms := maxTime - n
	if ms < 0 {
		return time.Time{}, fmt.Errorf("key: inverse time %q out of range", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Shared forms a shared-index key: <userKey>~<fileKey>.
func Shared(userKey, fileKey string) (string, error) {
	return Join(userKey, fileKey)
}

// ParseShared recovers user and file keys from a shared-index key.
func ParseShared(key string) (userKey, fileKey string, err error) {
	parts := Split(key)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("key: %q is not a shared index key", key)
	}
	return parts[0], parts[1], nil
}

// UserPrefix returns the range-scan prefix selecting one user's
// entries in a user-first composite keyspace.
func UserPrefix(userKey string) string {
	return userKey + Separator
}
