// Package model defines the persisted entities of the api-store data
// model: users, the files tree with its permissions, revisions, request
// history, tombstones, the shared-with-me index, and sessions.
//
// Every persisted entity serializes to JSON and carries an opaque Key
// plus a Kind discriminator. Identity fields (key, kind) and the
// soft-delete flag are immutable once written; mutation flows enforce
// this through the patch engine's immutable path set.
package model

import "time"

// Entity kinds stored in the database.
const (
	KindSpace       = "Space"
	KindFolder      = "Folder"
	KindHttpProject = "HttpProject"
	KindUser        = "User"
	KindPermission  = "Permission"
	KindRevision    = "Revision"
	KindHistory     = "History"
)

// DefaultUserKey is the implicit singleton user in single-user mode.
const DefaultUserKey = "default"

// User is an account record. Users are never hard-deleted; references
// survive as keys.
type User struct {
	Key      string `json:"key"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	Sub      string `json:"sub,omitempty"`
	Picture  string `json:"picture,omitempty"`
}

// DefaultUser returns the singleton user used when authentication is
// disabled.
func DefaultUser() *User {
	return &User{Key: DefaultUserKey, Kind: KindUser, Name: "Default user"}
}

// Modification records who touched an entity and when.
type Modification struct {
	User string `json:"user"`
	Time int64  `json:"time"`
}

// FileInfo is the user-visible metadata of a file node.
type FileInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// File is a node of the workspace tree: a Space (root folder), a
// Folder, or a leaf kind such as HttpProject. Parents lists ancestor
// keys nearest-last; PermissionIds reference Permission records owned
// by this file.
type File struct {
	Key           string       `json:"key"`
	Kind          string       `json:"kind"`
	Info          FileInfo     `json:"info"`
	Parents       []string     `json:"parents"`
	Owner         string       `json:"owner"`
	PermissionIds []string     `json:"permissionIds"`
	Deleted       bool         `json:"_deleted,omitempty"`
	Created       int64        `json:"created"`
	Updated       int64        `json:"updated"`
	LastModified  Modification `json:"lastModified"`
}

// IsFolderKind reports whether kind may contain children.
func IsFolderKind(kind string) bool {
	return kind == KindSpace || kind == KindFolder
}

// PermissionType scopes a grant to a user, a group, or anyone.
type PermissionType string

const (
	PermissionUser   PermissionType = "user"
	PermissionGroup  PermissionType = "group"
	PermissionAnyone PermissionType = "anyone"
)

// Permission is an access grant attached to exactly one file.
type Permission struct {
	Key            string         `json:"key"`
	Kind           string         `json:"kind"`
	Type           PermissionType `json:"type"`
	Role           Role           `json:"role"`
	Owner          string         `json:"owner,omitempty"`
	AddingUser     string         `json:"addingUser"`
	ExpirationTime int64          `json:"expirationTime,omitempty"`
	Deleted        bool           `json:"_deleted,omitempty"`
}

// Expired reports whether the grant has lapsed at the given time.
func (p *Permission) Expired(now time.Time) bool {
	return p.ExpirationTime > 0 && p.ExpirationTime <= now.UnixMilli()
}

// Revision is a stored reverse patch enabling point-in-time recovery.
// Id is the key of the patched file; the Patch undoes the change that
// produced this revision.
type Revision struct {
	Key          string       `json:"key"`
	Kind         string       `json:"kind"`
	Id           string       `json:"id"`
	Created      int64        `json:"created"`
	Deleted      bool         `json:"deleted,omitempty"`
	Patch        []PatchOp    `json:"patch"`
	Modification Modification `json:"modification"`
}

// PatchOp is a single RFC 6902 JSON-Patch operation.
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	From  string      `json:"from,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// HistoryEntry is one recorded request/response exchange. The entry is
// stored once and referenced by per-user, per-space, per-project,
// per-request, and per-app index keys.
type HistoryEntry struct {
	Key     string                 `json:"key"`
	Kind    string                 `json:"kind"`
	User    string                 `json:"user"`
	Created int64                  `json:"created"`
	Log     map[string]interface{} `json:"log"`
	Space   string                 `json:"space,omitempty"`
	Project string                 `json:"project,omitempty"`
	Request string                 `json:"request,omitempty"`
	App     string                 `json:"app,omitempty"`
}

// BinEntry is a soft-delete tombstone. Its key is the deleted-marker
// composite of the deleted entity's identity.
type BinEntry struct {
	Key         string `json:"key"`
	DeletedTime int64  `json:"deletedTime"`
	DeletedBy   string `json:"deletedBy,omitempty"`
}

// SharedEntry indexes a file explicitly granted to a user outside the
// user's owned tree.
type SharedEntry struct {
	TargetKey string   `json:"targetKey"`
	UserKey   string   `json:"userKey"`
	Kind      string   `json:"kind"`
	Parents   []string `json:"parents,omitempty"`
}

// Session is the server-side record behind a signed token. Unauthenticated
// sessions may carry OIDC state/nonce while a login is in flight.
type Session struct {
	Authenticated bool   `json:"authenticated"`
	Uid           string `json:"uid,omitempty"`
	State         string `json:"state,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
}
