// Package patch applies RFC 6902 JSON-Patch arrays with reversible
// recording.
//
// Apply operates on a deep copy of the document and returns the new
// document together with the inverse patch: applying the result's
// Inverse to the new document restores the original. move and copy are
// decomposed internally so their inverses restore any value they
// displaced.
package patch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/apiclient/api-store/pkg/model"
)

// Result is the outcome of a successful patch application.
type Result struct {
	Document map[string]interface{}
	Inverse  []model.PatchOp
}

// Engine validates and applies patches. Paths matching one of the
// configured immutable prefixes are rejected.
type Engine struct {
	immutable []string
}

// NewEngine creates an engine with the given immutable path prefixes
// (JSON pointers, e.g. "/key").
func NewEngine(immutablePaths ...string) *Engine {
	return &Engine{immutable: immutablePaths}
}

func invalid(format string, args ...interface{}) error {
	return model.NewError(model.ErrInvalidPatch, fmt.Sprintf(format, args...))
}

// Apply runs the patch over a deep copy of doc. On any error the
// original document is untouched and no partial result is returned.
func (e *Engine) Apply(doc map[string]interface{}, ops []model.PatchOp) (*Result, error) {
	if len(ops) == 0 {
		return nil, invalid("patch is empty")
	}
	for _, op := range ops {
		if err := e.checkOp(op); err != nil {
			return nil, err
		}
	}

	work, err := deepCopy(doc)
	if err != nil {
		return nil, model.WrapError(model.ErrInternal, "copying document", err)
	}

	var inverse []model.PatchOp
	for _, op := range ops {
		inv, err := applyOp(work, op)
		if err != nil {
			return nil, err
		}
		// Prepend so the inverse patch undoes operations in reverse
		// order.
		inverse = append(inv, inverse...)
	}

	return &Result{Document: work, Inverse: inverse}, nil
}

// checkOp validates the operation shape and the immutable path set.
func (e *Engine) checkOp(op model.PatchOp) error {
	switch op.Op {
	case "add", "remove", "replace", "test":
	case "move", "copy":
		if _, err := parsePointer(op.From); err != nil {
			return invalid("op %q: invalid from %q", op.Op, op.From)
		}
		if e.isImmutable(op.From) {
			return invalid("path %q is immutable", op.From)
		}
	default:
		return invalid("unknown operation %q", op.Op)
	}

	tokens, err := parsePointer(op.Path)
	if err != nil {
		return invalid("op %q: invalid path %q", op.Op, op.Path)
	}
	if len(tokens) == 0 {
		return invalid("op %q: root path is not patchable", op.Op)
	}
	if op.Op != "test" && e.isImmutable(op.Path) {
		return invalid("path %q is immutable", op.Path)
	}
	return nil
}

func (e *Engine) isImmutable(path string) bool {
	for _, prefix := range e.immutable {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// applyOp mutates doc in place and returns the inverse operations.
func applyOp(doc map[string]interface{}, op model.PatchOp) ([]model.PatchOp, error) {
	tokens, err := parsePointer(op.Path)
	if err != nil {
		return nil, invalid("invalid path %q", op.Path)
	}

	switch op.Op {
	case "add":
		old, existed, finalPath, err := addValue(doc, tokens, op.Value)
		if err != nil {
			return nil, err
		}
		if existed {
			return []model.PatchOp{{Op: "replace", Path: op.Path, Value: old}}, nil
		}
		return []model.PatchOp{{Op: "remove", Path: finalPath}}, nil

	case "remove":
		old, err := removeValue(doc, tokens)
		if err != nil {
			return nil, err
		}
		return []model.PatchOp{{Op: "add", Path: op.Path, Value: old}}, nil

	case "replace":
		old, err := replaceValue(doc, tokens, op.Value)
		if err != nil {
			return nil, err
		}
		return []model.PatchOp{{Op: "replace", Path: op.Path, Value: old}}, nil

	case "move":
		fromTokens, err := parsePointer(op.From)
		if err != nil {
			return nil, invalid("invalid from %q", op.From)
		}
		moved, err := removeValue(doc, fromTokens)
		if err != nil {
			return nil, err
		}
		restored, err := deepCopyValue(moved)
		if err != nil {
			return nil, model.WrapError(model.ErrInternal, "copying value", err)
		}
		invAdd, err := applyOp(doc, model.PatchOp{Op: "add", Path: op.Path, Value: moved})
		if err != nil {
			return nil, err
		}
		// Undo order: first revert the add at path, then restore the
		// value at from.
		return append(invAdd, model.PatchOp{Op: "add", Path: op.From, Value: restored}), nil

	case "copy":
		fromTokens, err := parsePointer(op.From)
		if err != nil {
			return nil, invalid("invalid from %q", op.From)
		}
		value, err := getValue(doc, fromTokens)
		if err != nil {
			return nil, err
		}
		copied, err := deepCopyValue(value)
		if err != nil {
			return nil, model.WrapError(model.ErrInternal, "copying value", err)
		}
		return applyOp(doc, model.PatchOp{Op: "add", Path: op.Path, Value: copied})

	case "test":
		value, err := getValue(doc, tokens)
		if err != nil {
			return nil, err
		}
		if !jsonEqual(value, op.Value) {
			return nil, invalid("test failed at %q", op.Path)
		}
		return nil, nil
	}

	return nil, invalid("unknown operation %q", op.Op)
}

// ---------------------------------------------------------------------------
// JSON pointer navigation
// ---------------------------------------------------------------------------

func parsePointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("pointer must start with /")
	}
	raw := strings.Split(path[1:], "/")
	tokens := make([]string, len(raw))
	for i, t := range raw {
		t = strings.ReplaceAll(t, "~1", "/")
		t = strings.ReplaceAll(t, "~0", "~")
		tokens[i] = t
	}
	return tokens, nil
}

func formatPointer(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		t = strings.ReplaceAll(t, "~", "~0")
		t = strings.ReplaceAll(t, "/", "~1")
		b.WriteString("/")
		b.WriteString(t)
	}
	return b.String()
}

// parent walks to the container holding the last token.
func parent(doc map[string]interface{}, tokens []string) (interface{}, string, error) {
	var node interface{} = doc
	for i := 0; i < len(tokens)-1; i++ {
		child, err := step(node, tokens[i])
		if err != nil {
			return nil, "", invalid("path %s: %v", formatPointer(tokens[:i+1]), err)
		}
		node = child
	}
	return node, tokens[len(tokens)-1], nil
}

func step(node interface{}, token string) (interface{}, error) {
	switch n := node.(type) {
	case map[string]interface{}:
		child, ok := n[token]
		if !ok {
			return nil, fmt.Errorf("member %q does not exist", token)
		}
		return child, nil
	case []interface{}:
		idx, err := arrayIndex(token, len(n), false)
		if err != nil {
			return nil, err
		}
		return n[idx], nil
	default:
		return nil, fmt.Errorf("cannot descend into %T", node)
	}
}

func arrayIndex(token string, length int, allowEnd bool) (int, error) {
	if token == "-" {
		if !allowEnd {
			return 0, fmt.Errorf("index - is only valid for add")
		}
		return length, nil
	}
	idx, err := strconv.Atoi(token)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid array index %q", token)
	}
	limit := length
	if allowEnd {
		limit = length + 1
	}
	if idx >= limit {
		return 0, fmt.Errorf("array index %d out of bounds (len %d)", idx, length)
	}
	return idx, nil
}

func getValue(doc map[string]interface{}, tokens []string) (interface{}, error) {
	if len(tokens) == 0 {
		return doc, nil
	}
	container, last, err := parent(doc, tokens)
	if err != nil {
		return nil, err
	}
	value, err := step(container, last)
	if err != nil {
		return nil, invalid("path %s: %v", formatPointer(tokens), err)
	}
	return value, nil
}

// addValue inserts value at tokens. It returns the displaced value
// when the target member already existed, and the effective pointer of
// the inserted element ("-" resolved to a concrete index).
func addValue(doc map[string]interface{}, tokens []string, value interface{}) (old interface{}, existed bool, finalPath string, err error) {
	container, last, err := parent(doc, tokens)
	if err != nil {
		return nil, false, "", err
	}

	switch c := container.(type) {
	case map[string]interface{}:
		old, existed = c[last]
		c[last] = value
		return old, existed, formatPointer(tokens), nil

	case []interface{}:
		idx, err := arrayIndex(last, len(c), true)
		if err != nil {
			return nil, false, "", invalid("path %s: %v", formatPointer(tokens), err)
		}
		expanded := append(c, nil)
		copy(expanded[idx+1:], expanded[idx:])
		expanded[idx] = value
		if err := writeBack(doc, tokens[:len(tokens)-1], expanded); err != nil {
			return nil, false, "", err
		}
		final := append(append([]string{}, tokens[:len(tokens)-1]...), strconv.Itoa(idx))
		return nil, false, formatPointer(final), nil

	default:
		return nil, false, "", invalid("path %s: cannot add into %T", formatPointer(tokens), container)
	}
}

func removeValue(doc map[string]interface{}, tokens []string) (interface{}, error) {
	container, last, err := parent(doc, tokens)
	if err != nil {
		return nil, err
	}

	switch c := container.(type) {
	case map[string]interface{}:
		old, ok := c[last]
		if !ok {
			return nil, invalid("path %s: member does not exist", formatPointer(tokens))
		}
		delete(c, last)
		return old, nil

	case []interface{}:
		idx, err := arrayIndex(last, len(c), false)
		if err != nil {
			return nil, invalid("path %s: %v", formatPointer(tokens), err)
		}
		old := c[idx]
		shrunk := append(c[:idx], c[idx+1:]...)
		if err := writeBack(doc, tokens[:len(tokens)-1], shrunk); err != nil {
			return nil, err
		}
		return old, nil

	default:
		return nil, invalid("path %s: cannot remove from %T", formatPointer(tokens), container)
	}
}

func replaceValue(doc map[string]interface{}, tokens []string, value interface{}) (interface{}, error) {
	container, last, err := parent(doc, tokens)
	if err != nil {
		return nil, err
	}

	switch c := container.(type) {
	case map[string]interface{}:
		old, ok := c[last]
		if !ok {
			return nil, invalid("path %s: member does not exist", formatPointer(tokens))
		}
		c[last] = value
		return old, nil

	case []interface{}:
		idx, err := arrayIndex(last, len(c), false)
		if err != nil {
			return nil, invalid("path %s: %v", formatPointer(tokens), err)
		}
		old := c[idx]
		c[idx] = value
		return old, nil

	default:
		return nil, invalid("path %s: cannot replace in %T", formatPointer(tokens), container)
	}
}

// writeBack reassigns a slice container into its parent after a resize.
func writeBack(doc map[string]interface{}, tokens []string, value interface{}) error {
	if len(tokens) == 0 {
		return invalid("document root must be an object")
	}
	container, last, err := parent(doc, tokens)
	if err != nil {
		return err
	}
	switch c := container.(type) {
	case map[string]interface{}:
		c[last] = value
		return nil
	case []interface{}:
		idx, err := arrayIndex(last, len(c), false)
		if err != nil {
			return invalid("path %s: %v", formatPointer(tokens), err)
		}
		c[idx] = value
		return nil
	default:
		return invalid("path %s: cannot write into %T", formatPointer(tokens), container)
	}
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

func deepCopy(doc map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var copied map[string]interface{}
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, err
	}
	return copied, nil
}

func deepCopyValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var copied interface{}
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, err
	}
	return copied, nil
}

// jsonEqual compares two values after normalizing through JSON, so
// patch-supplied values and decoded document values compare equal.
func jsonEqual(a, b interface{}) bool {
	na, err := deepCopyValue(a)
	if err != nil {
		return false
	}
	nb, err := deepCopyValue(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}
