package applier

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"

	"github.com/tidwall/sjson"
)

// ApplyPatch applies an ordered sequence of RFC 6902-style operations (plus
// the safe_replace, remove_if_exists and test_absence extensions) to a
// parsed JSON value, returning the resulting value. No existing JSON Patch
// library implements the three extensions, so dispatch and RFC 6901
// pointer validation are hand-written; the actual set/remove of a value at
// a path is delegated to sjson once validation confirms the op is legal.
//
// Supported "op" values: add, remove, replace, move, copy, test (standard
// RFC 6902), plus:
//
//	safe_replace   like replace, but creates the path (and any missing
//	               parent objects) instead of failing when absent.
//	remove_if_exists  like remove, but a no-op when the path is absent.
//	test_absence   fails unless the path is absent.
func ApplyPatch(doc any, ops []any) (any, error) {
	root := doc
	for _, rawOp := range ops {
		op, ok := rawOp.(map[string]any)
		if !ok {
			return nil, plumbing.ChangeConflict("json patch operation must be an object")
		}
		kind, _ := op["op"].(string)
		path, _ := op["path"].(string)
		var err error
		switch kind {
		case "add":
			root, err = setAt(root, path, op["value"], true)
		case "replace":
			root, err = setAt(root, path, op["value"], false)
		case "safe_replace":
			root, err = setAt(root, path, op["value"], true)
		case "remove":
			root, err = removeAt(root, path, false)
		case "remove_if_exists":
			root, err = removeAt(root, path, true)
		case "test":
			err = testAt(root, path, op["value"], true)
		case "test_absence":
			err = testAt(root, path, nil, false)
		case "move":
			from, _ := op["from"].(string)
			var v any
			v, err = getAt(root, from)
			if err == nil {
				root, err = removeAt(root, from, false)
			}
			if err == nil {
				root, err = setAt(root, path, v, true)
			}
		case "copy":
			from, _ := op["from"].(string)
			var v any
			v, err = getAt(root, from)
			if err == nil {
				root, err = setAt(root, path, v, true)
			}
		default:
			err = plumbing.ChangeConflict(fmt.Sprintf("unsupported json patch op '%s'", kind))
		}
		if err != nil {
			return nil, err
		}
	}
	return root, nil
}

func splitPointer(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	raw := strings.Split(strings.TrimPrefix(path, "/"), "/")
	tokens := make([]string, len(raw))
	for i, t := range raw {
		t = strings.ReplaceAll(t, "~1", "/")
		t = strings.ReplaceAll(t, "~0", "~")
		tokens[i] = t
	}
	return tokens
}

func getAt(doc any, path string) (any, error) {
	tokens := splitPointer(path)
	cur := doc
	for _, tok := range tokens {
		next, err := descend(cur, tok)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func descend(cur any, tok string) (any, error) {
	switch v := cur.(type) {
	case map[string]any:
		val, ok := v[tok]
		if !ok {
			return nil, plumbing.ChangeConflict(fmt.Sprintf("json pointer: no such member '%s'", tok))
		}
		return val, nil
	case []any:
		idx, err := strconv.Atoi(tok)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, plumbing.ChangeConflict(fmt.Sprintf("json pointer: bad array index '%s'", tok))
		}
		return v[idx], nil
	default:
		return nil, plumbing.ChangeConflict("json pointer: cannot descend into scalar")
	}
}

// testAt asserts that the value at path equals want (when mustExist is
// true) or that path does not exist (when mustExist is false).
func testAt(doc any, path string, want any, mustExist bool) error {
	v, err := getAt(doc, path)
	if !mustExist {
		if err == nil {
			return plumbing.ChangeConflict(fmt.Sprintf("test_absence failed: '%s' exists", path))
		}
		return nil
	}
	if err != nil {
		return plumbing.ChangeConflict(fmt.Sprintf("test failed: %v", err))
	}
	if !deepEqual(v, want) {
		return plumbing.ChangeConflict(fmt.Sprintf("test failed: value at '%s' does not match", path))
	}
	return nil
}

func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// sjsonPath translates RFC 6901 pointer tokens (already unescaped by
// splitPointer) into sjson's dot-delimited path syntax: literal dots in a
// token are escaped so they aren't read as path separators, and the
// pointer's "-" (append) token becomes sjson's own append marker.
func sjsonPath(tokens []string) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		if t == "-" {
			parts[i] = "-1"
			continue
		}
		parts[i] = strings.NewReplacer(".", "\\.", "*", "\\*", "?", "\\?").Replace(t)
	}
	return strings.Join(parts, ".")
}

// setAt returns a new root with value set at path. create controls whether
// missing intermediate objects and the leaf itself are created (add/
// safe_replace) or must already exist (replace). The pointer walk itself
// only validates that path is legal under RFC 6901 and the create/replace
// rules below; the actual mutation is sjson's.
func setAt(root any, path string, value any, create bool) (any, error) {
	tokens := splitPointer(path)
	if len(tokens) == 0 {
		return value, nil
	}
	if err := validateSetPath(root, tokens, create); err != nil {
		return nil, err
	}
	raw := []byte("null")
	if root != nil {
		var err error
		raw, err = object.CanonicalJSONBytes(root)
		if err != nil {
			return nil, plumbing.StorageError(err)
		}
	}
	if string(raw) == "null" {
		raw = []byte("{}")
	}
	out, err := sjson.SetBytes(raw, sjsonPath(tokens), value)
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	return object.ParseJSON(out)
}

// validateSetPath walks cur the same way setAt's predecessor used to build
// a new tree, but only checks that every intermediate member/index exists
// (or may legally be created) and that the leaf satisfies the create vs.
// replace rule, reproducing RFC 6901's and the extensions' exact error
// cases before sjson ever touches the document.
func validateSetPath(cur any, tokens []string, create bool) error {
	tok := tokens[0]
	last := len(tokens) == 1

	switch v := cur.(type) {
	case map[string]any:
		child, exists := v[tok]
		if last {
			if !exists && !create {
				return plumbing.ChangeConflict(fmt.Sprintf("replace failed: no such member '%s'", tok))
			}
			return nil
		}
		if !exists {
			if !create {
				return plumbing.ChangeConflict(fmt.Sprintf("no such member '%s'", tok))
			}
			return nil
		}
		return validateSetPath(child, tokens[1:], create)
	case []any:
		if tok == "-" {
			if !last {
				return plumbing.ChangeConflict("json pointer: '-' must be the final token")
			}
			if !create {
				return plumbing.ChangeConflict("replace failed: '-' is an append-only index")
			}
			return nil
		}
		idx, err := strconv.Atoi(tok)
		if err != nil || idx < 0 || idx > len(v) {
			return plumbing.ChangeConflict(fmt.Sprintf("json pointer: bad array index '%s'", tok))
		}
		if last {
			if idx == len(v) && !create {
				return plumbing.ChangeConflict("replace failed: index out of range")
			}
			return nil
		}
		if idx == len(v) {
			return plumbing.ChangeConflict("json pointer: cannot descend past array end")
		}
		return validateSetPath(v[idx], tokens[1:], create)
	case nil:
		if !create {
			return plumbing.ChangeConflict("replace failed: path does not exist")
		}
		return nil
	default:
		return plumbing.ChangeConflict("json pointer: cannot descend into scalar")
	}
}

// removeAt returns a new root with the value at path removed. ifExists
// makes a missing path a no-op instead of an error (remove_if_exists).
func removeAt(root any, path string, ifExists bool) (any, error) {
	tokens := splitPointer(path)
	if len(tokens) == 0 {
		return nil, plumbing.ChangeConflict("cannot remove the document root")
	}
	exists, err := validateRemovePath(root, tokens, ifExists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return root, nil
	}
	raw, err := object.CanonicalJSONBytes(root)
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	out, err := sjson.DeleteBytes(raw, sjsonPath(tokens))
	if err != nil {
		return nil, plumbing.StorageError(err)
	}
	return object.ParseJSON(out)
}

// validateRemovePath reports whether path exists under cur, returning an
// error when it doesn't and ifExists is false.
func validateRemovePath(cur any, tokens []string, ifExists bool) (bool, error) {
	tok := tokens[0]
	last := len(tokens) == 1

	switch v := cur.(type) {
	case map[string]any:
		child, exists := v[tok]
		if !exists {
			if ifExists {
				return false, nil
			}
			return false, plumbing.ChangeConflict(fmt.Sprintf("remove failed: no such member '%s'", tok))
		}
		if last {
			return true, nil
		}
		return validateRemovePath(child, tokens[1:], ifExists)
	case []any:
		idx, err := strconv.Atoi(tok)
		if err != nil || idx < 0 || idx >= len(v) {
			if ifExists {
				return false, nil
			}
			return false, plumbing.ChangeConflict(fmt.Sprintf("remove failed: bad array index '%s'", tok))
		}
		if last {
			return true, nil
		}
		return validateRemovePath(v[idx], tokens[1:], ifExists)
	default:
		if ifExists {
			return false, nil
		}
		return false, plumbing.ChangeConflict("remove failed: cannot descend into scalar")
	}
}
