// Package diffengine computes the delta between two trees as an ordered
// list of Change entries, synthesizing APPLY_JSON_PATCH/APPLY_TEXT_PATCH
// for modifications, UPSERT_*/REMOVE for additions/deletions, and RENAME
// for moves the tree diff can establish with confidence. A MODIFY that is
// also a rename is emitted as a RENAME entry immediately followed by the
// content-patch entry at the new path, so the two never collapse into one
// another even though they target the same path.
package diffengine

import (
	"sort"
	"strings"

	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/pathfilter"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// Backend is the subset of the Object Store the Diff Engine needs to walk
// both trees.
type Backend interface {
	ReadTree(id plumbing.Hash) (*object.Tree, error)
	ReadBlob(id plumbing.Hash) (*object.Blob, error)
}

// leaf describes one file-level divergence discovered by the tree walk,
// before rename pairing and content-patch synthesis.
type leaf struct {
	path         string
	oldID, newID plumbing.Hash // zero when absent
}

// Diff computes the synthesized, ordered change list between fromTreeID
// and toTreeID, restricted to paths matched by filter (a nil filter
// matches everything). Entries are ordered renames-and-their-patches
// first, then all remaining adds, deletes and modifies together, sorted
// by path for determinism.
func Diff(backend Backend, fromTreeID, toTreeID plumbing.Hash, filter *pathfilter.Filter) ([]object.Change, error) {
	leaves, err := walk(backend, fromTreeID, toTreeID)
	if err != nil {
		return nil, err
	}

	var adds, dels, mods []leaf
	for _, l := range leaves {
		switch {
		case l.oldID.IsZero():
			adds = append(adds, l)
		case l.newID.IsZero():
			dels = append(dels, l)
		default:
			mods = append(mods, l)
		}
	}

	var out []object.Change

	// Pass 1: exact-content renames (100% similarity, like the teacher's
	// git-backed stores with similarity-index rename detection collapsed
	// to the exact-match case, since this store's config statically
	// disables git's own fuzzy rename heuristics).
	usedAdd := make([]bool, len(adds))
	usedDel := make([]bool, len(dels))
	for di := range dels {
		for ai := range adds {
			if usedAdd[ai] || dels[di].oldID != adds[ai].newID {
				continue
			}
			usedDel[di] = true
			usedAdd[ai] = true
			rn := object.RenameChange(dels[di].path, adds[ai].path)
			if filterMatches(filter, rn.OldPath, rn.Path) {
				out = append(out, rn)
			}
			break
		}
	}

	// Pass 2: same-basename pairing for the remaining add/delete set,
	// treated as a rename followed by a content patch at the new path.
	for di := range dels {
		if usedDel[di] {
			continue
		}
		base := baseName(dels[di].path)
		for ai := range adds {
			if usedAdd[ai] || baseName(adds[ai].path) != base {
				continue
			}
			usedDel[di] = true
			usedAdd[ai] = true
			rn := object.RenameChange(dels[di].path, adds[ai].path)
			if filterMatches(filter, rn.OldPath, rn.Path) {
				out = append(out, rn)
			}
			patch, err := synthesizeModify(backend, adds[ai].path, dels[di].oldID, adds[ai].newID)
			if err != nil {
				return nil, err
			}
			if filterMatches(filter, patch.Path, patch.Path) {
				out = append(out, patch)
			}
			break
		}
	}

	var rest []object.Change
	for ai := range adds {
		if usedAdd[ai] || !filterMatches(filter, adds[ai].path, adds[ai].path) {
			continue
		}
		c, err := synthesizeAdd(backend, adds[ai].path, adds[ai].newID)
		if err != nil {
			return nil, err
		}
		rest = append(rest, c)
	}
	for di := range dels {
		if usedDel[di] || !filterMatches(filter, dels[di].path, dels[di].path) {
			continue
		}
		rest = append(rest, object.RemoveChange(dels[di].path))
	}
	for _, l := range mods {
		if !filterMatches(filter, l.path, l.path) {
			continue
		}
		c, err := synthesizeModify(backend, l.path, l.oldID, l.newID)
		if err != nil {
			return nil, err
		}
		rest = append(rest, c)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Path < rest[j].Path })
	out = append(out, rest...)
	return out, nil
}

func filterMatches(filter *pathfilter.Filter, pathA, pathB string) bool {
	if filter == nil {
		return true
	}
	return filter.Matches(pathA) || filter.Matches(pathB)
}

func baseName(path string) string {
	idx := strings.LastIndexByte(path, '/')
	return path[idx+1:]
}

func synthesizeAdd(backend Backend, path string, id plumbing.Hash) (object.Change, error) {
	blob, err := backend.ReadBlob(id)
	if err != nil {
		return object.Change{}, err
	}
	if object.DetermineEntryType(path) == object.EntryJSON {
		v, err := object.ParseJSON(blob.Data)
		if err != nil {
			return object.Change{}, plumbing.StorageError(err)
		}
		return object.UpsertJSONChange(path, v), nil
	}
	return object.UpsertTextChange(path, string(blob.Data)), nil
}

func synthesizeModify(backend Backend, path string, oldID, newID plumbing.Hash) (object.Change, error) {
	oldBlob, err := backend.ReadBlob(oldID)
	if err != nil {
		return object.Change{}, err
	}
	newBlob, err := backend.ReadBlob(newID)
	if err != nil {
		return object.Change{}, err
	}
	if object.DetermineEntryType(path) == object.EntryJSON {
		oldV, err := object.ParseJSON(oldBlob.Data)
		if err != nil {
			return object.Change{}, plumbing.StorageError(err)
		}
		newV, err := object.ParseJSON(newBlob.Data)
		if err != nil {
			return object.Change{}, plumbing.StorageError(err)
		}
		ops := diffJSON(oldV, newV, "")
		return object.ApplyJSONPatchChange(path, ops), nil
	}
	oldText := object.SanitizeText(string(oldBlob.Data))
	newText := object.SanitizeText(string(newBlob.Data))
	c := object.ApplyTextPatchChange(path, oldText, newText)
	c.UnifiedDiff = UnifiedLineDiff(oldText, newText)
	return c, nil
}

// diffJSON performs the recursive, safe-replace-mode JSON diff described
// in the Diff Engine's contract: replace primitives, recurse into objects,
// replace arrays wholesale.
func diffJSON(oldV, newV any, pointer string) []any {
	oldM, oldIsMap := oldV.(map[string]any)
	newM, newIsMap := newV.(map[string]any)
	if !oldIsMap || !newIsMap {
		if deepEqualJSON(oldV, newV) {
			return nil
		}
		return []any{map[string]any{"op": "safe_replace", "path": pointerOrRoot(pointer), "value": newV}}
	}
	var ops []any
	keys := unionKeys(oldM, newM)
	for _, k := range keys {
		childPtr := pointer + "/" + escapeToken(k)
		ov, inOld := oldM[k]
		nv, inNew := newM[k]
		switch {
		case inOld && !inNew:
			ops = append(ops, map[string]any{"op": "remove_if_exists", "path": childPtr})
		case !inOld && inNew:
			ops = append(ops, map[string]any{"op": "safe_replace", "path": childPtr, "value": nv})
		default:
			ops = append(ops, diffJSON(ov, nv, childPtr)...)
		}
	}
	return ops
}

func pointerOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func unionKeys(a, b map[string]any) []string {
	set := make(map[string]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~", "~0")
	tok = strings.ReplaceAll(tok, "/", "~1")
	return tok
}

func deepEqualJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqualJSON(v, bv[k]) {
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
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// walk recursively compares two trees (read through backend), returning
// every path whose content differs, including pure additions/deletions.
func walk(backend Backend, fromID, toID plumbing.Hash) ([]leaf, error) {
	var out []leaf
	var rec func(prefix string, a, b plumbing.Hash) error
	rec = func(prefix string, a, b plumbing.Hash) error {
		if a == b {
			return nil
		}
		aEntries, err := readTreeEntries(backend, a)
		if err != nil {
			return err
		}
		bEntries, err := readTreeEntries(backend, b)
		if err != nil {
			return err
		}
		names := unionTreeNames(aEntries, bEntries)
		for _, name := range names {
			path := prefix + "/" + name
			ea, inA := aEntries[name]
			eb, inB := bEntries[name]
			switch {
			case inA && inB && ea.Kind == object.KindTree && eb.Kind == object.KindTree:
				if err := rec(path, ea.Hash, eb.Hash); err != nil {
					return err
				}
			case inA && ea.Kind == object.KindTree:
				if err := rec(path, ea.Hash, plumbing.ZeroHash); err != nil {
					return err
				}
				if inB {
					if err := rec(path, plumbing.ZeroHash, eb.Hash); err != nil {
						return err
					}
				}
			case inB && eb.Kind == object.KindTree:
				if inA {
					if err := rec(path, ea.Hash, plumbing.ZeroHash); err != nil {
						return err
					}
				}
				if err := rec(path, plumbing.ZeroHash, eb.Hash); err != nil {
					return err
				}
			default:
				l := leaf{path: path}
				if inA {
					l.oldID = ea.Hash
				}
				if inB {
					l.newID = eb.Hash
				}
				if l.oldID != l.newID {
					out = append(out, l)
				}
			}
		}
		return nil
	}
	if err := rec("", fromID, toID); err != nil {
		return nil, err
	}
	return out, nil
}

func readTreeEntries(backend Backend, id plumbing.Hash) (map[string]object.TreeEntry, error) {
	if id.IsZero() {
		return map[string]object.TreeEntry{}, nil
	}
	t, err := backend.ReadTree(id)
	if err != nil {
		return nil, err
	}
	m := make(map[string]object.TreeEntry, len(t.Entries))
	for _, e := range t.Entries {
		m[e.Name] = e
	}
	return m, nil
}

func unionTreeNames(a, b map[string]object.TreeEntry) []string {
	set := make(map[string]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
