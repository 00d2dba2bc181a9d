// Package applier implements the Change Applier: given an optional previous
// tree and an ordered batch of Changes, it produces the new tree and
// reports how many changes actually mutated it (used by the Repository
// Core to detect a redundant commit).
package applier

import (
	"fmt"
	"strings"

	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// Backend is the subset of the Object Store the applier needs to read
// existing content and persist the new tree.
type Backend interface {
	ReadTree(id plumbing.Hash) (*object.Tree, error)
	ReadBlob(id plumbing.Hash) (*object.Blob, error)
	PutBlob(data []byte) (plumbing.Hash, error)
	PutTree(entries []object.TreeEntry) (plumbing.Hash, error)
}

// dirNode is one lazily-materialized directory level of the working tree
// being mutated in memory before it is flushed back to the object store.
type dirNode struct {
	children map[string]*childRef
	loaded   bool
	origHash plumbing.Hash // zero if this directory is new
	changed  bool          // a child was removed or renamed away/in
}

type childRef struct {
	kind object.TreeEntryKind
	// For an unmodified child, hash is its persisted object id and dir/
	// blobData are nil until needed.
	hash  plumbing.Hash
	dirty bool
	dir   *dirNode // non-nil only for directories
	blob  []byte   // pending raw bytes for a dirty blob
}

func newDir() *dirNode {
	return &dirNode{children: map[string]*childRef{}, loaded: true}
}

func loadDir(b Backend, id plumbing.Hash) (*dirNode, error) {
	if id.IsZero() {
		return newDir(), nil
	}
	t, err := b.ReadTree(id)
	if err != nil {
		return nil, err
	}
	d := &dirNode{children: map[string]*childRef{}, loaded: true, origHash: id}
	for _, e := range t.Entries {
		d.children[e.Name] = &childRef{kind: e.Kind, hash: e.Hash}
	}
	return d, nil
}

func (d *dirNode) ensureSubdir(b Backend, name string) (*dirNode, error) {
	c, ok := d.children[name]
	if !ok {
		sub := newDir()
		d.children[name] = &childRef{kind: object.KindTree, dirty: true, dir: sub}
		return sub, nil
	}
	if c.kind != object.KindTree {
		return nil, plumbing.ChangeConflict(fmt.Sprintf("'%s' exists and is not a directory", name))
	}
	if c.dir == nil {
		sub, err := loadDir(b, c.hash)
		if err != nil {
			return nil, err
		}
		c.dir = sub
	}
	return c.dir, nil
}

// Applier applies change batches against an object-store-backed tree.
type Applier struct {
	backend Backend
}

// New returns an Applier bound to backend.
func New(backend Backend) *Applier {
	return &Applier{backend: backend}
}

// Result is the outcome of an Apply call.
type Result struct {
	TreeID   plumbing.Hash
	NumEdits int
}

// Apply starts from previousTreeID (the zero hash for an empty tree) and
// applies changes in order, returning the new tree id and the number of
// edits that actually mutated the tree. A redundant commit -- zero edits,
// or edits that collectively leave the tree byte-identical -- is signaled
// by TreeID == previousTreeID (possibly with NumEdits > 0).
func (a *Applier) Apply(previousTreeID plumbing.Hash, changes []object.Change) (Result, error) {
	if err := object.ValidateBatch(changes); err != nil {
		return Result{}, err
	}
	root, err := loadDir(a.backend, previousTreeID)
	if err != nil {
		return Result{}, err
	}
	numEdits := 0
	for _, c := range changes {
		edited, err := a.applyOne(root, c)
		if err != nil {
			return Result{}, err
		}
		if edited {
			numEdits++
		}
	}
	newTreeID, err := a.flush(root)
	if err != nil {
		return Result{}, err
	}
	return Result{TreeID: newTreeID, NumEdits: numEdits}, nil
}

func splitPath(path string) (dirs []string, base string) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.Split(trimmed, "/")
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// resolveParent walks (creating, if create is true) the directories named
// by dirs starting at root.
func (a *Applier) resolveParent(root *dirNode, dirs []string, create bool) (*dirNode, error) {
	cur := root
	for _, seg := range dirs {
		if create {
			next, err := cur.ensureSubdir(a.backend, seg)
			if err != nil {
				return nil, err
			}
			cur = next
			continue
		}
		c, ok := cur.children[seg]
		if !ok || c.kind != object.KindTree {
			return nil, plumbing.EntryNotFound("/" + strings.Join(dirs, "/"))
		}
		next, err := cur.ensureSubdir(a.backend, seg)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (a *Applier) applyOne(root *dirNode, c object.Change) (bool, error) {
	switch c.Type {
	case object.UpsertJSON:
		raw, err := object.CanonicalJSONBytes(c.JSON)
		if err != nil {
			return false, plumbing.ChangeConflict(fmt.Sprintf("invalid json for '%s': %v", c.Path, err))
		}
		return a.setBlob(root, c.Path, raw)
	case object.UpsertText:
		raw := []byte(object.SanitizeText(c.Text))
		return a.setBlob(root, c.Path, raw)
	case object.ApplyJSONPatch:
		return a.applyJSONPatch(root, c)
	case object.ApplyTextPatch:
		return a.applyTextPatch(root, c)
	case object.Rename:
		return a.rename(root, c.OldPath, c.Path)
	case object.Remove:
		return a.remove(root, c.Path, false)
	case object.RemoveIfExists:
		return a.remove(root, c.Path, true)
	default:
		return false, plumbing.ChangeConflict(fmt.Sprintf("unknown change type %v", c.Type))
	}
}

// setBlob writes raw bytes at path, creating parent directories as needed.
// Returns true if the content actually differs from what was there.
func (a *Applier) setBlob(root *dirNode, path string, raw []byte) (bool, error) {
	dirs, base := splitPath(path)
	parent, err := a.resolveParent(root, dirs, true)
	if err != nil {
		return false, err
	}
	existing, ok := parent.children[base]
	if ok && existing.kind == object.KindTree {
		return false, plumbing.ChangeConflict(fmt.Sprintf("'%s' is a directory", path))
	}
	if ok && !existing.dirty {
		old, err := a.backend.ReadBlob(existing.hash)
		if err != nil {
			return false, err
		}
		if string(old.Data) == string(raw) {
			return false, nil
		}
	} else if ok && existing.dirty && string(existing.blob) == string(raw) {
		return false, nil
	}
	parent.children[base] = &childRef{kind: object.KindBlob, dirty: true, blob: raw}
	return true, nil
}

func (a *Applier) readBlobAt(root *dirNode, path string) ([]byte, error) {
	dirs, base := splitPath(path)
	parent, err := a.resolveParent(root, dirs, false)
	if err != nil {
		return nil, err
	}
	c, ok := parent.children[base]
	if !ok {
		return nil, plumbing.EntryNotFound(path)
	}
	if c.kind != object.KindBlob {
		return nil, plumbing.ChangeConflict(fmt.Sprintf("'%s' is a directory", path))
	}
	if c.dirty {
		return c.blob, nil
	}
	b, err := a.backend.ReadBlob(c.hash)
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}

func (a *Applier) applyTextPatch(root *dirNode, c object.Change) (bool, error) {
	cur, err := a.readBlobAt(root, c.Path)
	if err != nil {
		return false, err
	}
	if object.SanitizeText(string(cur)) != object.SanitizeText(c.OldText) {
		return false, plumbing.ChangeConflict(fmt.Sprintf("text patch on '%s' does not match current content", c.Path))
	}
	newRaw := []byte(object.SanitizeText(c.Text))
	return a.setBlob(root, c.Path, newRaw)
}

func (a *Applier) applyJSONPatch(root *dirNode, c object.Change) (bool, error) {
	cur, err := a.readBlobAt(root, c.Path)
	if err != nil {
		return false, err
	}
	parsed, err := object.ParseJSON(cur)
	if err != nil {
		return false, plumbing.StorageError(err)
	}
	ops, ok := c.JSON.([]any)
	if !ok {
		return false, plumbing.ChangeConflict(fmt.Sprintf("json patch for '%s' must be an operation array", c.Path))
	}
	result, err := ApplyPatch(parsed, ops)
	if err != nil {
		return false, err
	}
	raw, err := object.CanonicalJSONBytes(result)
	if err != nil {
		return false, plumbing.StorageError(err)
	}
	return a.setBlob(root, c.Path, raw)
}

func (a *Applier) rename(root *dirNode, from, to string) (bool, error) {
	fromDirs, fromBase := splitPath(from)
	fromParent, err := a.resolveParent(root, fromDirs, false)
	if err != nil {
		return false, err
	}
	child, ok := fromParent.children[fromBase]
	if !ok {
		return false, plumbing.EntryNotFound(from)
	}
	toDirs, toBase := splitPath(to)
	toParent, err := a.resolveParent(root, toDirs, true)
	if err != nil {
		return false, err
	}
	if _, exists := toParent.children[toBase]; exists {
		return false, plumbing.ChangeConflict(fmt.Sprintf("rename target '%s' already exists", to))
	}
	delete(fromParent.children, fromBase)
	toParent.children[toBase] = child
	fromParent.changed = true
	toParent.changed = true
	return true, nil
}

func (a *Applier) remove(root *dirNode, path string, ifExists bool) (bool, error) {
	dirs, base := splitPath(path)
	parent, err := a.resolveParent(root, dirs, false)
	if err != nil {
		if ifExists && plumbing.IsEntryNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if _, ok := parent.children[base]; !ok {
		if ifExists {
			return false, nil
		}
		return false, plumbing.EntryNotFound(path)
	}
	delete(parent.children, base)
	parent.changed = true
	return true, nil
}

// flush recursively persists dirty subtrees bottom-up and returns the root
// tree id. A directory whose contents are unchanged and already persisted
// is not rewritten.
func (a *Applier) flush(d *dirNode) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(d.children))
	anyDirty := false
	for name, c := range d.children {
		if c.kind == object.KindTree {
			if c.dir != nil {
				id, err := a.flush(c.dir)
				if err != nil {
					return plumbing.ZeroHash, err
				}
				if id != c.hash {
					anyDirty = true
				}
				c.hash = id
				c.dirty = false
				c.dir = nil
			}
			entries = append(entries, object.TreeEntry{Name: name, Kind: object.KindTree, Hash: c.hash})
			continue
		}
		if c.dirty {
			id, err := a.backend.PutBlob(c.blob)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			c.hash = id
			c.blob = nil
			c.dirty = false
			anyDirty = true
		}
		entries = append(entries, object.TreeEntry{Name: name, Kind: object.KindBlob, Hash: c.hash})
	}
	if !anyDirty && !d.changed && d.loaded && !d.origHash.IsZero() {
		return d.origHash, nil
	}
	if len(entries) == 0 {
		return plumbing.ZeroHash, nil
	}
	id, err := a.backend.PutTree(entries)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return id, nil
}
