package repository

import (
	"context"
	"fmt"

	"github.com/line/centraldogma-sub001/modules/object"
	"github.com/line/centraldogma-sub001/modules/pathfilter"
	"github.com/line/centraldogma-sub001/modules/plumbing"

	"github.com/tidwall/gjson"
)

// QueryKind selects how Get materializes the blob found at a path.
type QueryKind int

const (
	// QueryIdentity returns the entry exactly as Find would: a JSON value
	// or sanitized text. A directory path fails with ChangeConflict.
	QueryIdentity QueryKind = iota
	// QueryText forces the result to be returned as raw sanitized text,
	// regardless of the path's own EntryType.
	QueryText
	// QueryJSON parses the blob as JSON regardless of the path's suffix.
	QueryJSON
	// QueryJSONPath evaluates Expr (a gjson path expression) against the
	// blob's JSON content and returns the matched value.
	QueryJSONPath
)

// Query describes a single Get call.
type Query struct {
	Kind QueryKind
	Path string
	Expr string // only meaningful when Kind == QueryJSONPath
}

// DefaultMaxEntries is the cap Find applies when a caller passes maxEntries
// <= 0, matching §4.6's "max_entries (default large, honored strictly)".
const DefaultMaxEntries = 10000

// Find lists every entry under revision matching pattern, in path order,
// stopping once maxEntries have been collected (maxEntries <= 0 falls back
// to DefaultMaxEntries; callers that truly want everything should pass
// DefaultMaxEntries or a larger value explicitly). When fetchContent is
// false, directory entries and file placeholders are returned without
// reading blob bytes off the Object Store, letting a listing-only caller
// skip most of the I/O.
func (r *Repository) Find(ctx context.Context, revision int64, pattern string, fetchContent bool, maxEntries int) *Future[[]object.Entry] {
	return submitAsync(ctx, r.pool, func() ([]object.Entry, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if err := r.checkOpenLocked(); err != nil {
			return nil, err
		}
		abs, err := r.normalizeLocked(revision)
		if err != nil {
			return nil, err
		}
		treeID, err := r.treeAtLocked(abs)
		if err != nil {
			return nil, err
		}
		limit := maxEntries
		if limit <= 0 {
			limit = DefaultMaxEntries
		}
		filter := pathfilter.Compile(pattern)
		entries, err := walkTree(r.backend, treeID)
		if err != nil {
			return nil, err
		}
		var out []object.Entry
		for _, pe := range entries {
			if !filter.Matches(pe.path) {
				continue
			}
			typ := entryType(pe.path, pe.entry.Kind)
			if !fetchContent || typ == object.EntryDirectory {
				out = append(out, object.NewPlaceholderEntry(abs, pe.path, typ))
			} else {
				content, err := r.readContent(pe.path, pe.entry.Hash, typ)
				if err != nil {
					return nil, err
				}
				out = append(out, object.Entry{Revision: abs, Path: pe.path, Type: typ, Content: content})
			}
			if len(out) >= limit {
				break
			}
		}
		return out, nil
	})
}

func (r *Repository) readContent(path string, blobID plumbing.Hash, typ object.EntryType) (any, error) {
	blob, err := r.backend.ReadBlob(blobID)
	if err != nil {
		return nil, err
	}
	return contentOf(typ, blob.Data, path)
}

// Get resolves a single Query against revision.
func (r *Repository) Get(ctx context.Context, revision int64, q Query) *Future[object.Entry] {
	return submitAsync(ctx, r.pool, func() (object.Entry, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if err := r.checkOpenLocked(); err != nil {
			return object.Entry{}, err
		}
		abs, err := r.normalizeLocked(revision)
		if err != nil {
			return object.Entry{}, err
		}
		treeID, err := r.treeAtLocked(abs)
		if err != nil {
			return object.Entry{}, err
		}
		entry, ok, err := resolvePath(r.backend, treeID, q.Path)
		if err != nil {
			return object.Entry{}, err
		}
		if !ok {
			return object.Entry{}, plumbing.EntryNotFound(q.Path)
		}
		if entry.Kind == object.KindTree {
			return object.Entry{}, plumbing.ChangeConflict(fmt.Sprintf("'%s' is a directory", q.Path))
		}
		blob, err := r.backend.ReadBlob(entry.Hash)
		if err != nil {
			return object.Entry{}, err
		}
		return materializeQuery(abs, q, blob.Data)
	})
}

func materializeQuery(revision int64, q Query, raw []byte) (object.Entry, error) {
	switch q.Kind {
	case QueryText:
		return object.Entry{Revision: revision, Path: q.Path, Type: object.EntryText, Content: object.SanitizeText(string(raw))}, nil
	case QueryJSON:
		v, err := object.ParseJSON(raw)
		if err != nil {
			return object.Entry{}, plumbing.StorageError(fmt.Errorf("parse json at '%s': %w", q.Path, err))
		}
		return object.Entry{Revision: revision, Path: q.Path, Type: object.EntryJSON, Content: v}, nil
	case QueryJSONPath:
		result := gjson.GetBytes(raw, q.Expr)
		if !result.Exists() {
			return object.Entry{}, plumbing.EntryNotFound(fmt.Sprintf("%s%s", q.Path, q.Expr))
		}
		return object.Entry{Revision: revision, Path: q.Path, Type: object.EntryJSON, Content: result.Value()}, nil
	default:
		typ := object.DetermineEntryType(q.Path)
		content, err := contentOf(typ, raw, q.Path)
		if err != nil {
			return object.Entry{}, err
		}
		return object.Entry{Revision: revision, Path: q.Path, Type: typ, Content: content}, nil
	}
}

func contentOf(typ object.EntryType, raw []byte, path string) (any, error) {
	if typ == object.EntryJSON {
		v, err := object.ParseJSON(raw)
		if err != nil {
			return nil, plumbing.StorageError(fmt.Errorf("parse json at '%s': %w", path, err))
		}
		return v, nil
	}
	return object.SanitizeText(string(raw)), nil
}
