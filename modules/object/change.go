package object

import (
	"fmt"

	"github.com/line/centraldogma-sub001/modules/plumbing"
)

// ChangeType enumerates the tagged variants a Change can take. The same
// type is produced both by callers building a commit command and by the
// Diff Engine synthesizing the delta between two trees.
type ChangeType int

const (
	UpsertJSON ChangeType = iota
	UpsertText
	ApplyJSONPatch
	ApplyTextPatch
	Rename
	Remove
	RemoveIfExists
)

func (t ChangeType) String() string {
	switch t {
	case UpsertJSON:
		return "UPSERT_JSON"
	case UpsertText:
		return "UPSERT_TEXT"
	case ApplyJSONPatch:
		return "APPLY_JSON_PATCH"
	case ApplyTextPatch:
		return "APPLY_TEXT_PATCH"
	case Rename:
		return "RENAME"
	case Remove:
		return "REMOVE"
	case RemoveIfExists:
		return "REMOVE_IF_EXISTS"
	default:
		return "UNKNOWN"
	}
}

// Change is a single tagged operation against an entry. Fields are
// populated according to Type:
//
//	UpsertJSON       Path, JSON
//	UpsertText       Path, Text
//	ApplyJSONPatch   Path, JSON (RFC 6902-like patch operations)
//	ApplyTextPatch   Path, OldText, Text
//	Rename           OldPath, Path
//	Remove           Path
//	RemoveIfExists   Path
type Change struct {
	Type    ChangeType `json:"type"`
	Path    string     `json:"path"`
	OldPath string     `json:"oldPath,omitempty"`
	JSON    any        `json:"content,omitempty"`
	Text    string     `json:"text,omitempty"`
	OldText string     `json:"oldText,omitempty"`
	// UnifiedDiff is populated only by the Diff Engine for a TEXT
	// APPLY_TEXT_PATCH it synthesizes, as a human-readable rendering of
	// OldText -> Text; it carries no semantic weight for Apply.
	UnifiedDiff string `json:"unifiedDiff,omitempty"`
}

func (c Change) String() string {
	switch c.Type {
	case Rename:
		return fmt.Sprintf("RENAME %s -> %s", c.OldPath, c.Path)
	default:
		return fmt.Sprintf("%s %s", c.Type, c.Path)
	}
}

// UpsertJSONChange builds an UPSERT_JSON change from a parsed JSON value.
func UpsertJSONChange(path string, v any) Change {
	return Change{Type: UpsertJSON, Path: path, JSON: v}
}

// UpsertTextChange builds an UPSERT_TEXT change.
func UpsertTextChange(path, text string) Change {
	return Change{Type: UpsertText, Path: path, Text: text}
}

// ApplyJSONPatchChange builds an APPLY_JSON_PATCH change. patch is a
// sequence of RFC 6902-style operations plus the safe_replace,
// remove_if_exists and test_absence extensions.
func ApplyJSONPatchChange(path string, patch any) Change {
	return Change{Type: ApplyJSONPatch, Path: path, JSON: patch}
}

// ApplyTextPatchChange builds an APPLY_TEXT_PATCH change.
func ApplyTextPatchChange(path, oldText, newText string) Change {
	return Change{Type: ApplyTextPatch, Path: path, OldText: oldText, Text: newText}
}

// RenameChange builds a RENAME change.
func RenameChange(from, to string) Change {
	return Change{Type: Rename, OldPath: from, Path: to}
}

// RemoveChange builds a REMOVE change.
func RemoveChange(path string) Change {
	return Change{Type: Remove, Path: path}
}

// RemoveIfExistsChange builds a REMOVE_IF_EXISTS change.
func RemoveIfExistsChange(path string) Change {
	return Change{Type: RemoveIfExists, Path: path}
}

// ValidateBatch enforces the data-model invariant that a path occurs at
// most once in a change batch's final effect and that every path involved
// is well formed.
func ValidateBatch(changes []Change) error {
	final := make(map[string]bool, len(changes))
	touch := func(p string) error {
		if err := plumbing.ValidatePath(p); err != nil {
			return err
		}
		if final[p] {
			return plumbing.ChangeConflict(fmt.Sprintf("path '%s' is targeted more than once in the same commit", p))
		}
		final[p] = true
		return nil
	}
	for _, c := range changes {
		switch c.Type {
		case Rename:
			if err := plumbing.ValidatePath(c.OldPath); err != nil {
				return err
			}
			if err := touch(c.Path); err != nil {
				return err
			}
		default:
			if err := touch(c.Path); err != nil {
				return err
			}
		}
	}
	return nil
}
