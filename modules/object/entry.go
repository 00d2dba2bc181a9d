// Package object defines Central Dogma's data model: entries, changes,
// trees, commits and the JSON/text canonicalization rules shared by the
// Change Applier and Diff Engine.
package object

import "strings"

// EntryType classifies an Entry's content. It is determined solely by the
// entry's path, never by its content.
type EntryType int

const (
	EntryJSON EntryType = iota
	EntryText
	EntryDirectory
)

func (t EntryType) String() string {
	switch t {
	case EntryJSON:
		return "JSON"
	case EntryText:
		return "TEXT"
	case EntryDirectory:
		return "DIRECTORY"
	default:
		return "UNKNOWN"
	}
}

// DetermineEntryType implements the data model's type-by-suffix rule:
// ".json" -> JSON, a path ending in '/' -> DIRECTORY, anything else -> TEXT.
func DetermineEntryType(path string) EntryType {
	if strings.HasSuffix(path, "/") {
		return EntryDirectory
	}
	if strings.HasSuffix(path, ".json") {
		return EntryJSON
	}
	return EntryText
}

// Entry is a materialized (revision, path, type, content) tuple returned by
// Find and Get. Content is nil for DIRECTORY entries, the canonically
// parsed JSON value for JSON entries, and the sanitized text for TEXT
// entries; when fetchContent is false it holds a type-appropriate
// placeholder instead (see NewPlaceholderEntry).
type Entry struct {
	Revision int64     `json:"revision"`
	Path     string    `json:"path"`
	Type     EntryType `json:"type"`
	Content  any       `json:"content,omitempty"`
}

// NewPlaceholderEntry builds an Entry whose Content is a cheap,
// type-appropriate placeholder, used when the caller asked for metadata
// only (Find's fetchContent=false).
func NewPlaceholderEntry(revision int64, path string, typ EntryType) Entry {
	var content any
	switch typ {
	case EntryJSON:
		content = map[string]any{}
	case EntryText:
		content = ""
	}
	return Entry{Revision: revision, Path: path, Type: typ, Content: content}
}
