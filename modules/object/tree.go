package object

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/line/centraldogma-sub001/modules/plumbing"
)

var treeMagic = [4]byte{'D', 'T', 'R', 1}

func errBadMagic(kind string) error {
	return fmt.Errorf("dogma: malformed %s object (bad magic)", kind)
}

// TreeEntryKind distinguishes a file entry (addressed as a Blob) from a
// subdirectory entry (addressed as another Tree).
type TreeEntryKind int8

const (
	KindBlob TreeEntryKind = iota
	KindTree
)

// TreeEntry is one named child of a Tree: either a file (Blob) or a
// subdirectory (another Tree), identified by content hash.
type TreeEntry struct {
	Name string
	Kind TreeEntryKind
	Hash plumbing.Hash
}

// Tree is one directory level: a sorted set of named entries. Full
// hierarchies are built by nesting Tree objects exactly one level at a
// time, exactly as a content-addressed object store represents
// directories.
type Tree struct {
	Entries []TreeEntry
}

// Sort orders entries by name, the canonical order required for
// deterministic content hashing.
func (t *Tree) Sort() {
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].Name < t.Entries[j].Name })
}

// Find returns the entry named name, or false if absent.
func (t *Tree) Find(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Encode returns the canonical, content-addressable byte representation of
// the tree. Entries must already be sorted (callers use Sort before
// persisting).
func (t *Tree) Encode() []byte {
	out := make([]byte, 0, 64*len(t.Entries)+4)
	out = append(out, treeMagic[:]...)
	var lenBuf [binary.MaxVarintLen64]byte
	for _, e := range t.Entries {
		out = append(out, byte(e.Kind))
		out = append(out, e.Hash[:]...)
		n := binary.PutUvarint(lenBuf[:], uint64(len(e.Name)))
		out = append(out, lenBuf[:n]...)
		out = append(out, e.Name...)
	}
	return out
}

// DecodeTree parses the on-disk representation produced by Encode.
func DecodeTree(raw []byte) (*Tree, error) {
	if len(raw) < len(treeMagic) || [4]byte(raw[:4]) != treeMagic {
		return nil, errBadMagic("tree")
	}
	buf := raw[len(treeMagic):]
	var entries []TreeEntry
	for len(buf) > 0 {
		if len(buf) < 1+plumbing.HashSize {
			return nil, errBadMagic("tree")
		}
		kind := TreeEntryKind(buf[0])
		var h plumbing.Hash
		copy(h[:], buf[1:1+plumbing.HashSize])
		buf = buf[1+plumbing.HashSize:]
		nameLen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errBadMagic("tree")
		}
		buf = buf[n:]
		if uint64(len(buf)) < nameLen {
			return nil, errBadMagic("tree")
		}
		name := string(buf[:nameLen])
		buf = buf[nameLen:]
		entries = append(entries, TreeEntry{Name: name, Kind: kind, Hash: h})
	}
	return &Tree{Entries: entries}, nil
}
