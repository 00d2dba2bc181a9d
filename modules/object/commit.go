package object

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/line/centraldogma-sub001/modules/plumbing"
)

var commitMagic = [4]byte{'D', 'C', 'M', 1}

// Markup enumerates the commit message's detail rendering hint.
type Markup string

const (
	MarkupPlaintext Markup = "PLAINTEXT"
	MarkupMarkdown  Markup = "MARKDOWN"
)

// Message is the JSON object encoded into a commit's message body. The
// revision is redundant with the Commit Index but kept here too, so a
// commit object is self-describing when read directly off the ref walk.
type Message struct {
	Summary  string `json:"summary"`
	Detail   string `json:"detail"`
	Markup   Markup `json:"markup"`
	Revision int64  `json:"revision"`
}

// Commit is one node in a repository's linear history.
type Commit struct {
	Hash      plumbing.Hash
	Author    string
	Email     string
	When      time.Time
	Parent    plumbing.Hash // zero when HasParent is false: revision 1, or the root of a compacted history
	HasParent bool
	Tree      plumbing.Hash
	Message   Message
}

// Encode returns the canonical, content-addressable byte representation.
// Hash is excluded: it is the hash of everything else.
func (c *Commit) Encode() ([]byte, error) {
	msg, err := json.Marshal(c.Message)
	if err != nil {
		return nil, fmt.Errorf("dogma: encode commit message: %w", err)
	}
	out := make([]byte, 0, 128+len(msg))
	out = append(out, commitMagic[:]...)
	out = append(out, c.Tree[:]...)
	if c.HasParent {
		out = append(out, 1)
		out = append(out, c.Parent[:]...)
	} else {
		out = append(out, 0)
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], c.When.UnixNano())
	out = append(out, buf[:n]...)
	out = appendLenPrefixed(out, []byte(c.Author))
	out = appendLenPrefixed(out, []byte(c.Email))
	out = appendLenPrefixed(out, msg)
	return out, nil
}

func appendLenPrefixed(out, b []byte) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(b)))
	out = append(out, buf[:n]...)
	return append(out, b...)
}

func readLenPrefixed(buf []byte) (value []byte, rest []byte, err error) {
	l, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, nil, errBadMagic("commit")
	}
	buf = buf[n:]
	if uint64(len(buf)) < l {
		return nil, nil, errBadMagic("commit")
	}
	return buf[:l], buf[l:], nil
}

// DecodeCommit parses the on-disk representation produced by Encode. The
// caller is responsible for setting Hash to the id under which this byte
// string was looked up.
func DecodeCommit(raw []byte) (*Commit, error) {
	if len(raw) < len(commitMagic) || [4]byte(raw[:4]) != commitMagic {
		return nil, errBadMagic("commit")
	}
	buf := raw[len(commitMagic):]
	if len(buf) < plumbing.HashSize+1 {
		return nil, errBadMagic("commit")
	}
	c := &Commit{}
	copy(c.Tree[:], buf[:plumbing.HashSize])
	buf = buf[plumbing.HashSize:]
	hasParent := buf[0] == 1
	buf = buf[1:]
	c.HasParent = hasParent
	if hasParent {
		if len(buf) < plumbing.HashSize {
			return nil, errBadMagic("commit")
		}
		copy(c.Parent[:], buf[:plumbing.HashSize])
		buf = buf[plumbing.HashSize:]
	}
	whenNanos, n := binary.Varint(buf)
	if n <= 0 {
		return nil, errBadMagic("commit")
	}
	buf = buf[n:]
	c.When = time.Unix(0, whenNanos).UTC()

	author, buf, err := readLenPrefixed(buf)
	if err != nil {
		return nil, err
	}
	c.Author = string(author)

	email, buf, err := readLenPrefixed(buf)
	if err != nil {
		return nil, err
	}
	c.Email = string(email)

	msgBytes, _, err := readLenPrefixed(buf)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(msgBytes, &c.Message); err != nil {
		return nil, fmt.Errorf("dogma: decode commit message: %w", err)
	}
	return c, nil
}
