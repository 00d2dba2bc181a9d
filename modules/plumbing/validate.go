package plumbing

import (
	"fmt"
	"strings"
)

// ErrBadPath is returned when a change or query path violates the path
// grammar required by the storage layer.
type ErrBadPath struct {
	Path   string
	Reason string
}

func (e *ErrBadPath) Error() string {
	return fmt.Sprintf("dogma: bad path '%s': %s", e.Path, e.Reason)
}

// IsErrBadPath reports whether err is an ErrBadPath error.
func IsErrBadPath(err error) bool {
	_, ok := err.(*ErrBadPath)
	return ok
}

// pathCharOK reports whether r is one of [A-Za-z0-9_./\-].
func pathCharOK(r byte) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '/' || r == '-':
		return true
	}
	return false
}

// ValidatePath validates an absolute, slash-rooted entry path per the data
// model: must start with '/', contain only [A-Za-z0-9_./\-], have no "//",
// no leading/trailing '.' segment, and not end with '/'.
func ValidatePath(path string) error {
	if path == "" || path[0] != '/' {
		return &ErrBadPath{Path: path, Reason: "must be absolute ('/'-rooted)"}
	}
	if len(path) > 1 && path[len(path)-1] == '/' {
		return &ErrBadPath{Path: path, Reason: "must not end with '/'"}
	}
	if strings.Contains(path, "//") {
		return &ErrBadPath{Path: path, Reason: "must not contain '//'"}
	}
	for i := 0; i < len(path); i++ {
		if !pathCharOK(path[i]) {
			return &ErrBadPath{Path: path, Reason: fmt.Sprintf("illegal character %q", path[i])}
		}
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return &ErrBadPath{Path: path, Reason: "segments must not be '.' or '..'"}
		}
		if seg != "" && (seg[0] == '.' || seg[len(seg)-1] == '.') {
			return &ErrBadPath{Path: path, Reason: "segments must not start or end with '.'"}
		}
	}
	return nil
}

// ErrBadName is returned when a project or repository name is invalid.
type ErrBadName struct {
	Name   string
	Reason string
}

func (e *ErrBadName) Error() string {
	return fmt.Sprintf("dogma: bad name '%s': %s", e.Name, e.Reason)
}

// IsErrBadName reports whether err is an ErrBadName error.
func IsErrBadName(err error) bool {
	_, ok := err.(*ErrBadName)
	return ok
}

// reservedNames are directory names used internally by the repository
// manager's on-disk layout and therefore cannot be used as project or
// repository names.
var reservedNames = map[string]bool{
	"dogma-internal": true,
	"metadata":       true,
}

// ValidateName validates a project or repository name: non-empty, only
// [A-Za-z0-9_.\-], must not start with '.', must not collide with a
// directory name reserved by the on-disk layout.
func ValidateName(name string) error {
	if name == "" {
		return &ErrBadName{Name: name, Reason: "must not be empty"}
	}
	if name[0] == '.' {
		return &ErrBadName{Name: name, Reason: "must not start with '.'"}
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		ok := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '_' || c == '.' || c == '-'
		if !ok {
			return &ErrBadName{Name: name, Reason: fmt.Sprintf("illegal character %q", c)}
		}
	}
	if reservedNames[name] {
		return &ErrBadName{Name: name, Reason: "reserved name"}
	}
	return nil
}
