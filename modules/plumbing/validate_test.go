package plumbing

import "testing"

func TestValidatePath(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"/a.json", true},
		{"/a/b/c.txt", true},
		{"/", true},
		{"a.json", false},
		{"/a//b.json", false},
		{"/a.json/", false},
		{"/./a.json", false},
		{"/a./b.json", false},
		{"/a$.json", false},
	}
	for _, c := range cases {
		err := ValidatePath(c.path)
		if c.ok && err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", c.path, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", c.path)
		}
		if err != nil && !IsErrBadPath(err) {
			t.Errorf("ValidatePath(%q) error is not ErrBadPath: %v", c.path, err)
		}
	}
}

func TestValidateName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"proj", true},
		{"my-repo_1.0", true},
		{"", false},
		{".hidden", false},
		{"bad name", false},
		{"metadata", false},
	}
	for _, c := range cases {
		err := ValidateName(c.name)
		if c.ok && err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", c.name)
		}
	}
}

func TestHashRoundTrip(t *testing.T) {
	h := SumBytes([]byte("hello"))
	s := h.String()
	if NewHash(s) != h {
		t.Fatalf("hash did not round-trip through hex: %s", s)
	}
	if ZeroHash.IsZero() != true {
		t.Fatalf("ZeroHash.IsZero() = false")
	}
	if h.IsZero() {
		t.Fatalf("non-zero hash reported IsZero")
	}
}
