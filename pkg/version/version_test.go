package version

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string // empty when Parse must fail
	}{
		{"0.01", "0.1"},
		{"1.0", "1.0"},
		{"10.23", "10.23"},
		{" 2.0\n", "2.0"},
		{"", ""},
		{"1", ""},
		{"abc", ""},
		{"1.0.0", ""},
		{"1.x", ""},
		{"-1.0", ""},
		{".1", ""},
		{"70000.0", ""},
	}
	for _, tt := range tests {
		v, err := Parse(tt.in)
		switch {
		case tt.want == "" && err == nil:
			t.Errorf("Parse(%q) = %v, want an error", tt.in, v)
		case tt.want != "" && err != nil:
			t.Errorf("Parse(%q): %v", tt.in, err)
		case tt.want != "" && v.String() != tt.want:
			t.Errorf("Parse(%q) = %v, want %s", tt.in, v, tt.want)
		}
	}
}

func TestCheckSupported(t *testing.T) {
	if err := CheckSupported("0.02"); err != nil {
		t.Errorf("0.02 should be compatible: %v", err)
	}
	if err := CheckSupported("1.0"); err == nil {
		t.Error("1.0 should not be compatible")
	}
	if err := CheckSupported("x"); err == nil {
		t.Error("malformed version should fail")
	}
}

func TestReadModule(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "kmod_fcntl"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "kmod_fcntl", "version"), []byte("0.01\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := ReadModule(root, "kmod_fcntl")
	if err != nil {
		t.Fatalf("ReadModule: %v", err)
	}
	if v != (ModuleVersion{Major: 0, Minor: 1}) {
		t.Errorf("version = %v", v)
	}

	if _, err := ReadModule(root, "missing"); err == nil {
		t.Error("expected an error for a module that is not loaded")
	}
}

func TestString(t *testing.T) {
	if !strings.Contains(String(), Supported) {
		t.Errorf("String() = %q should name the supported module version", String())
	}
}
