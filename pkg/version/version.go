// Package version provides the harness version and parsing of kernel module
// versions as reported by modinfo and sysfs.
package version

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Harness is the harness build version, set with
// -ldflags "-X github.com/kmodtest/kmodfcntl-go/pkg/version.Harness=v1.2.3".
var Harness = "dev"

// Supported is the module version the built-in scenarios were written
// against.
const Supported = "0.01"

// SysfsRoot is where loaded modules publish their attributes.
const SysfsRoot = "/sys/module"

// ModuleVersion is a "major.minor" module version. Modules with the same
// major version are compatible.
type ModuleVersion struct {
	Major, Minor uint16
}

// Parse reads a "major.minor" version, tolerating surrounding whitespace
// and a zero-padded minor such as "0.01".
func Parse(s string) (ModuleVersion, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return ModuleVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}
	maj, err1 := strconv.ParseUint(major, 10, 16)
	mnr, err2 := strconv.ParseUint(minor, 10, 16)
	if err := errors.Join(err1, err2); err != nil {
		return ModuleVersion{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return ModuleVersion{Major: uint16(maj), Minor: uint16(mnr)}, nil
}

func (v ModuleVersion) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

func (v ModuleVersion) Compatible(other ModuleVersion) bool { return v.Major == other.Major }

// CheckSupported reports whether s is compatible with Supported.
func CheckSupported(s string) error {
	v, err := Parse(s)
	if err != nil {
		return err
	}
	want, _ := Parse(Supported)
	if !v.Compatible(want) {
		return fmt.Errorf("module version %s is not compatible with %s", v, want)
	}
	return nil
}

// ReadModule reads the version a loaded module publishes under
// root/<module>/version. Root is normally SysfsRoot.
func ReadModule(root, module string) (ModuleVersion, error) {
	data, err := os.ReadFile(filepath.Join(root, module, "version"))
	if err != nil {
		return ModuleVersion{}, err
	}
	return Parse(string(data))
}

// String returns the harness version line printed by the commands.
func String() string {
	return fmt.Sprintf("%s (scenarios for module %s)", Harness, Supported)
}
