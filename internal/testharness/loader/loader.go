package loader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseTestCase decodes one test case and checks that it has an ID and
// that every step names an action.
func ParseTestCase(data []byte) (*TestCase, error) {
	tc := new(TestCase)
	if err := yaml.Unmarshal(data, tc); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	switch {
	case tc.ID == "":
		return nil, &LoadError{Message: "test case ID is required"}
	case len(tc.Steps) == 0:
		return nil, &LoadError{Message: "test case must have at least one step"}
	}
	if i := slices.IndexFunc(tc.Steps, func(s Step) bool { return s.Action == "" }); i >= 0 {
		return nil, &LoadError{Message: fmt.Sprintf("step %d has no action", i)}
	}
	return tc, nil
}

// LoadTestCase reads and parses the test case in file.
func LoadTestCase(file string) (*TestCase, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &LoadError{File: file, Message: "failed to read file", Cause: err}
	}
	tc, err := ParseTestCase(data)
	return tc, inFile(err, file)
}

// LoadDirectory loads every .yaml and .yml file directly inside dir,
// sorted by file name. Subdirectories are not descended into.
func LoadDirectory(dir string) ([]*TestCase, error) {
	cases, err := LoadFS(os.DirFS(dir), ".")
	if le := (*LoadError)(nil); errors.As(err, &le) {
		le.File = filepath.Join(dir, le.File)
	}
	return cases, err
}

// LoadFS is LoadDirectory for a directory inside fsys, such as the
// scenarios compiled into the binary.
func LoadFS(fsys fs.FS, dir string) ([]*TestCase, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, &LoadError{File: dir, Message: "failed to read directory", Cause: err}
	}
	var cases []*TestCase
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		name := path.Join(dir, e.Name())
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, &LoadError{File: name, Message: "failed to read file", Cause: err}
		}
		tc, err := ParseTestCase(data)
		if err != nil {
			return nil, inFile(err, name)
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

// CheckDuplicateIDs fails with the sorted list of IDs used more than once.
func CheckDuplicateIDs(cases []*TestCase) error {
	count := make(map[string]int, len(cases))
	var dups []string
	for _, tc := range cases {
		if count[tc.ID]++; count[tc.ID] == 2 {
			dups = append(dups, tc.ID)
		}
	}
	if dups == nil {
		return nil
	}
	slices.Sort(dups)
	return &LoadError{Message: "duplicate test IDs: " + strings.Join(dups, ", ")}
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// inFile attributes err to file.
func inFile(err error, file string) error {
	if err == nil {
		return nil
	}
	var le *LoadError
	if !errors.As(err, &le) {
		return &LoadError{File: file, Message: err.Error()}
	}
	le.File = file
	return le
}

// LoadProfile reads a device profile. Unless the file names the profile,
// it is named after the file.
func LoadProfile(file string) (*Profile, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &LoadError{File: file, Message: "failed to read profile", Cause: err}
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, inFile(err, file)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	return p, nil
}

// ParseProfile accepts either YAML with device and items sections or
// plain key=value lines.
func ParseProfile(data []byte) (*Profile, error) {
	if !looksLikeYAML(data) {
		return parseKeyValues(data)
	}
	p := new(Profile)
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML profile", Cause: err}
	}
	if p.Items == nil {
		p.Items = make(map[string]any)
	}
	return p, nil
}

// looksLikeYAML decides on the first line that is neither blank nor a
// comment and has a top-level section or an assignment.
func looksLikeYAML(data []byte) bool {
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || line[0] == '#':
		case strings.HasPrefix(line, "items:"), strings.HasPrefix(line, "device:"):
			return true
		case strings.Contains(line, "=") && !strings.Contains(line, ":"):
			return false
		}
	}
	return false
}

func parseKeyValues(data []byte) (*Profile, error) {
	p := &Profile{Items: make(map[string]any)}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &LoadError{Line: n, Message: "invalid profile line: " + line}
		}
		p.Items[strings.TrimSpace(key)] = scalar(strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, &LoadError{Message: "failed to read profile", Cause: err}
	}
	return p, nil
}

// scalar types a key=value profile value: bool, int, float64 or string.
func scalar(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// CheckRequirements reports whether p has every required item. A boolean
// item must also be true.
func CheckRequirements(p *Profile, requirements []string) bool {
	for _, req := range requirements {
		v, ok := p.Items[req]
		if b, isBool := v.(bool); !ok || isBool && !b {
			return false
		}
	}
	return true
}

// ValidateProfile lists the items whose values cannot describe a device.
func ValidateProfile(p *Profile) []*ValidationError {
	if p == nil {
		return nil
	}
	var errs []*ValidationError
	report := func(level ValidationLevel, field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Level: level, Message: fmt.Sprintf(format, args...)})
	}

	interval, hasInterval := GetInt(p.Items, "interval_ms")
	if v, ok := p.Items["interval_ms"]; ok && (!hasInterval || interval <= 0) {
		report(ValidationLevelError, "interval_ms", "must be a positive integer, got %v", v)
	}
	if tol, ok := GetInt(p.Items, "tolerance_ms"); ok && interval > 0 && tol >= interval {
		report(ValidationLevelWarning, "tolerance_ms", "tolerance %dms swallows the whole %dms interval", tol, interval)
	}
	if s, ok := p.Items["message"].(string); ok && len(s) != 1 {
		report(ValidationLevelError, "message", "must be a single byte, got %q", s)
	}
	return errs
}

// GetInt returns an integer item. YAML numbers may arrive as int, int64 or
// float64.
func GetInt(items map[string]any, key string) (int, bool) {
	switch n := items[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
