package runner

import (
	"path"
	"slices"
	"strings"

	"github.com/kmodtest/kmodfcntl-go/internal/testharness/loader"
)

// filterByPattern keeps the cases whose ID or name matches one of the
// comma-separated globs in pattern, e.g. "TC-FCNTL-A,*HANG".
func filterByPattern(cases []*loader.TestCase, pattern string) []*loader.TestCase {
	globs := splitList(pattern)
	return keep(cases, len(globs) == 0, func(tc *loader.TestCase) bool {
		return slices.ContainsFunc(globs, func(g string) bool {
			return matchPattern(tc.ID, g) || matchPattern(tc.Name, g)
		})
	})
}

// filterByTags keeps the cases carrying any of the listed tags.
func filterByTags(cases []*loader.TestCase, tags string) []*loader.TestCase {
	wanted := splitList(tags)
	return keep(cases, len(wanted) == 0, func(tc *loader.TestCase) bool {
		return tagged(tc, wanted)
	})
}

// filterByExcludeTags drops the cases carrying any of the listed tags.
func filterByExcludeTags(cases []*loader.TestCase, tags string) []*loader.TestCase {
	unwanted := splitList(tags)
	return keep(cases, len(unwanted) == 0, func(tc *loader.TestCase) bool {
		return !tagged(tc, unwanted)
	})
}

func keep(cases []*loader.TestCase, all bool, match func(*loader.TestCase) bool) []*loader.TestCase {
	if all {
		return cases
	}
	var out []*loader.TestCase
	for _, tc := range cases {
		if match(tc) {
			out = append(out, tc)
		}
	}
	return out
}

func tagged(tc *loader.TestCase, tags []string) bool {
	return slices.ContainsFunc(tc.Tags, func(t string) bool { return slices.Contains(tags, t) })
}

func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// matchPattern reports whether name matches the shell glob pattern,
// ignoring case. A malformed pattern is compared literally.
func matchPattern(name, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	name, pattern = strings.ToUpper(name), strings.ToUpper(pattern)
	if ok, err := path.Match(pattern, name); err == nil {
		return ok
	}
	return name == pattern
}
