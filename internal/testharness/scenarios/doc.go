// Package scenarios embeds the conformance scenarios run by kmod-test.
//
// Files run in name order. Scenario B comes first because it reads in
// whatever producing state the device was left in; every later scenario
// sets the state it needs.
package scenarios

import "embed"

// FS holds the scenario files at its root.
//
//go:embed *.yaml
var FS embed.FS
