//go:build !linux

package chardev

// OpenFile is only implemented on Linux. Use WithOpener to supply another
// descriptor source.
func OpenFile(path string) (File, error) {
	return nil, ErrUnsupportedPlatform
}
