package afero

import "github.com/spf13/afero"

// Glob returns the names of all files matching pattern, or nil if none match.
// File system errors are ignored; only ErrBadPattern is returned.
func Glob(fs Fs, pattern string) (matches []string, err error) {
	return afero.Glob(fs, pattern)
}
