package dataset

import (
	"github.com/sgl-project/sft-agent/pkg/afero"
)

// Discover returns, in list order, the paths that exist as regular files.
// Paths that cannot be stat'ed are treated as absent.
func Discover(fs afero.Fs, paths []string) []string {
	var present []string
	for _, p := range paths {
		if ok, err := afero.IsRegularFile(fs, p); err == nil && ok {
			present = append(present, p)
		}
	}
	return present
}
