package afero

import (
	"github.com/spf13/afero"
)

type MemMapFs struct {
	*afero.MemMapFs
}

var _ Fs = (*MemMapFs)(nil)

func NewMemMapFs() Fs {
	return &MemMapFs{
		MemMapFs: afero.NewMemMapFs().(*afero.MemMapFs),
	}
}
