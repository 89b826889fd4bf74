package symsrv

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/jtang613/pdbreader/pkg/pdb"
	"github.com/jtang613/pdbreader/pkg/provider"
)

var _ provider.Opener = (*Opener)(nil)

// Opener opens file-backed provider sessions, either from a PDB path or from an
// executable located through a search path.
type Opener struct {
	fs      afero.Fs
	locator *Locator
	logger  zerolog.Logger
}

// NewOpener creates an Opener.
func NewOpener(opts ...Option) *Opener {
	o := newOptions(opts)
	return &Opener{
		fs:      o.fs,
		locator: NewLocator(opts...),
		logger:  o.logger,
	}
}

// OpenFile opens the PDB at path.
func (o *Opener) OpenFile(path string) (provider.Session, error) {
	f, err := pdb.OpenFs(o.fs, path, pdb.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenExecutable opens the PDB matching exePath. Downloads are not cancellable
// through this method; use OpenExecutableContext for that.
func (o *Opener) OpenExecutable(exePath, searchPath string) (provider.Session, error) {
	return o.OpenExecutableContext(context.Background(), exePath, searchPath)
}

// OpenExecutableContext is OpenExecutable with a context for downloads.
func (o *Opener) OpenExecutableContext(ctx context.Context, exePath, searchPath string) (provider.Session, error) {
	path, err := o.locator.Find(ctx, exePath, searchPath)
	if err != nil {
		return nil, err
	}
	o.logger.Debug().Str("exe", exePath).Str("pdb", path).Msg("resolved pdb")
	f, err := pdb.OpenFs(o.fs, path, pdb.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
