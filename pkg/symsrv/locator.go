package symsrv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/jtang613/pdbreader/pkg/pdb"
	"github.com/jtang613/pdbreader/pkg/pdb/streams"
)

// Where a PDB was found, used as the lookups metric label.
const (
	sourceCache      = "cache"
	sourceDownload   = "download"
	sourceDirectory  = "directory"
	sourceExecutable = "executable"
)

var errFound = errors.New("found")

// CachePath returns where a symbol store rooted at dir keeps the PDB for info.
func CachePath(dir string, info CodeViewInfo) string {
	name := info.PDBName()
	return filepath.Join(dir, name, info.Signature(), name)
}

// DefaultCacheDir is the downstream store used for "srv*<url>" entries that
// name no cache.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "pdbreader", "symbols")
}

// Locator resolves the PDB of an executable through a symbol search path.
type Locator struct {
	fs         afero.Fs
	downloader *Downloader
	logger     zerolog.Logger
	metrics    *Metrics
}

// NewLocator creates a Locator. Downloads go through a Downloader built from
// the same options.
func NewLocator(opts ...Option) *Locator {
	o := newOptions(opts)
	return &Locator{
		fs:         o.fs,
		downloader: NewDownloader(opts...),
		logger:     o.logger.With().Str("component", "locator").Logger(),
		metrics:    o.metrics,
	}
}

// Find returns the path of the PDB matching the executable at exePath.
func (l *Locator) Find(ctx context.Context, exePath, searchPath string) (string, error) {
	info, err := ReadCodeViewFile(l.fs, exePath)
	if err != nil {
		return "", err
	}
	return l.FindPDB(ctx, info, filepath.Dir(exePath), searchPath)
}

// FindPDB walks searchPath in order. Plain directories are checked for the
// bare file name and the store layout. "srv*" caches are checked for the store
// layout, then searched recursively, before their upstream stores are asked.
// exeDir, when not empty, is checked last. Every candidate must carry the
// GUID and age of info.
func (l *Locator) FindPDB(ctx context.Context, info CodeViewInfo, exeDir, searchPath string) (string, error) {
	name := info.PDBName()
	var errs []error
	for _, el := range ParseSearchPath(searchPath) {
		if !el.IsServer() {
			for _, p := range []string{filepath.Join(el.Dir, name), CachePath(el.Dir, info)} {
				if l.matches(p, info) {
					l.metrics.found(sourceDirectory)
					return p, nil
				}
			}
			continue
		}

		cache := el.Cache
		if cache != "" {
			if p := CachePath(cache, info); l.matches(p, info) {
				l.metrics.found(sourceCache)
				return p, nil
			}
			if p, ok := l.search(cache, info); ok {
				l.metrics.found(sourceCache)
				return p, nil
			}
		} else {
			cache = DefaultCacheDir()
		}

		for _, store := range el.Stores {
			if !isURL(store) {
				if p := CachePath(store, info); l.matches(p, info) {
					l.metrics.found(sourceDirectory)
					return p, nil
				}
				continue
			}
			p, err := l.downloader.DownloadPDB(ctx, info, cache, store)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				if !IsNotFound(err) {
					errs = append(errs, err)
				}
				continue
			}
			if l.matches(p, info) {
				return p, nil
			}
			errs = append(errs, fmt.Errorf("%s: %w", p, ErrSignatureMismatch))
		}
	}

	if exeDir != "" {
		if p := filepath.Join(exeDir, name); l.matches(p, info) {
			l.metrics.found(sourceExecutable)
			return p, nil
		}
	}

	err := fmt.Errorf("%s: %w", info.Key(), ErrPDBNotFound)
	if len(errs) > 0 {
		return "", errors.Join(append([]error{err}, errs...)...)
	}
	return "", err
}

// search walks root for a file named like the PDB with a matching signature.
func (l *Locator) search(root string, info CodeViewInfo) (string, bool) {
	name := info.PDBName()
	var found string
	err := afero.Walk(l.fs, root, func(path string, fi fs.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.IsDir() || !strings.EqualFold(fi.Name(), name) {
			return nil
		}
		if l.matches(path, info) {
			found = path
			return errFound
		}
		return nil
	})
	return found, errors.Is(err, errFound)
}

func (l *Locator) matches(path string, info CodeViewInfo) bool {
	if ok, _ := afero.Exists(l.fs, path); !ok {
		return false
	}
	f, err := pdb.OpenFs(l.fs, path)
	if err != nil {
		l.logger.Debug().Err(err).Str("path", path).Msg("skipping unreadable pdb")
		return false
	}
	defer f.Close()

	guid, age := f.Signature()
	if !info.Matches(guid, age) {
		l.logger.Debug().
			Str("path", path).
			Str("want", info.Signature()).
			Str("have", fmt.Sprintf("%s%X", streams.FormatGUID(guid), age)).
			Msg("pdb signature mismatch")
		return false
	}
	return true
}
