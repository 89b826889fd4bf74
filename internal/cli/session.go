package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jtang613/pdbreader/internal/retry"
	"github.com/jtang613/pdbreader/pkg/pdbreader"
	"github.com/jtang613/pdbreader/pkg/symsrv"
)

var (
	errNoInput  = errors.New("either --pdb or --exe is required")
	errNotFound = errors.New("not found")
)

func (a *App) symsrvOptions() []symsrv.Option {
	client := a.client
	if client == nil {
		client = &http.Client{Timeout: a.cfg.Download.Timeout}
	}
	return []symsrv.Option{
		symsrv.WithFs(a.fs),
		symsrv.WithHTTPClient(client),
		symsrv.WithLogger(a.logger),
	}
}

// withRetry runs fn under the configured backoff, retrying only failures a
// symbol server may recover from.
func (a *App) withRetry(ctx context.Context, fn func() error) error {
	return retry.DoNotify(ctx, a.cfg.Retry(), fn, symsrv.IsRetryable, func(attempt int, err error, wait time.Duration) {
		a.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying")
	})
}

// resolvePDB returns --pdb, or locates the PDB of --exe.
func (a *App) resolvePDB(ctx context.Context) (string, error) {
	switch {
	case a.flags.pdbPath != "":
		return a.flags.pdbPath, nil
	case a.flags.exePath != "":
		locator := symsrv.NewLocator(a.symsrvOptions()...)
		searchPath := a.cfg.EffectiveSearchPath()
		a.logger.Debug().Str("exe", a.flags.exePath).Str("search_path", searchPath).Msg("locating pdb")

		var path string
		err := a.withRetry(ctx, func() error {
			var err error
			path, err = locator.Find(ctx, a.flags.exePath, searchPath)
			return err
		})
		return path, err
	default:
		return "", errNoInput
	}
}

func (a *App) openReader(ctx context.Context) (*pdbreader.Reader, error) {
	path, err := a.resolvePDB(ctx)
	if err != nil {
		return nil, err
	}
	opener := symsrv.NewOpener(a.symsrvOptions()...)
	return pdbreader.Open(opener, path,
		pdbreader.WithLogger(a.logger.With().Str("component", "pdbreader").Logger()))
}

// withReader opens the PDB for the duration of fn.
func (a *App) withReader(cmd *cobra.Command, fn func(r *pdbreader.Reader) error) error {
	r, err := a.openReader(cmd.Context())
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// parseRVA accepts decimal, 0x hex and 0o octal.
func parseRVA(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(v), nil
}
