package symsrv

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/jtang613/pdbreader/pkg/pdb/msf"
)

const maxErrorBody = 1000

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Downloader fetches PDB files from HTTP symbol servers into a local store.
// It is safe for concurrent use; concurrent requests for the same file share
// one transfer. Failed requests are not retried.
type Downloader struct {
	fs        afero.Fs
	client    *http.Client
	logger    zerolog.Logger
	metrics   *Metrics
	userAgent string

	group singleflight.Group
}

// NewDownloader creates a Downloader.
func NewDownloader(opts ...Option) *Downloader {
	o := newOptions(opts)
	return &Downloader{
		fs:        o.fs,
		client:    o.client,
		logger:    o.logger.With().Str("component", "downloader").Logger(),
		metrics:   o.metrics,
		userAgent: o.userAgent,
	}
}

// Download fetches the PDB matching the executable at exePath from serverURL
// (DefaultServer when empty) into cacheDir and returns its local path. This is
// what the search path "srv*<cacheDir>*<serverURL>" resolves to.
func (d *Downloader) Download(ctx context.Context, exePath, cacheDir, serverURL string) (string, error) {
	info, err := ReadCodeViewFile(d.fs, exePath)
	if err != nil {
		return "", err
	}
	return d.DownloadPDB(ctx, info, cacheDir, serverURL)
}

// DownloadPDB fetches the PDB described by info. A file already present at the
// store path is returned without a request.
func (d *Downloader) DownloadPDB(ctx context.Context, info CodeViewInfo, cacheDir, serverURL string) (string, error) {
	if serverURL == "" {
		serverURL = DefaultServer
	}
	if err := validateName(info.PDBName()); err != nil {
		return "", err
	}
	dest := CachePath(cacheDir, info)
	if ok, _ := afero.Exists(d.fs, dest); ok {
		d.metrics.found(sourceCache)
		return dest, nil
	}

	_, err, _ := d.group.Do(serverURL+"\x00"+dest, func() (any, error) {
		if ok, _ := afero.Exists(d.fs, dest); ok {
			return nil, nil
		}
		start := time.Now()
		n, err := d.fetch(ctx, serverURL, info, dest)
		d.metrics.observeDownload(statusOf(err), time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		d.metrics.found(sourceDownload)
		d.logger.Info().
			Str("key", info.Key()).
			Str("server", serverURL).
			Str("size", humanize.IBytes(uint64(n))).
			Dur("took", time.Since(start)).
			Msg("downloaded pdb")
		return nil, nil
	})
	if err != nil {
		d.logger.Debug().Err(err).Str("key", info.Key()).Str("server", serverURL).Msg("download failed")
		return "", err
	}
	return dest, nil
}

func (d *Downloader) fetch(ctx context.Context, serverURL string, info CodeViewInfo, dest string) (int64, error) {
	name := info.PDBName()
	u, err := url.JoinPath(serverURL, name, info.Signature(), name)
	if err != nil {
		return 0, fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, zstd")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
		body := string(data)
		if len(data) > maxErrorBody {
			body = string(data[:maxErrorBody]) + "... [truncated]"
		}
		return 0, &StatusError{StatusCode: resp.StatusCode, URL: u, Body: body}
	}

	body, err := decompress(resp.Body)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := d.writeAtomic(dest, body)
	if err != nil {
		return 0, err
	}
	d.metrics.observeSize(n)
	return n, nil
}

// decompress sniffs the payload instead of trusting Content-Encoding, which
// some mirrors omit.
func decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return zr, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(br), nil
	}
}

// writeAtomic stores r at dest through a temporary file in the same directory
// so readers never see a partial PDB.
func (d *Downloader) writeAtomic(dest string, r io.Reader) (n int64, err error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(msf.Magic))
	if err != nil || !bytes.Equal(head, msf.Magic) {
		return 0, ErrInvalidPDB
	}

	dir := filepath.Dir(dest)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := afero.TempFile(d.fs, dir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			d.fs.Remove(tmp.Name())
		}
	}()

	n, err = io.Copy(tmp, br)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err = d.fs.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return n, nil
}

func validateName(name string) error {
	switch name {
	case "", ".", "..", "/":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
