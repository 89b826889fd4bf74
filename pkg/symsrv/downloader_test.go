package symsrv

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jtang613/pdbreader/pkg/pdb/pdbtest"
	"github.com/jtang613/pdbreader/pkg/symsrv/symsrvtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	exePath = "/bin/ntoskrnl.exe"

	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)

type fixture struct {
	fs      afero.Fs
	server  *symsrvtest.Server
	info    CodeViewInfo
	pdb     []byte
	metrics *Metrics
}

// newFixture writes an executable that references the kernel test PDB and
// publishes the PDB on a test symbol server.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := pdbtest.Kernel()
	f := &fixture{
		fs:      afero.NewMemMapFs(),
		server:  symsrvtest.NewServer(),
		info:    CodeViewInfo{GUID: b.GUID, Age: b.Age, Path: `d:\build\ntkrnlmp.pdb`},
		pdb:     b.Bytes(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	t.Cleanup(f.server.Close)

	img := symsrvtest.Image{GUID: b.GUID, Age: b.Age, PDBPath: f.info.Path}
	require.NoError(t, img.WriteFile(f.fs, exePath))
	f.server.Add(f.info.Key(), f.pdb)
	return f
}

func (f *fixture) options() []Option {
	return []Option{WithFs(f.fs), WithHTTPClient(f.server.Client()), WithMetrics(f.metrics)}
}

func TestDownload(t *testing.T) {
	f := newFixture(t)
	d := NewDownloader(f.options()...)

	path, err := d.Download(context.Background(), exePath, "/cache", f.server.URL)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/cache", "ntkrnlmp.pdb", f.info.Signature(), "ntkrnlmp.pdb"), path)

	data, err := afero.ReadFile(f.fs, path)
	require.NoError(t, err)
	assert.Equal(t, f.pdb, data)

	reqs := f.server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/"+f.info.Key(), reqs[0].Path)
	assert.Equal(t, UserAgent, reqs[0].UserAgent)

	// The second call is served from the cache.
	again, err := d.Download(context.Background(), exePath, "/cache", f.server.URL)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Len(t, f.server.Requests(), 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(sourceDownload)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.lookups.WithLabelValues(sourceCache)))
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.requestDuration))
}

func TestDownloadCompressed(t *testing.T) {
	for _, enc := range []string{"gzip", "zstd"} {
		t.Run(enc, func(t *testing.T) {
			f := newFixture(t)
			f.server.Encoding = enc
			d := NewDownloader(f.options()...)

			path, err := d.DownloadPDB(context.Background(), f.info, "/cache", f.server.URL)
			require.NoError(t, err)
			data, err := afero.ReadFile(f.fs, path)
			require.NoError(t, err)
			assert.Equal(t, f.pdb, data)
		})
	}
}

func TestDownloadStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		notFound  bool
		retryable bool
		label     string
	}{
		{"not found", http.StatusNotFound, true, false, StatusErrorNotFound},
		{"forbidden", http.StatusForbidden, false, false, StatusErrorUnauthorized},
		{"rate limited", http.StatusTooManyRequests, false, true, StatusErrorRateLimited},
		{"unavailable", http.StatusServiceUnavailable, false, true, StatusErrorServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.server.Status = tt.status
			d := NewDownloader(f.options()...)

			_, err := d.DownloadPDB(context.Background(), f.info, "/cache", f.server.URL)
			require.Error(t, err)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.label, statusOf(err))

			exists, _ := afero.DirExists(f.fs, "/cache")
			assert.False(t, exists)
		})
	}
}

func TestDownloadRejectsNonPDB(t *testing.T) {
	f := newFixture(t)
	f.server.Add(f.info.Key(), []byte("<html>maintenance</html>"))
	d := NewDownloader(f.options()...)

	_, err := d.DownloadPDB(context.Background(), f.info, "/cache", f.server.URL)
	assert.ErrorIs(t, err, ErrInvalidPDB)
	assert.False(t, IsRetryable(err))

	exists, _ := afero.Exists(f.fs, CachePath("/cache", f.info))
	assert.False(t, exists)
}

func TestDownloadInvalidName(t *testing.T) {
	f := newFixture(t)
	d := NewDownloader(f.options()...)

	_, err := d.DownloadPDB(context.Background(), CodeViewInfo{GUID: testGUID}, "/cache", f.server.URL)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Empty(t, f.server.Requests())
}

func TestDownloadCanceled(t *testing.T) {
	f := newFixture(t)
	d := NewDownloader(f.options()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.DownloadPDB(ctx, f.info, "/cache", f.server.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusErrorCanceled, statusOf(err))
	assert.False(t, IsRetryable(err))
}

func TestDownloadSharesConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	f.server.Gate = make(chan struct{})
	d := NewDownloader(f.options()...)

	const callers = 4
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = d.DownloadPDB(context.Background(), f.info, "/cache", f.server.URL)
		}()
	}

	require.Eventually(t, func() bool { return len(f.server.Requests()) == 1 }, testTimeout, testTick)
	close(f.server.Gate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, CachePath("/cache", f.info), paths[i])
	}
	assert.Len(t, f.server.Requests(), 1)
}
