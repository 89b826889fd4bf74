package symsrv

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// UserAgent is sent with every request. Some symbol servers only answer
// clients that identify as the Windows symbol server client.
const UserAgent = "Microsoft-Symbol-Server/10.0.10036.206"

type options struct {
	fs        afero.Fs
	client    *http.Client
	logger    zerolog.Logger
	metrics   *Metrics
	userAgent string
}

// Option configures a Downloader, Locator or Opener.
type Option func(*options)

// WithFs sets the file system holding executables, PDBs and caches.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithHTTPClient sets the client used for symbol server requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records downloads and lookups.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithUserAgent overrides UserAgent.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

func newOptions(opts []Option) options {
	o := options{
		logger:    zerolog.Nop(),
		userAgent: UserAgent,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.client == nil {
		o.client = defaultHTTPClient()
	}
	return o
}

func defaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   10 * time.Minute,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after 5 redirects")
			}
			return nil
		},
	}
}
