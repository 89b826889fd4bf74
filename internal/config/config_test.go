package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbreader/pkg/symsrv"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PDBREADER_SYMBOL_SERVER",
		"PDBREADER_CACHE_DIR",
		"PDBREADER_SEARCH_PATH",
		"PDBREADER_LOG_LEVEL",
		"PDBREADER_LOG_PRETTY",
		"PDBREADER_DOWNLOAD_TIMEOUT",
		"PDBREADER_DOWNLOAD_MAX_RETRIES",
		"PDBREADER_DOWNLOAD_INITIAL_BACKOFF",
		"PDBREADER_DOWNLOAD_MAX_BACKOFF",
		NTSymbolPath,
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, symsrv.ServerSearchPath(cfg.CacheDir, symsrv.DefaultServer), cfg.EffectiveSearchPath())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/pdbreader.yaml", []byte(`
symbol_server: https://symbols.example.com
cache_dir: /var/cache/symbols
log:
  level: debug
  pretty: false
download:
  timeout: 30s
  max_retries: 5
  max_backoff: 1m
`), 0o644))

	cfg, err := Load(fs, "/etc/pdbreader.yaml")
	require.NoError(t, err)
	assert.Equal(t, "https://symbols.example.com", cfg.SymbolServer)
	assert.Equal(t, "/var/cache/symbols", cfg.CacheDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
	assert.Equal(t, 30*time.Second, cfg.Download.Timeout)
	assert.Equal(t, 5, cfg.Download.MaxRetries)
	assert.Equal(t, time.Second, cfg.Download.InitialBackoff, "unset keys keep defaults")
	assert.Equal(t, time.Minute, cfg.Download.MaxBackoff)
	assert.Equal(t, "srv*/var/cache/symbols*https://symbols.example.com", cfg.EffectiveSearchPath())

	r := cfg.Retry()
	assert.Equal(t, 5, r.MaxRetries)
	assert.Equal(t, time.Minute, r.MaxBackoff)

	lc := cfg.Logging()
	assert.Equal(t, "debug", lc.Level)
	assert.False(t, lc.Pretty)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/c.yaml", []byte("cache_dir: /from/file\nlog:\n  level: info\n"), 0o644))
	t.Setenv("PDBREADER_CACHE_DIR", "/from/env")
	t.Setenv("PDBREADER_LOG_LEVEL", "error")
	t.Setenv("PDBREADER_LOG_PRETTY", "false")
	t.Setenv("PDBREADER_DOWNLOAD_TIMEOUT", "90s")
	t.Setenv("PDBREADER_DOWNLOAD_MAX_RETRIES", "7")

	cfg, err := Load(fs, "/c.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.CacheDir)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
	assert.Equal(t, 90*time.Second, cfg.Download.Timeout)
	assert.Equal(t, 7, cfg.Download.MaxRetries)
}

func TestLoadSearchPathPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv(NTSymbolPath, `srv*C:\sym*https://msdl.microsoft.com/download/symbols`)

	cfg, err := Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	assert.Equal(t, `srv*C:\sym*https://msdl.microsoft.com/download/symbols`, cfg.EffectiveSearchPath())

	t.Setenv("PDBREADER_SEARCH_PATH", "/pdbs")
	cfg, err = Load(afero.NewMemMapFs(), "")
	require.NoError(t, err)
	assert.Equal(t, "/pdbs", cfg.EffectiveSearchPath())
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("log: [unterminated"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/invalid.yaml", []byte("log:\n  level: loud\ndownload:\n  max_retries: 0\n"), 0o644))

	_, err := Load(fs, "/missing.yaml")
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(fs, "/bad.yaml")
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(fs, "/invalid.yaml")
	require.Error(t, err)
	assert.ErrorContains(t, err, "log.level")
	assert.ErrorContains(t, err, "download.max_retries")

	t.Setenv("PDBREADER_DOWNLOAD_TIMEOUT", "soon")
	_, err = Load(fs, "")
	assert.ErrorContains(t, err, "PDBREADER_DOWNLOAD_TIMEOUT")
}

func TestLoadFromEnvIgnoresUntagged(t *testing.T) {
	type inner struct {
		Name string `env:"PDBREADER_TEST_NAME"`
	}
	type outer struct {
		Untagged string
		Inner    inner
		hidden   string
	}
	t.Setenv("PDBREADER_TEST_NAME", "set")

	v := outer{Untagged: "keep", hidden: "keep"}
	require.NoError(t, LoadFromEnv(&v))
	assert.Equal(t, "keep", v.Untagged)
	assert.Equal(t, "keep", v.hidden)
	assert.Equal(t, "set", v.Inner.Name)

	assert.NoError(t, LoadFromEnv((*outer)(nil)))
}
