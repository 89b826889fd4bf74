// Package cli implements the pdbreader command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jtang613/pdbreader/internal/config"
	"github.com/jtang613/pdbreader/internal/logging"
)

const (
	formatText = "text"
	formatJSON = "json"
)

type globalFlags struct {
	pdbPath    string
	exePath    string
	searchPath string
	configPath string
	logLevel   string
	format     string
}

// App holds what the commands share: the file system, the loaded
// configuration and the logger.
type App struct {
	fs     afero.Fs
	stdout io.Writer
	stderr io.Writer
	client *http.Client

	flags  globalFlags
	cfg    *config.Config
	logger zerolog.Logger
}

// Option configures an App.
type Option func(*App)

// WithFs replaces the operating system file system.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithOutput redirects command output and logs.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *App) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

// WithHTTPClient sets the client used for symbol server downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.client = c }
}

// NewRootCmd builds the command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &App{
		fs:     afero.NewOsFs(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "pdbreader",
		Short: "Resolve symbols, struct layouts and types from PDB files",
		Long: `pdbreader answers questions about a Windows binary from its PDB:
symbol addresses, struct member offsets and sizes, type descriptions and
which function contains an address.

The PDB is named directly with --pdb, or located for an executable with
--exe through a symbol search path such as
  srv*C:\symbols*https://msdl.microsoft.com/download/symbols`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	if a.stdout != nil {
		root.SetOut(a.stdout)
	}
	if a.stderr != nil {
		root.SetErr(a.stderr)
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.pdbPath, "pdb", "", "PDB file to read")
	pf.StringVar(&a.flags.exePath, "exe", "", "executable whose PDB is located through the search path")
	pf.StringVar(&a.flags.searchPath, "search-path", "", "symbol search path (default from config, then "+config.NTSymbolPath+")")
	pf.StringVar(&a.flags.configPath, "config", "", "configuration file (default "+config.DefaultPath()+")")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVarP(&a.flags.format, "format", "o", formatText, "output format: text or json")
	_ = root.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{formatText, formatJSON}, cobra.ShellCompDirectiveNoFileComp
	})
	root.MarkFlagsMutuallyExclusive("pdb", "exe")

	root.AddCommand(
		a.newInfoCmd(),
		a.newDownloadCmd(),
		a.newOffsetCmd(),
		a.newSizeCmd(),
		a.newFieldsCmd(),
		a.newTypeCmd(),
		a.newSymbolCmd(),
		a.newConstCmd(),
		a.newFunctionCmd(),
		a.newContainingCmd(),
		a.newNearestCmd(),
		a.newExportCmd(),
	)
	return root
}

// Execute runs the command tree against the operating system.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	switch a.flags.format {
	case formatText, formatJSON:
	default:
		return fmt.Errorf("unsupported format %q, must be one of: %s, %s", a.flags.format, formatText, formatJSON)
	}

	cfg, err := config.Load(a.fs, a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		if _, err := logging.ParseLevel(a.flags.logLevel); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		cfg.Log.Level = a.flags.logLevel
	}
	if a.flags.searchPath != "" {
		cfg.SearchPath = a.flags.searchPath
	}
	a.cfg = cfg

	lc := cfg.Logging()
	lc.Output = cmd.ErrOrStderr()
	a.logger = logging.NewWithComponent(lc, "cli")

	cmd.Flags().Visit(func(f *pflag.Flag) {
		a.logger.Debug().Str("flag", f.Name).Str("value", f.Value.String()).Msg("flag set")
	})
	return nil
}
