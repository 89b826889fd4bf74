package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jtang613/pdbreader/pkg/pdb"
	"github.com/jtang613/pdbreader/pkg/symsrv"
)

type infoOutput struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	pdb.Info
	Sections []pdb.SectionInfo `json:"sections"`
	Modules  []pdb.ModuleInfo  `json:"modules"`
}

func (a *App) newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the identity, sections and modules of a PDB",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.resolvePDB(cmd.Context())
			if err != nil {
				return err
			}
			f, err := pdb.OpenFs(a.fs, path, pdb.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer f.Close()

			out := infoOutput{
				Path:     path,
				Info:     f.Info(),
				Sections: f.Sections(),
				Modules:  f.Modules(),
			}
			if fi, err := a.fs.Stat(path); err == nil {
				out.Size = fi.Size()
			}
			return a.render(cmd, out, func(w io.Writer) error {
				return writeInfo(w, out)
			})
		},
	}
}

func writeInfo(w io.Writer, out infoOutput) error {
	fmt.Fprintf(w, "Path:      %s\n", out.Path)
	fmt.Fprintf(w, "Size:      %s\n", humanize.IBytes(uint64(out.Size)))
	fmt.Fprintf(w, "GUID:      %s\n", out.GUID)
	fmt.Fprintf(w, "Age:       %d\n", out.Age)
	fmt.Fprintf(w, "Signature: %s%X\n", out.GUID, out.Age)
	fmt.Fprintf(w, "Machine:   %s\n", out.Machine)
	fmt.Fprintf(w, "Version:   %d\n", out.Version)
	fmt.Fprintf(w, "Streams:   %d\n", out.Streams)
	fmt.Fprintf(w, "Types:     %s\n", humanize.Comma(int64(out.Types)))

	if len(out.Sections) > 0 {
		fmt.Fprintln(w, "\nSections:")
		table := newTable(w, "#", "Name", "Address", "Size")
		table.AppendBulk(lo.Map(out.Sections, func(s pdb.SectionInfo, _ int) []string {
			return []string{strconv.Itoa(int(s.Index)), s.Name, hex(uint64(s.VirtualAddress)), hex(uint64(s.VirtualSize))}
		}))
		table.Render()
	}

	fmt.Fprintf(w, "\nModules (%d):\n", len(out.Modules))
	table := newTable(w, "Name", "Object", "Symbols")
	table.AppendBulk(lo.Map(out.Modules, func(m pdb.ModuleInfo, _ int) []string {
		return []string{m.Name, m.ObjectFile, humanize.IBytes(uint64(m.SymbolSize))}
	}))
	table.Render()
	return nil
}

type downloadOutput struct {
	Path string `json:"path"`
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

func (a *App) newDownloadCmd() *cobra.Command {
	var cacheDir, server string
	cmd := &cobra.Command{
		Use:   "download [executable]",
		Short: "Fetch the PDB of an executable from a symbol server into the cache",
		Long: `download fetches the PDB matching an executable the way the search path
srv*<cache-dir>*<server> would, and prints where it was stored. A PDB that is
already cached is not fetched again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exe := a.flags.exePath
			if len(args) == 1 {
				exe = args[0]
			}
			if exe == "" {
				return errors.New("an executable is required")
			}
			if cacheDir == "" {
				cacheDir = a.cfg.CacheDir
			}
			if server == "" {
				server = a.cfg.SymbolServer
			}

			info, err := symsrv.ReadCodeViewFile(a.fs, exe)
			if err != nil {
				return err
			}
			d := symsrv.NewDownloader(a.symsrvOptions()...)
			ctx := cmd.Context()
			var path string
			err = a.withRetry(ctx, func() error {
				var err error
				path, err = d.DownloadPDB(ctx, info, cacheDir, server)
				return err
			})
			if err != nil {
				return err
			}

			out := downloadOutput{Path: path, Key: info.Key()}
			if fi, err := a.fs.Stat(path); err == nil {
				out.Size = fi.Size()
			}
			return a.render(cmd, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s (%s)\n", out.Path, humanize.IBytes(uint64(out.Size)))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "downstream store (default from config)")
	cmd.Flags().StringVar(&server, "server", "", "symbol server URL (default from config)")
	return cmd
}
