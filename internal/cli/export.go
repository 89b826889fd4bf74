package cli

import (
	"fmt"
	"io"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jtang613/pdbreader/pkg/pdbreader"
	"github.com/jtang613/pdbreader/pkg/provider"
)

var exportable = []provider.SymTag{
	provider.SymTagFunction,
	provider.SymTagData,
	provider.SymTagPublicSymbol,
}

type exportOutput struct {
	Category provider.SymTag `json:"category"`
	Path     string          `json:"path"`
	Encoding string          `json:"encoding"`
	Records  int             `json:"records"`
}

func (a *App) newExportCmd() *cobra.Command {
	var encoding string
	cmd := &cobra.Command{
		Use:   "export <functions|data|publics> <file>",
		Short: "Write every name and address of a symbol category, one per line",
		Long: `export writes "<name>\t0x<rva>" lines for every symbol of a category whose
name and address can be read. The narrow encoding keeps the low byte of each
character; the wide encoding writes UTF-16LE. A file of "-" writes to stdout.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := provider.ParseSymTag(args[0])
			if err != nil {
				return err
			}
			if !lo.Contains(exportable, tag) {
				return fmt.Errorf("cannot export %s symbols", tag)
			}
			enc, err := pdbreader.ParseEncoding(encoding)
			if err != nil {
				return err
			}

			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				path := args[1]
				if path == "-" {
					_, err := r.Export(tag, cmd.OutOrStdout(), enc)
					return err
				}
				n, err := r.ExportFile(a.fs, path, tag, enc)
				if err != nil {
					return err
				}
				out := exportOutput{Category: tag, Path: path, Encoding: enc.String(), Records: n}
				return a.render(cmd, out, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "wrote %d %s records to %s\n", n, tag, path)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&encoding, "encoding", "e", pdbreader.EncodingNarrow.String(), "narrow or wide")
	return cmd
}
