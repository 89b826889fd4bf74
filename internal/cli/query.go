package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jtang613/pdbreader/pkg/pdbreader"
	"github.com/jtang613/pdbreader/pkg/provider"
)

func (a *App) newOffsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "offset <struct> <member>",
		Short:   "Print the byte offset of a struct member",
		Example: "  pdbreader --pdb ntkrnlmp.pdb offset _EPROCESS UniqueProcessId",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				off, ok := r.StructMemberOffset(args[0], args[1])
				if !ok {
					return fmt.Errorf("%w: member %s of %s", errNotFound, args[1], args[0])
				}
				out := struct {
					Struct string `json:"struct"`
					Member string `json:"member"`
					Offset uint32 `json:"offset"`
				}{args[0], args[1], off}
				return a.render(cmd, out, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, hex(uint64(off)))
					return err
				})
			})
		},
	}
}

func (a *App) newSizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size <struct>",
		Short: "Print the size of a struct",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				size, ok := r.StructSize(args[0])
				if !ok {
					return fmt.Errorf("%w: struct %s", errNotFound, args[0])
				}
				out := struct {
					Struct string `json:"struct"`
					Size   uint64 `json:"size"`
				}{args[0], size}
				return a.render(cmd, out, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s (%s)\n", hex(size), humanize.IBytes(size))
					return err
				})
			})
		},
	}
}

func (a *App) newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields <struct>",
		Short: "List the data members of a struct with their offsets and types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				fields := r.FieldsOf(args[0])
				if len(fields) == 0 {
					return fmt.Errorf("%w: fields of %s", errNotFound, args[0])
				}
				return a.render(cmd, fields, func(w io.Writer) error {
					table := newTable(w, "Offset", "Name", "Type", "Kind", "Size")
					table.AppendBulk(lo.Map(fields, func(f pdbreader.FieldInfo, _ int) []string {
						return []string{
							hex(uint64(f.Offset)),
							f.Name,
							typeName(f.Type),
							f.Type.Kind.String(),
							hex(f.Type.Size),
						}
					}))
					table.Render()
					return nil
				})
			})
		},
	}
}

func (a *App) newTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "type <name>",
		Short: "Describe a named struct, union, class or enum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				info, ok := r.LookupType(args[0])
				if !ok {
					return fmt.Errorf("%w: type %s", errNotFound, args[0])
				}
				return a.render(cmd, info, func(w io.Writer) error {
					fmt.Fprintf(w, "Name: %s\n", info.Name)
					fmt.Fprintf(w, "Kind: %s\n", info.Kind)
					fmt.Fprintf(w, "Size: %s (%s)\n", hex(info.Size), humanize.IBytes(info.Size))
					fmt.Fprintf(w, "ID:   %s\n", hex(uint64(info.SourceID)))
					if info.Kind == pdbreader.TypeClass {
						fmt.Fprintf(w, "Fields: %d\n", len(info.Fields()))
					}
					return nil
				})
			})
		},
	}
}

func (a *App) newSymbolCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "symbol <name>",
		Short: "Print the address of a global symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := provider.ParseSymTag(category)
			if err != nil {
				return err
			}
			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				addr, ok := r.FindSymbol(args[0], tag)
				if !ok {
					return fmt.Errorf("%w: %s symbol %s", errNotFound, category, args[0])
				}
				out := struct {
					Name string `json:"name"`
					pdbreader.SymbolAddress
				}{args[0], addr}
				return a.render(cmd, out, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s %s\n", hex(uint64(addr.RVA)), addr.Tag)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&category, "tag", "t", "any", "symbol category: any, function, data, public, udt, enum, typedef")
	return cmd
}

func (a *App) newConstCmd() *cobra.Command {
	return a.newAddressCmd("const", "Print the address of a global variable", func(r *pdbreader.Reader, name string) (uint32, bool) {
		return r.FindConst(name)
	})
}

func (a *App) newFunctionCmd() *cobra.Command {
	return a.newAddressCmd("function", "Print the address of a function", func(r *pdbreader.Reader, name string) (uint32, bool) {
		return r.FindFunction(name)
	})
}

func (a *App) newAddressCmd(use, short string, find func(*pdbreader.Reader, string) (uint32, bool)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				rva, ok := find(r, args[0])
				if !ok {
					return fmt.Errorf("%w: %s %s", errNotFound, use, args[0])
				}
				out := struct {
					Name string `json:"name"`
					RVA  uint32 `json:"rva"`
				}{args[0], rva}
				return a.render(cmd, out, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, hex(uint64(rva)))
					return err
				})
			})
		},
	}
}

func (a *App) newContainingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "containing <rva>",
		Short: "Name the function whose start is the closest at or below an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rva, err := parseRVA(args[0])
			if err != nil {
				return err
			}
			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				name, err := r.FunctionContaining(rva)
				if err != nil {
					return err
				}
				out := struct {
					RVA      uint32 `json:"rva"`
					Function string `json:"function"`
				}{rva, name}
				return a.render(cmd, out, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, name)
					return err
				})
			})
		},
	}
}

func (a *App) newNearestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nearest <rva>",
		Short: "Print the symbol containing or preceding an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rva, err := parseRVA(args[0])
			if err != nil {
				return err
			}
			return a.withReader(cmd, func(r *pdbreader.Reader) error {
				sym, err := r.NearestSymbol(rva)
				if err != nil {
					return err
				}
				out := struct {
					pdbreader.NearestSymbol
					Displacement uint32 `json:"displacement"`
				}{sym, rva - sym.RVA}
				return a.render(cmd, out, func(w io.Writer) error {
					name := sym.Name
					if out.Displacement != 0 {
						name += "+" + hex(uint64(out.Displacement))
					}
					_, err := fmt.Fprintf(w, "%s (%s)\n", name, sym.Tag)
					return err
				})
			})
		},
	}
}

func typeName(t pdbreader.TypeInfo) string {
	if t.Name != "" {
		return t.Name
	}
	return "?"
}
