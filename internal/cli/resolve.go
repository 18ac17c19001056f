package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pboyd/detour"
	"github.com/pboyd/detour/diag"
	"github.com/pboyd/detour/internal/elfsym"
)

func newResolveCmd(s *settings) *cobra.Command {
	var (
		pkg     string
		kind    string
		pointer bool
		value   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <binary> <type> <member>",
		Short: "Resolve a descriptor against a binary",
		Long: `Resolve a descriptor against the symbol table of a binary and report the
entry point it names, or why it names none or several.

Use "-" as the type for a package-level function.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDescriptor(args[1], args[2], pkg, kind, pointer, value)
			if err != nil {
				return err
			}

			f, err := elfsym.Open(args[0], s.logger)
			if err != nil {
				return err
			}
			defer f.Close() // nolint:errcheck

			ch := diag.NewChannel(diag.NewZerologSink(s.logger), diag.WithQueueSize(s.diagQueue), diag.WithFallback(s.logger))
			defer ch.Close() // nolint:errcheck

			ep, err := detour.NewResolver(f, ch).Resolve(d)
			out := cmd.OutOrStdout()

			var rerr *detour.ResolutionError
			if errors.As(err, &rerr) {
				fmt.Fprintf(out, "%s: %s\n", d, rerr.Reason)
				for _, c := range rerr.Candidates {
					fmt.Fprintf(out, "  candidate %s\n", c)
				}
				return err
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s\n  symbol  %s\n  address 0x%x\n  size    %d\n", d, ep.Name(), ep.Symbol.Entry, ep.Symbol.Size)
			return nil
		},
	}

	cmd.Flags().StringVarP(&pkg, "package", "p", "", "Import path or last path element of the package")
	cmd.Flags().StringVarP(&kind, "kind", "k", "method", "Member kind (method, getter, setter, func)")
	cmd.Flags().BoolVar(&pointer, "pointer", false, "Only match methods on the pointer type")
	cmd.Flags().BoolVar(&value, "value", false, "Only match methods on the value type")
	cmd.MarkFlagsMutuallyExclusive("pointer", "value")

	return cmd
}

func buildDescriptor(typ, member, pkg, kind string, pointer, value bool) (detour.Descriptor, error) {
	var d detour.Descriptor
	switch kind {
	case "method":
		d = detour.MethodOf(typ, member)
	case "getter":
		d = detour.GetterOf(typ, member)
	case "setter":
		d = detour.SetterOf(typ, member)
	case "func":
		if typ != "-" {
			return d, fmt.Errorf("functions have no type, got %q", typ)
		}
		d = detour.FuncOf("", member)
	default:
		return d, fmt.Errorf("unknown kind %q", kind)
	}

	if pkg != "" {
		d = d.In(pkg)
	}
	if pointer {
		d = d.OnPointer()
	}
	if value {
		d = d.OnValue()
	}
	return d, nil
}
