package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pboyd/detour/internal/elfsym"
)

func newSymbolsCmd(s *settings) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "symbols <binary>",
		Short: "List patchable functions and methods",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := elfsym.Open(args[0], s.logger)
			if err != nil {
				return err
			}
			defer f.Close() // nolint:errcheck

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tSIZE\tSYMBOL")

			listed := 0
			for _, sym := range f.Symbols() {
				if filter != "" && !strings.Contains(sym.Name, filter) {
					continue
				}
				if s.symbolLimit > 0 && listed == s.symbolLimit {
					s.logger.Warn().Int("limit", s.symbolLimit).Msg("Symbol list truncated")
					break
				}
				fmt.Fprintf(w, "0x%x\t%d\t%s\n", sym.Entry, sym.Size, sym.Name)
				listed++
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only list symbols containing this text")
	return cmd
}
