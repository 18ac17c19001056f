package cli

import (
	"debug/elf"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pboyd/detour/internal/elfsym"
	"github.com/pboyd/detour/internal/native"
)

func newDisasmCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <binary> <symbol>",
		Short: "Disassemble one function",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := elfsym.Open(args[0], s.logger)
			if err != nil {
				return err
			}
			defer f.Close() // nolint:errcheck

			if f.Machine() != elf.EM_X86_64 {
				return fmt.Errorf("cannot disassemble %s code", f.Machine())
			}

			sym, ok := f.Lookup(args[1])
			if !ok {
				return fmt.Errorf("symbol %s not found", args[1])
			}
			code, err := f.Code(sym)
			if err != nil {
				return err
			}

			text, err := native.Disassemble(code, sym.Entry)
			fmt.Fprint(cmd.OutOrStdout(), text)
			if err != nil {
				// Padding after the last instruction does not always decode.
				s.logger.Warn().Err(err).Str("symbol", sym.Name).Msg("Disassembly stopped early")
			}
			return nil
		},
	}
}
