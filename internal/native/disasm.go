package native

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders x86-64 machine code, one instruction per line. base is
// the address of code[0] used for the address column and relative targets.
func Disassemble(code []byte, base uintptr) (string, error) {
	var buf bytes.Buffer

	for i := 0; i < len(code); {
		instruction, err := x86asm.Decode(code[i:], 64)
		if err != nil {
			return buf.String(), fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		// Truncated input decodes to an empty instruction without an error.
		if instruction.Op == 0 {
			return buf.String(), fmt.Errorf("decode error at offset %d: truncated instruction", i)
		}
		pc := uint64(base) + uint64(i)
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", pc, hex.EncodeToString(code[i:i+instruction.Len]), x86asm.GoSyntax(instruction, pc, nil))

		i += instruction.Len
	}

	return buf.String(), nil
}
