// Package elfsym reads the Go functions of an ELF binary on disk.
//
// A File is a read-only detour.Image: its symbols can be resolved but never
// attached, since the code does not belong to the running process.
package elfsym

import (
	"debug/elf"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pboyd/detour"
)

// File is an opened ELF binary.
type File struct {
	path   string
	elf    *elf.File
	logger zerolog.Logger

	symbols []detour.Symbol
	byName  map[string]int
}

// Open reads the symbol table of the binary at path.
func Open(path string, logger zerolog.Logger) (*File, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open binary: %w", err)
	}

	syms, err := f.Symbols()
	if err != nil {
		f.Close() // nolint:errcheck
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, fmt.Errorf("%s has no symbol table (stripped binary?)", path)
		}
		return nil, fmt.Errorf("failed to read symbol table: %w", err)
	}

	file := &File{
		path:   path,
		elf:    f,
		logger: logger.With().Str("component", "elfsym").Str("binary", path).Logger(),
		byName: make(map[string]int),
	}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		// ABI0 wrappers of assembly functions carry a suffix.
		if strings.HasSuffix(s.Name, ".abi0") {
			continue
		}
		sym, ok := detour.ParseSymbol(s.Name)
		if !ok {
			continue
		}
		if _, dup := file.byName[s.Name]; dup {
			continue
		}
		sym.Entry = uintptr(s.Value)
		sym.Size = int(s.Size)
		file.byName[s.Name] = len(file.symbols)
		file.symbols = append(file.symbols, sym)
	}

	file.logger.Debug().
		Int("symbol_count", len(syms)).
		Int("function_count", len(file.symbols)).
		Msg("Symbol table loaded")
	return file, nil
}

// Close releases the binary.
func (f *File) Close() error {
	return f.elf.Close()
}

// Path returns the location of the binary.
func (f *File) Path() string {
	return f.path
}

// Symbols lists the patchable functions and methods of the binary in symbol
// table order.
func (f *File) Symbols() []detour.Symbol {
	return slices.Clone(f.symbols)
}

// Lookup returns the symbol with the full name.
func (f *File) Lookup(name string) (detour.Symbol, bool) {
	i, ok := f.byName[name]
	if !ok {
		return detour.Symbol{}, false
	}
	return f.symbols[i], true
}

// Attach always fails. The binary is not loaded into this process.
func (f *File) Attach(sym detour.Symbol, _ reflect.Type) (detour.Site, error) {
	return nil, fmt.Errorf("%w: %s is in an offline image (%s)", detour.ErrUnsupported, sym.Name, f.path)
}

// Code returns the machine code of a symbol.
func (f *File) Code(sym detour.Symbol) ([]byte, error) {
	if sym.Size <= 0 {
		return nil, fmt.Errorf("%s has no size", sym.Name)
	}

	addr := uint64(sym.Entry)
	for _, sec := range f.elf.Sections {
		if sec.Type != elf.SHT_PROGBITS || sec.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		if addr < sec.Addr || addr+uint64(sym.Size) > sec.Addr+sec.Size {
			continue
		}

		code := make([]byte, sym.Size)
		if _, err := sec.ReadAt(code, int64(addr-sec.Addr)); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", sym.Name, err)
		}
		return code, nil
	}
	return nil, fmt.Errorf("%s at 0x%x is outside every text section", sym.Name, addr)
}

// Machine reports the target architecture of the binary.
func (f *File) Machine() elf.Machine {
	return f.elf.Machine
}
