//go:build !(linux && amd64)

package detour

import "reflect"

// Process is the running program. It can only be patched on linux/amd64.
type Process struct{}

// NewProcess returns ErrUnsupported on this platform.
func NewProcess() (*Process, error) {
	return nil, ErrUnsupported
}

func (p *Process) Symbols() []Symbol {
	return nil
}

func (p *Process) Attach(Symbol, reflect.Type) (Site, error) {
	return nil, ErrUnsupported
}
