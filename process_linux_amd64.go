package detour

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"unsafe"

	"github.com/pboyd/detour/internal/native"
)

// Process is the running program. Patching it rewrites the first instruction
// of the target function, so every caller is affected, including callers in
// other packages and the standard library. Inlined call sites are not.
type Process struct {
	once sync.Once
	syms []Symbol
}

// NewProcess returns the image of the running program.
func NewProcess() (*Process, error) {
	if err := native.SupportedRuntime(runtime.Version()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return &Process{}, nil
}

func (p *Process) Symbols() []Symbol {
	p.once.Do(func() {
		for _, fn := range native.Functions() {
			sym, ok := ParseSymbol(fn.Name)
			if !ok {
				continue
			}
			sym.Entry = fn.Entry
			sym.Size = fn.Size
			p.syms = append(p.syms, sym)
		}
	})
	return p.syms
}

func (p *Process) Attach(sym Symbol, sig reflect.Type) (Site, error) {
	if sig == nil {
		return nil, errors.New("function signature required")
	}
	if sig.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function, kind: %v", sig.Kind())
	}
	if sym.Entry == 0 {
		return nil, fmt.Errorf("%s has no entry address", sym.Name)
	}

	prologue, err := native.SavePrologue(sym.Entry)
	if err != nil {
		return nil, err
	}
	clone, err := native.CloneFunc(sym.Entry)
	if err != nil {
		return nil, err
	}

	return &processSite{
		sig:      sig,
		prologue: prologue,
		clone:    clone,
	}, nil
}

type processSite struct {
	sig      reflect.Type
	prologue *native.Prologue
	clone    *native.Clone

	once     sync.Once
	original reflect.Value

	trampoline *native.Trampoline
	dispatch   any
}

func (s *processSite) Original() reflect.Value {
	s.once.Do(func() {
		// A func value points at a funcval whose first word is the code
		// address.
		ref := new(uintptr)
		*ref = s.clone.Entry()
		s.original = reflect.NewAt(s.sig, unsafe.Pointer(&ref)).Elem()
	})
	return s.original
}

func (s *processSite) Install(dispatch reflect.Value) error {
	if dispatch.Type() != s.sig {
		return signatureError(s.sig, dispatch.Type())
	}

	fn := dispatch.Interface()
	fv := (*[2]unsafe.Pointer)(unsafe.Pointer(&fn))[1]
	tramp, err := native.NewTrampoline(uintptr(fv), *(*uintptr)(fv))
	if err != nil {
		return err
	}
	if err := s.prologue.Redirect(tramp.Entry()); err != nil {
		tramp.Free()
		return err
	}

	// The previous trampoline has been unreachable since the last Restore.
	if s.trampoline != nil {
		s.trampoline.Free()
	}
	s.trampoline = tramp
	s.dispatch = fn
	return nil
}

func (s *processSite) Restore() error {
	return s.prologue.Restore()
}
