package detour

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
)

// Table is an image whose entry points are declared by the host. Each member
// is reached through a stub returned by Define, and the stub checks an atomic
// route on every call, much like a PLT slot. Table works on every platform
// and never touches machine code.
type Table struct {
	mu      sync.RWMutex
	members []*member
	byName  map[string]*member
}

type member struct {
	sym    Symbol
	orig   reflect.Value
	route  atomic.Pointer[reflect.Value]
	sealed atomic.Bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byName: map[string]*member{}}
}

// Define adds fn to the table under its Go symbol name and returns the stub
// callers must use in its place. fn must be a top-level function or a method
// expression.
func Define[F any](t *Table, fn F) (F, error) {
	var zero F
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return zero, fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	if fnv.IsNil() {
		return zero, errors.New("nil function")
	}
	rf := runtime.FuncForPC(fnv.Pointer())
	if rf == nil {
		return zero, errors.New("function not found in symbol table")
	}
	return DefineAs(t, rf.Name(), fn)
}

// DefineAs is like Define but names the member explicitly, e.g.
// "example.com/game.(*Player).Heal".
func DefineAs[F any](t *Table, name string, fn F) (F, error) {
	var zero F
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return zero, fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	if fnv.IsNil() {
		return zero, errors.New("nil function")
	}

	sym, ok := ParseSymbol(name)
	if !ok {
		return zero, fmt.Errorf("%q is not a patchable symbol name", name)
	}
	sym.Func = fnv.Type()

	m := &member{sym: sym, orig: fnv}
	stub := reflect.MakeFunc(fnv.Type(), func(args []reflect.Value) []reflect.Value {
		if route := m.route.Load(); route != nil {
			return callFunc(*route, args)
		}
		return callFunc(m.orig, args)
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[name]; exists {
		return zero, fmt.Errorf("%s is already defined", name)
	}
	t.byName[name] = m
	t.members = append(t.members, m)

	return stub.Interface().(F), nil
}

// MustDefine is like DefineAs but panics on error.
func MustDefine[F any](t *Table, name string, fn F) F {
	stub, err := DefineAs(t, name, fn)
	if err != nil {
		panic(err)
	}
	return stub
}

// Seal makes the named member refuse new routes. Routes installed before are
// kept and can still be removed.
func (t *Table) Seal(name string) error {
	m, err := t.member(name)
	if err != nil {
		return err
	}
	m.sealed.Store(true)
	return nil
}

// Unseal reverses Seal.
func (t *Table) Unseal(name string) error {
	m, err := t.member(name)
	if err != nil {
		return err
	}
	m.sealed.Store(false)
	return nil
}

// Routed reports whether calls to the named member currently go through an
// installed route.
func (t *Table) Routed(name string) bool {
	m, err := t.member(name)
	return err == nil && m.route.Load() != nil
}

func (t *Table) member(name string) (*member, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s is not defined", name)
	}
	return m, nil
}

func (t *Table) Symbols() []Symbol {
	t.mu.RLock()
	defer t.mu.RUnlock()

	syms := make([]Symbol, len(t.members))
	for i, m := range t.members {
		syms[i] = m.sym
	}
	return syms
}

func (t *Table) Attach(sym Symbol, sig reflect.Type) (Site, error) {
	m, err := t.member(sym.Name)
	if err != nil {
		return nil, err
	}
	if sig != nil && sig != m.sym.Func {
		return nil, fmt.Errorf("attach %s: %w", sym.Name, signatureError(m.sym.Func, sig))
	}
	return &tableSite{m: m}, nil
}

type tableSite struct {
	m *member
}

func (s *tableSite) Original() reflect.Value {
	return s.m.orig
}

func (s *tableSite) Install(dispatch reflect.Value) error {
	if s.m.sealed.Load() {
		return fmt.Errorf("%s is sealed", s.m.sym.Name)
	}
	if dispatch.Type() != s.m.sym.Func {
		return signatureError(s.m.sym.Func, dispatch.Type())
	}
	s.m.route.Store(&dispatch)
	return nil
}

func (s *tableSite) Restore() error {
	s.m.route.Store(nil)
	return nil
}
