package elfsym

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/detour"
	"github.com/pboyd/detour/internal/testbin"
)

var fixture string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "elfsym")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fixture, err = testbin.Build(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.RemoveAll(dir)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func openFixture(t *testing.T) *File {
	t.Helper()
	f, err := Open(fixture, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestSymbols(t *testing.T) {
	assert := assert.New(t)
	f := openFixture(t)

	assert.Equal(elf.EM_X86_64, f.Machine())
	assert.Equal(fixture, f.Path())

	sym, ok := f.Lookup(testbin.Heal)
	require.True(t, ok)
	assert.Equal("main", sym.Package)
	assert.Equal("Player", sym.Type)
	assert.Equal("Heal", sym.Member)
	assert.True(sym.Pointer)
	assert.NotZero(sym.Entry)
	assert.Positive(sym.Size)

	tick, ok := f.Lookup(testbin.Tick)
	require.True(t, ok)
	assert.Empty(tick.Type)

	for _, s := range f.Symbols() {
		assert.False(strings.HasSuffix(s.Name, ".func1"), "closure listed: %s", s.Name)
		assert.False(strings.HasSuffix(s.Name, ".abi0"), "wrapper listed: %s", s.Name)
	}

	_, ok = f.Lookup("main.nothing")
	assert.False(ok)
}

func TestCode(t *testing.T) {
	f := openFixture(t)
	sym, ok := f.Lookup(testbin.Tick)
	require.True(t, ok)

	code, err := f.Code(sym)
	require.NoError(t, err)
	assert.Len(t, code, sym.Size)

	sym.Size = 0
	_, err = f.Code(sym)
	assert.ErrorContains(t, err, "has no size")

	sym.Size = 16
	sym.Entry = 1
	_, err = f.Code(sym)
	assert.ErrorContains(t, err, "outside every text section")
}

func TestResolve(t *testing.T) {
	assert := assert.New(t)
	f := openFixture(t)

	r := detour.NewResolver(f, nil)
	ep, err := r.Resolve(detour.MethodOf("main.Player", "Heal"))
	require.NoError(t, err)
	assert.Equal(testbin.Heal, ep.Name())

	ep, err = r.Resolve(detour.FuncOf("main", "Tick"))
	require.NoError(t, err)
	assert.Equal(testbin.Tick, ep.Name())

	_, err = r.Resolve(detour.MethodOf("main.Player", "Missing"))
	var rerr *detour.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(detour.NotFound, rerr.Reason)
}

func TestAttachUnsupported(t *testing.T) {
	f := openFixture(t)

	e := detour.New(f)
	e.OnLoad()
	defer e.OnUnload()

	d := detour.MethodOf("main.Player", "Heal").WithSignature(reflect.TypeFor[func(*struct{ health int }, int) int]())
	_, err := e.Register(d, detour.Prefix(func(*detour.Call) {}))

	var aerr *detour.ActivationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "attach", aerr.Op)
	assert.True(t, errors.Is(err, detour.ErrUnsupported))

	state, err := e.State(d)
	require.NoError(t, err)
	assert.Equal(t, detour.Unpatched, state)
}

func TestOpen_NotELF(t *testing.T) {
	path := t.TempDir() + "/plain"
	require.NoError(t, os.WriteFile(path, []byte("not a binary"), 0o644))

	_, err := Open(path, zerolog.Nop())
	assert.ErrorContains(t, err, "failed to open binary")
}
