package detour

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Define(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tbl := NewTable()
	bar, err := Define(tbl, (*Foo).Bar)
	require.NoError(err)
	assert.Equal(5, bar(&Foo{}))

	syms := tbl.Symbols()
	require.Len(syms, 1)
	assert.Equal("github.com/pboyd/detour.(*Foo).Bar", syms[0].Name)
	assert.Equal("Foo", syms[0].Type)
	assert.True(syms[0].Pointer)
	assert.Equal(reflect.TypeOf((*Foo).Bar), syms[0].Func)

	_, err = Define(tbl, (*Foo).Bar)
	assert.ErrorContains(err, "already defined")
}

func TestTable_DefineErrors(t *testing.T) {
	tbl := NewTable()

	_, err := DefineAs(tbl, "example.com/game.Tick", 3)
	assert.ErrorContains(t, err, "not a function")

	var nilFn func()
	_, err = DefineAs(tbl, "example.com/game.Tick", nilFn)
	assert.ErrorContains(t, err, "nil function")

	_, err = DefineAs(tbl, "Tick", func() {})
	assert.ErrorContains(t, err, "not a patchable symbol name")

	_, err = Define(tbl, func() {})
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustDefine(tbl, "bad name", func() {})
	})
}

func TestTable_Site(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tbl := NewTable()
	name := "example.com/game.Tick"
	tick := MustDefine(tbl, name, func(n int) int { return n })
	sym := tbl.Symbols()[0]

	_, err := tbl.Attach(sym, reflect.TypeOf(func() {}))
	assert.ErrorIs(err, ErrSignatureMismatch)

	site, err := tbl.Attach(sym, nil)
	require.NoError(err)
	assert.Equal(3, site.Original().Interface().(func(int) int)(3))

	err = site.Install(reflect.ValueOf(func(string) int { return 0 }))
	assert.ErrorIs(err, ErrSignatureMismatch)

	require.NoError(site.Install(reflect.ValueOf(func(n int) int { return n * 2 })))
	assert.True(tbl.Routed(name))
	assert.Equal(6, tick(3))

	require.NoError(tbl.Seal(name))
	assert.Error(site.Install(reflect.ValueOf(func(n int) int { return 0 })))
	assert.Equal(6, tick(3))

	require.NoError(site.Restore())
	assert.False(tbl.Routed(name))
	assert.Equal(3, tick(3))

	assert.Error(tbl.Seal("example.com/game.Missing"))
	_, err = tbl.Attach(Symbol{Name: "example.com/game.Missing"}, nil)
	assert.Error(err)
}
