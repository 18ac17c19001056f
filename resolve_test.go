package detour

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Player struct {
	health int
}

func gameTable(t *testing.T) *Table {
	t.Helper()

	tbl := NewTable()
	MustDefine(tbl, "example.com/game.(*Player).GetHealth", func(p *Player) int { return p.health })
	MustDefine(tbl, "example.com/game.(*Player).SetHealth", func(p *Player, v int) { p.health = v })
	MustDefine(tbl, "example.com/game.Player.Name", func(Player) string { return "player" })
	MustDefine(tbl, "example.com/game.(*Player).Name", func(*Player) string { return "player" })
	MustDefine(tbl, "example.com/game.Tick", func() {})
	MustDefine(tbl, "example.com/game/enemy.(*Boss).Attack", func(*Player, int) int { return 1 })
	MustDefine(tbl, "example.com/mods/enemy.(*Boss).Attack", func(*Player, int) int { return 2 })
	MustDefine(tbl, "example.com/game.(*Player).Damage", func(*Player, int) {})
	return tbl
}

func TestResolve_Idempotent(t *testing.T) {
	assert := assert.New(t)

	r := NewResolver(gameTable(t), nil)
	d := FuncOf("game", "Tick")

	first, err := r.Resolve(d)
	require.NoError(t, err)
	for range 10 {
		again, err := r.Resolve(d)
		require.NoError(t, err)
		assert.Same(first, again)
	}
	assert.Equal("example.com/game.Tick", first.Name())
}

func TestResolve_SharedEntryPoint(t *testing.T) {
	r := NewResolver(gameTable(t), nil)

	a, err := r.Resolve(FuncOf("game", "Tick"))
	require.NoError(t, err)
	b, err := r.Resolve(FuncOf("example.com/game", "Tick"))
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestResolve_Errors(t *testing.T) {
	tests := map[string]struct {
		d          Descriptor
		reason     ResolutionReason
		candidates []string
	}{
		"missing member": {
			d:      MethodOf("Player", "Fly"),
			reason: NotFound,
		},
		"missing type": {
			d:      MethodOf("Dragon", "Damage"),
			reason: NotFound,
		},
		"wrong package": {
			d:      FuncOf("other", "Tick"),
			reason: NotFound,
		},
		"same type in two packages": {
			d:      MethodOf("Boss", "Attack"),
			reason: Ambiguous,
			candidates: []string{
				"example.com/game/enemy.(*Boss).Attack",
				"example.com/mods/enemy.(*Boss).Attack",
			},
		},
		"short package matches both": {
			d:      MethodOf("enemy.Boss", "Attack"),
			reason: Ambiguous,
			candidates: []string{
				"example.com/game/enemy.(*Boss).Attack",
				"example.com/mods/enemy.(*Boss).Attack",
			},
		},
		"value method and pointer wrapper": {
			d:      MethodOf("Player", "Name"),
			reason: Ambiguous,
			candidates: []string{
				"example.com/game.Player.Name",
				"example.com/game.(*Player).Name",
			},
		},
		"signature mismatch": {
			d:          MethodOf("Player", "Damage").WithSignature(reflect.TypeOf(func(*Player, string) {})),
			reason:     NotFound,
			candidates: []string{"example.com/game.(*Player).Damage"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := NewResolver(gameTable(t), nil)
			_, err := r.Resolve(tc.d)

			var rerr *ResolutionError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tc.reason, rerr.Reason)
			assert.Equal(t, tc.candidates, rerr.Candidates)
		})
	}
}

func TestResolve_SignatureMismatchWraps(t *testing.T) {
	r := NewResolver(gameTable(t), nil)
	_, err := r.Resolve(MethodOf("Player", "Damage").WithSignature(reflect.TypeOf(func(*Player) {})))
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestResolve_Disambiguation(t *testing.T) {
	tests := map[string]struct {
		d    Descriptor
		want string
	}{
		"full package": {
			d:    MethodOf("example.com/mods/enemy.Boss", "Attack"),
			want: "example.com/mods/enemy.(*Boss).Attack",
		},
		"In": {
			d:    MethodOf("Boss", "Attack").In("game/enemy"),
			want: "example.com/game/enemy.(*Boss).Attack",
		},
		"value receiver": {
			d:    MethodOf("Player", "Name").OnValue(),
			want: "example.com/game.Player.Name",
		},
		"pointer receiver": {
			d:    MethodOf("Player", "Name").OnPointer(),
			want: "example.com/game.(*Player).Name",
		},
		"receiver from signature": {
			d:    MethodOf("Player", "Name").WithSignature(reflect.TypeOf(func(Player) string { return "" })),
			want: "example.com/game.Player.Name",
		},
		"getter": {
			d:    GetterOf("Player", "Health"),
			want: "example.com/game.(*Player).GetHealth",
		},
		"setter": {
			d:    SetterOf("game.Player", "Health"),
			want: "example.com/game.(*Player).SetHealth",
		},
		"matching signature": {
			d:    MethodOf("Player", "Damage").WithSignature(reflect.TypeOf(func(*Player, int) {})),
			want: "example.com/game.(*Player).Damage",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := NewResolver(gameTable(t), nil)
			ep, err := r.Resolve(tc.d)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ep.Name())
			assert.NotNil(t, ep.Signature())
		})
	}
}

func TestResolve_InvalidDescriptor(t *testing.T) {
	r := NewResolver(gameTable(t), nil)

	_, err := r.Resolve(Descriptor{Type: "Player", Kind: KindMethod})
	assert.ErrorContains(t, err, "no member name")

	_, err = r.Resolve(Descriptor{Member: "Tick", Kind: KindMethod})
	assert.ErrorContains(t, err, "no owning type")
}

func TestResolve_Release(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e, tbl := newEngine(t)
	tick := MustDefine(tbl, "example.com/game.Tick", func() int { return 1 })
	d := FuncOf("game", "Tick")

	h, err := e.Register(d, Postfix(func(c *Call) { c.SetResult(0, 2) }))
	require.NoError(err)
	assert.Equal(2, tick())

	assert.ErrorIs(e.Release(d), ErrPatched)

	ep := h.Entry
	require.NoError(e.Unregister(h))
	assert.NoError(e.Release(d))

	// The snapshot of the entry point outlives the cache entry.
	again, err := e.Resolver().Resolve(d)
	require.NoError(err)
	assert.Same(ep, again)
	assert.Equal(1, tick())
}

func TestEntryPoint_Original(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e, tbl := newEngine(t)
	MustDefine(tbl, "example.com/game.Tick", func() int { return 1 })
	d := FuncOf("game", "Tick")

	ep, err := e.Resolver().Resolve(d)
	require.NoError(err)
	_, ok := ep.Original()
	assert.False(ok)

	_, err = e.Register(d, Around(func(c *Call) { c.SetResult(0, 5) }))
	require.NoError(err)

	orig, ok := ep.Original()
	require.True(ok)
	assert.Equal(1, orig.Interface().(func() int)())
}

func TestResolve_ReleaseDuringActivation(t *testing.T) {
	e, tbl := newEngine(t)
	tick := MustDefine(tbl, "example.com/game.Tick", func() int { return 1 })
	d := FuncOf("game", "Tick")

	for range 50 {
		var (
			wg sync.WaitGroup
			h  *Handle
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			var err error
			h, err = e.Register(d, Postfix(func(c *Call) { c.SetResult(0, 2) }))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			err := e.Release(d)
			if err != nil {
				assert.ErrorIs(t, err, ErrPatched)
			}
		}()
		wg.Wait()

		require.NotNil(t, h)
		assert.Equal(t, 2, tick())
		assert.ErrorIs(t, e.Release(d), ErrPatched)
		again, err := e.Resolver().Resolve(d)
		require.NoError(t, err)
		assert.Same(t, h.Entry, again)

		require.NoError(t, e.Unregister(h))
		require.NoError(t, e.Release(d))
	}
}
