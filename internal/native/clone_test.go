//go:build linux && amd64

package native

import (
	"io"
	"reflect"
	"strconv"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

//go:noinline
func simpleTestCloneFunc(v uint8) uint16 {
	return uint16(v)<<8 | uint16(v)
}

//go:noinline
func testCloneFuncWithData() string {
	return "something static"
}

//go:noinline
func testCloneFuncWithLoop(n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += i
	}
	return sum
}

//go:noinline
func testCloneFuncMultipleReturns(v int) (int, error) {
	if v < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return v * 2, nil
}

//go:noinline
func testCloneFuncWithOneCall(v int) string {
	return strconv.Itoa(v + 1)
}

func TestRelocateFunc_ExternalCall(t *testing.T) {
	entry := reflect.ValueOf(testCloneFuncWithOneCall).Pointer()
	code, err := Code(entry)
	require.NoError(t, err)

	c, err := CloneFunc(entry)
	require.NoError(t, err)
	t.Cleanup(c.Free)

	// Every call in the copy must land where the original call landed.
	assert.Equal(t, callTargets(t, code, entry), callTargets(t, c.Code(), c.Entry()))
}

func callTargets(t *testing.T, code []byte, base uintptr) []uintptr {
	var targets []uintptr
	for i := 0; i < len(code); {
		inst, err := x86asm.Decode(code[i:], 64)
		if err != nil {
			break
		}
		if inst.Op == x86asm.CALL {
			if rel, ok := relArg(inst); ok {
				targets = append(targets, uintptr(int64(base)+int64(i+inst.Len)+int64(rel)))
			}
		}
		i += inst.Len
	}
	require.NotEmpty(t, targets)
	return targets
}

// asFunc views code at entry as a function of type T.
func asFunc[T any](entry uintptr) T {
	code := unsafe.Pointer(entry)
	ref := &code
	return *(*T)(unsafe.Pointer(&ref))
}

func TestCloneFunc(t *testing.T) {
	cases := map[string]struct {
		fn   any
		call func(entry uintptr) any
		want any
	}{
		"simple function": {
			fn:   simpleTestCloneFunc,
			call: func(e uintptr) any { return asFunc[func(uint8) uint16](e)(0xf) },
			want: simpleTestCloneFunc(0xf),
		},
		"function with static data": {
			fn:   testCloneFuncWithData,
			call: func(e uintptr) any { return asFunc[func() string](e)() },
			want: testCloneFuncWithData(),
		},
		"function with loop": {
			fn:   testCloneFuncWithLoop,
			call: func(e uintptr) any { return asFunc[func(int) int](e)(10) },
			want: testCloneFuncWithLoop(10),
		},
		"multiple returns": {
			fn: testCloneFuncMultipleReturns,
			call: func(e uintptr) any {
				_, err := asFunc[func(int) (int, error)](e)(-1)
				return err
			},
			want: io.ErrUnexpectedEOF,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := CloneFunc(reflect.ValueOf(tc.fn).Pointer())
			require.NoError(t, err)
			t.Cleanup(c.Free)

			assert.NotEqual(t, reflect.ValueOf(tc.fn).Pointer(), c.Entry())
			assert.Equal(t, tc.want, tc.call(c.Entry()))
		})
	}
}

func TestCode(t *testing.T) {
	entry := reflect.ValueOf(testCloneFuncWithLoop).Pointer()
	code, err := Code(entry)
	require.NoError(t, err)
	assert.NotEmpty(t, code)

	_, err = Code(entry + 1)
	assert.Error(t, err)
}

func TestFunctions(t *testing.T) {
	funcs := Functions()
	require.NotEmpty(t, funcs)

	entry := reflect.ValueOf(testCloneFuncWithLoop).Pointer()
	found := false
	for _, fn := range funcs {
		if fn.Entry == entry {
			found = true
			assert.Equal(t, "github.com/pboyd/detour/internal/native.testCloneFuncWithLoop", fn.Name)
			assert.Greater(t, fn.Size, 0)
		}
	}
	assert.True(t, found)
}

func TestRelocateFunc_PadsToSixteen(t *testing.T) {
	code, err := Code(reflect.ValueOf(simpleTestCloneFunc).Pointer())
	require.NoError(t, err)

	dest := make([]byte, len(code)+cloneSlack)
	out, err := relocateFunc(code, dest)
	require.NoError(t, err)
	assert.Zero(t, len(out)%16)
}

func TestArenaLowAndProtected(t *testing.T) {
	require := require.New(t)

	tramp, err := NewTrampoline(0, reflect.ValueOf(simpleTestCloneFunc).Pointer())
	require.NoError(err)
	defer tramp.Free()

	require.NotNil(arena.mprotect)
	// MAP_32BIT keeps the arena within rel32 reach of the text segment.
	assert.Less(t, uint64(tramp.Entry()), uint64(1)<<31)
	assert.False(t, arena.mutable, "arena left writable")
}
