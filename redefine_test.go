package detour

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

//go:noinline
func a() string {
	return "a"
}

func b() string {
	return "b"
}

func TestFunc_InvalidArguments(t *testing.T) {
	tests := map[string]struct {
		fn, newFn any
		msg       string
	}{
		"first arg not a function":  {fn: "not a function", newFn: b, msg: "not a function"},
		"second arg not a function": {fn: a, newFn: 42, msg: "not a function"},
		"both args not functions":   {fn: []int{1, 2, 3}, newFn: map[string]int{}, msg: "not a function"},
		"nil first arg":             {fn: nil, newFn: b, msg: "kind: invalid"},
		"nil second arg":            {fn: a, newFn: nil, msg: "kind: invalid"},
		"different number of inputs": {
			fn:    func(x int) int { return x },
			newFn: func(x, y int) int { return x + y },
			msg:   "signatures do not match",
		},
		"different number of outputs": {
			fn:    func() int { return 1 },
			newFn: func() (int, error) { return 1, nil },
			msg:   "signatures do not match",
		},
		"different input types": {
			fn:    func(x int) int { return x },
			newFn: func(x string) int { return len(x) },
			msg:   "argument 0: int != string",
		},
		"different output types": {
			fn:    func() int { return 1 },
			newFn: func() string { return "1" },
			msg:   "output 0: int != string",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Func(tc.fn, tc.newFn)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestMethod_ReceiverMismatch(t *testing.T) {
	type small struct{ a int8 }
	type large struct{ a, b int64 }

	tests := map[string]struct {
		m, newM any
	}{
		"pointer sizes differ": {
			m:    func(*small) {},
			newM: func(*large) {},
		},
		"pointer and value": {
			m:    func(*large) {},
			newM: func(large) {},
		},
		"value sizes differ": {
			m:    func(small) {},
			newM: func(large) {},
		},
		"no receiver": {
			m:    func() {},
			newM: func() {},
		},
		"arguments differ": {
			m:    func(*small, int) {},
			newM: func(*small, string) {},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Method(tc.m, tc.newM)
			assert.ErrorIs(t, err, ErrSignatureMismatch)
		})
	}
}

func TestReceiverConversion(t *testing.T) {
	type celsius struct{ deg float64 }
	type kelvin struct{ deg float64 }

	conv, err := receiverConversion(reflect.TypeFor[*celsius](), reflect.TypeFor[*kelvin]())
	assert.NoError(t, err)

	c := &celsius{deg: 21}
	k := conv(reflect.ValueOf(c)).Interface().(*kelvin)
	k.deg += 273.15
	assert.InDelta(t, 294.15, c.deg, 1e-9)

	conv, err = receiverConversion(reflect.TypeFor[celsius](), reflect.TypeFor[kelvin]())
	assert.NoError(t, err)
	assert.Equal(t, kelvin{deg: 5}, conv(reflect.ValueOf(celsius{deg: 5})).Interface())

	conv, err = receiverConversion(reflect.TypeFor[celsius](), reflect.TypeFor[celsius]())
	assert.NoError(t, err)
	assert.Nil(t, conv)
}
