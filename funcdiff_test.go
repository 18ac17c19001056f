package detour

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffFuncs(t *testing.T) {
	tests := map[string]struct {
		a, b any
		skip int
		want []string
	}{
		"equal": {
			a: func(int) string { return "" },
			b: func(int) string { return "" },
		},
		"argument type": {
			a:    func(int, string) {},
			b:    func(int, bool) {},
			want: []string{"argument 1: string != bool"},
		},
		"extra argument": {
			a:    func(int) {},
			b:    func(int, int) {},
			want: []string{"argument 1: <nil> != int"},
		},
		"missing output": {
			a:    func() (int, error) { return 0, nil },
			b:    func() int { return 0 },
			want: []string{"output 1: error != <nil>"},
		},
		"variadic": {
			a:    func(...int) {},
			b:    func([]int) {},
			want: []string{"variadic: true != false"},
		},
		"skipped receiver": {
			a:    func(*Foo, int) {},
			b:    func(*Player, int) {},
			skip: 1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := diffFuncs(reflect.TypeOf(tc.a), reflect.TypeOf(tc.b), tc.skip)
			if len(tc.want) == 0 {
				assert.NoError(t, err)
				return
			}
			for _, msg := range tc.want {
				assert.ErrorContains(t, err, msg)
			}
		})
	}
}
