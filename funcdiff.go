package detour

import (
	"errors"
	"fmt"
	"reflect"
)

// diffFuncs compares the parameters and results of two function types,
// ignoring the first skip parameters. It returns nil when they match.
func diffFuncs(a, b reflect.Type, skip int) error {
	var errs []error
	if a.IsVariadic() != b.IsVariadic() {
		errs = append(errs, fmt.Errorf("variadic: %v != %v", a.IsVariadic(), b.IsVariadic()))
	}
	errs = append(errs, diffTypes("argument", skip, a.NumIn(), b.NumIn(), a.In, b.In)...)
	errs = append(errs, diffTypes("output", 0, a.NumOut(), b.NumOut(), a.Out, b.Out)...)
	return errors.Join(errs...)
}

func diffTypes(what string, from, na, nb int, at, bt func(int) reflect.Type) []error {
	var errs []error
	for i := from; i < max(na, nb); i++ {
		var a, b reflect.Type
		if i < na {
			a = at(i)
		}
		if i < nb {
			b = bt(i)
		}
		if a != b {
			errs = append(errs, fmt.Errorf("%s %d: %v != %v", what, i, a, b))
		}
	}
	return errs
}

// signatureError wraps ErrSignatureMismatch with the differences between
// want and got.
func signatureError(want, got reflect.Type) error {
	return fmt.Errorf("%w: %w", ErrSignatureMismatch, diffFuncs(want, got, 0))
}
