package detour

import "reflect"

// Original returns a function with the same behavior as the original version
// of fn. If fn has not been redefined, fn itself is returned.
//
// If the original function cannot be found for any reason Original returns nil.
//
// Technically, this returns a copy of the original that's been relocated and
// had relative addresses adjusted. This process may introduce problems.
func Original[T any](fn T) T {
	var zero T
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return zero
	}

	e, err := defaultEngine()
	if err != nil {
		return fn
	}
	d, err := Describe(fn)
	if err != nil {
		return zero
	}
	ep, err := e.Resolver().Resolve(d)
	if err != nil {
		return zero
	}
	if !ep.Patched() {
		return fn
	}

	orig, ok := ep.Original()
	if !ok || !orig.Type().ConvertibleTo(fnv.Type()) {
		return zero
	}
	return orig.Convert(fnv.Type()).Interface().(T)
}
