package detour

import "reflect"

// Image is a loaded program whose entry points can be patched.
type Image interface {
	// Symbols lists the entry points of the image.
	Symbols() []Symbol

	// Attach prepares sym for patching. sig is the function type to dispatch
	// with; images that know their symbol types may ignore it. Attach is
	// called once per entry point, before its first activation, and must not
	// change the behavior of the target.
	Attach(sym Symbol, sig reflect.Type) (Site, error)
}

// Site is an attached entry point.
type Site interface {
	// Original returns a callable copy of the unpatched body.
	Original() reflect.Value

	// Install routes every later call of the entry point to dispatch, which
	// has the entry point's function type. Install either fully succeeds or
	// leaves the entry point untouched.
	Install(dispatch reflect.Value) error

	// Restore removes the route so the entry point behaves exactly as before
	// the first Install.
	Restore() error
}

// callFunc calls fn with args where the final argument of a variadic
// function is already a slice, as reflect.MakeFunc passes it.
func callFunc(fn reflect.Value, args []reflect.Value) []reflect.Value {
	if fn.Type().IsVariadic() {
		return fn.CallSlice(args)
	}
	return fn.Call(args)
}
