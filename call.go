package detour

import (
	"fmt"
	"reflect"

	"github.com/pboyd/detour/diag"
)

// Call is one invocation of a patched entry point as seen by its hooks. Hooks
// of the same invocation share one Call.
type Call struct {
	// Args are the arguments, receiver first for methods. The final argument
	// of a variadic function is a slice.
	Args []reflect.Value

	// Results start as zero values and hold the body's results once it has
	// run.
	Results []reflect.Value

	entry    *EntryPoint
	original reflect.Value
	binding  *Binding
	state    map[string]any
	skipped  bool
	diag     *diag.Channel
}

// Entry returns the entry point being called.
func (c *Call) Entry() *EntryPoint {
	return c.entry
}

// Arg returns argument i.
func (c *Call) Arg(i int) reflect.Value {
	return c.Args[i]
}

// SetArg replaces argument i. v may be a reflect.Value. It panics if v is
// not assignable to the parameter type.
func (c *Call) SetArg(i int, v any) {
	c.Args[i] = assignable(c.original.Type().In(i), v)
}

// Result returns result i.
func (c *Call) Result(i int) reflect.Value {
	return c.Results[i]
}

// SetResult replaces result i. v may be a reflect.Value. It panics if v is
// not assignable to the result type.
func (c *Call) SetResult(i int, v any) {
	c.Results[i] = assignable(c.original.Type().Out(i), v)
}

// Get returns state stored by an earlier hook of the same invocation.
func (c *Call) Get(key string) (any, bool) {
	v, ok := c.state[key]
	return v, ok
}

// Set stores state for later hooks of the same invocation.
func (c *Call) Set(key string, v any) {
	if c.state == nil {
		c.state = map[string]any{}
	}
	c.state[key] = v
}

// Skip asks to skip the original body and the remaining before hooks. Only
// before hooks registered with ShortCircuit may skip. Other requests are
// ignored and reported.
func (c *Call) Skip() {
	b := c.binding
	if b == nil || b.Phase != PhaseBefore || !b.CanShortCircuit {
		c.report(diag.Warn, "skip ignored", nil)
		return
	}
	c.skipped = true
}

// Skipped reports whether a before hook skipped the body.
func (c *Call) Skipped() bool {
	return c.skipped
}

// Proceed runs the original body with the current arguments and stores its
// results. It is only honored from an around hook.
func (c *Call) Proceed() {
	if c.binding == nil || c.binding.Phase != PhaseAround {
		c.report(diag.Warn, "proceed ignored", nil)
		return
	}
	c.Results = callFunc(c.original, c.Args)
}

func (c *Call) report(level diag.Level, msg string, extra diag.Fields) {
	fields := diag.Fields{
		"component": "dispatch",
		"entry":     c.entry.Name(),
	}
	if c.binding != nil {
		fields["binding"] = c.binding.ID.String()
		fields["owner"] = c.binding.OwnerID
		fields["phase"] = c.binding.Phase.String()
	}
	for k, v := range extra {
		fields[k] = v
	}
	c.diag.Emit(level, msg, fields)
}

func assignable(t reflect.Type, v any) reflect.Value {
	rv, ok := v.(reflect.Value)
	if !ok {
		rv = reflect.ValueOf(v)
	}
	if !rv.IsValid() {
		return reflect.Zero(t)
	}
	if !rv.Type().AssignableTo(t) {
		panic(fmt.Sprintf("cannot use %v as %v", rv.Type(), t))
	}
	out := reflect.New(t).Elem()
	out.Set(rv)
	return out
}

func zeroResults(t reflect.Type) []reflect.Value {
	results := make([]reflect.Value, t.NumOut())
	for i := range results {
		results[i] = reflect.Zero(t.Out(i))
	}
	return results
}
