package detour

import (
	"fmt"
	"reflect"
	"sync"
)

var (
	processOnce   sync.Once
	processEngine *Engine
	processErr    error

	// Symbol name -> *redefinition.
	redefined sync.Map
)

// redefinition is the around binding Func or Method installed for one
// symbol. mu serializes replacing and restoring it.
type redefinition struct {
	mu     sync.Mutex
	handle *Handle
}

func redefinitionOf(name string) *redefinition {
	v, _ := redefined.LoadOrStore(name, &redefinition{})
	return v.(*redefinition)
}

// defaultEngine returns the engine over the running process used by Func,
// Method, Restore and Original.
func defaultEngine() (*Engine, error) {
	processOnce.Do(func() {
		img, err := NewProcess()
		if err != nil {
			processErr = err
			return
		}
		processEngine = New(img)
		processEngine.OnLoad()
	})
	return processEngine, processErr
}

// Func redefines fn with newFn. An error will be returned if fn or newFn are
// not functions or if their signatures do not match. Redefining fn again
// replaces the previous definition.
//
// Note that if fn has been inlined this will silently fail. If possible, add a
// noinline directive to work-around this problem:
//
//	//go:noinline
//	func myfunc() {
//		...
//	}
func Func(fn, newFn any) error {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	newFnv := reflect.ValueOf(newFn)
	if newFnv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", newFnv.Kind())
	}
	if err := diffFuncs(fnv.Type(), newFnv.Type(), 0); err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}

	return redefine(fn, func(c *Call) {
		c.Results = callFunc(newFnv, c.Args)
	})
}

// Method redefines the method m with newM. Both must be method expressions,
// such as (*bytes.Buffer).WriteString. The receivers may differ as long as
// they have the same size, which lets newM be declared on a type that shares
// the memory layout of the original receiver.
func Method(m, newM any) error {
	mv := reflect.ValueOf(m)
	if mv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", mv.Kind())
	}
	newMv := reflect.ValueOf(newM)
	if newMv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", newMv.Kind())
	}

	mt, nt := mv.Type(), newMv.Type()
	if mt.NumIn() == 0 || nt.NumIn() == 0 {
		return fmt.Errorf("%w: methods must take a receiver", ErrSignatureMismatch)
	}
	if err := diffFuncs(mt, nt, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}

	recv, err := receiverConversion(mt.In(0), nt.In(0))
	if err != nil {
		return err
	}

	return redefine(m, func(c *Call) {
		args := c.Args
		if recv != nil {
			args = append([]reflect.Value{recv(args[0])}, args[1:]...)
		}
		c.Results = callFunc(newMv, args)
	})
}

// receiverConversion returns a function that reinterprets a receiver of type
// from as type to, or nil if the types are the same.
func receiverConversion(from, to reflect.Type) (func(reflect.Value) reflect.Value, error) {
	if from == to {
		return nil, nil
	}

	mismatch := fmt.Errorf("%w: receiver %v cannot stand in for %v", ErrSignatureMismatch, to, from)
	if from.Kind() == reflect.Pointer {
		if to.Kind() != reflect.Pointer || from.Elem().Size() != to.Elem().Size() {
			return nil, mismatch
		}
		return func(v reflect.Value) reflect.Value {
			return reflect.NewAt(to.Elem(), v.UnsafePointer())
		}, nil
	}

	if to.Kind() == reflect.Pointer || from.Size() != to.Size() {
		return nil, mismatch
	}
	return func(v reflect.Value) reflect.Value {
		tmp := reflect.New(from)
		tmp.Elem().Set(v)
		return reflect.NewAt(to, tmp.UnsafePointer()).Elem()
	}, nil
}

func redefine(fn any, hook func(*Call)) error {
	e, err := defaultEngine()
	if err != nil {
		return err
	}
	d, err := Describe(fn)
	if err != nil {
		return err
	}
	ep, err := e.Resolver().Resolve(d)
	if err != nil {
		return err
	}

	r := redefinitionOf(ep.Name())
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil {
		if err := e.Unregister(r.handle); err != nil {
			return err
		}
		r.handle = nil
	}

	h, err := e.Register(d, Around(hook, OwnedBy("redefine")))
	if err != nil {
		return err
	}
	r.handle = h
	return nil
}

// Restore undoes Func or Method. Restoring a function that was never
// redefined does nothing.
func Restore(fn any) error {
	e, err := defaultEngine()
	if err != nil {
		return err
	}
	d, err := Describe(fn)
	if err != nil {
		return err
	}
	ep, err := e.Resolver().Resolve(d)
	if err != nil {
		return err
	}

	r := redefinitionOf(ep.Name())
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle == nil {
		return nil
	}
	if err := e.Unregister(r.handle); err != nil {
		return err
	}
	r.handle = nil
	return nil
}
