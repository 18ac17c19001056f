package config

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// Entry is one bound setting.
type Entry[T Scalar] struct {
	Section     string
	Key         string
	Description string

	def         T
	constraints []Constraint[T]

	mu    sync.RWMutex
	value T
}

// Value returns the current value.
func (e *Entry[T]) Value() T {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value
}

// Default returns the value used when none is stored.
func (e *Entry[T]) Default() T {
	return e.def
}

// Set changes the value. Values that violate a constraint are rejected.
func (e *Entry[T]) Set(v T) error {
	if err := e.check(v); err != nil {
		return fmt.Errorf("%s.%s: %w", e.Section, e.Key, err)
	}
	e.mu.Lock()
	e.value = v
	e.mu.Unlock()
	return nil
}

// Reset restores the default.
func (e *Entry[T]) Reset() {
	e.mu.Lock()
	e.value = e.def
	e.mu.Unlock()
}

func (e *Entry[T]) check(v T) error {
	for _, c := range e.constraints {
		if !c.Allows(v) {
			return fmt.Errorf("%v is outside %s", v, c)
		}
	}
	return nil
}

func (e *Entry[T]) section() string     { return e.Section }
func (e *Entry[T]) key() string         { return e.Key }
func (e *Entry[T]) description() string { return e.Description }

func (e *Entry[T]) encode() (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(e.Value()); err != nil {
		return nil, err
	}
	return &n, nil
}

func (e *Entry[T]) validate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.check(e.value); err != nil {
		e.value = e.def
		return err
	}
	return nil
}

// Constraint limits the values of an entry.
type Constraint[T Scalar] interface {
	Allows(v T) bool
	String() string
}

type valueRange[T int | int64 | float64] struct {
	min, max T
}

// Range accepts values between min and max inclusive.
func Range[T int | int64 | float64](min, max T) Constraint[T] {
	return valueRange[T]{min: min, max: max}
}

func (r valueRange[T]) Allows(v T) bool {
	return v >= r.min && v <= r.max
}

func (r valueRange[T]) String() string {
	return fmt.Sprintf("[%v, %v]", r.min, r.max)
}

type oneOf[T Scalar] struct {
	values []T
}

// OneOf accepts only the listed values.
func OneOf[T Scalar](values ...T) Constraint[T] {
	return oneOf[T]{values: values}
}

func (o oneOf[T]) Allows(v T) bool {
	for _, x := range o.values {
		if x == v {
			return true
		}
	}
	return false
}

func (o oneOf[T]) String() string {
	return fmt.Sprintf("%v", o.values)
}
