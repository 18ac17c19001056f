package detour

import (
	"fmt"
	"weak"

	"github.com/google/uuid"
)

// Phase is where a binding runs relative to the original body.
type Phase uint8

const (
	PhaseBefore Phase = iota
	PhaseAround
	PhaseAfter
)

func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseAround:
		return "around"
	case PhaseAfter:
		return "after"
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// Binding is one intent to run a hook when an entry point is called.
type Binding struct {
	ID      uuid.UUID
	OwnerID string

	Phase Phase

	// Priority orders bindings within a phase. Higher runs first.
	Priority int

	Hook func(*Call)

	// CanShortCircuit allows a before hook to skip the original body.
	CanShortCircuit bool

	owner weak.Pointer[Registrant]
	seq   uint64
}

// BindingOption configures a Binding.
type BindingOption func(*Binding)

// WithPriority sets the priority of a binding.
func WithPriority(priority int) BindingOption {
	return func(b *Binding) {
		b.Priority = priority
	}
}

// ShortCircuit lets a before hook call Call.Skip.
func ShortCircuit() BindingOption {
	return func(b *Binding) {
		b.CanShortCircuit = true
	}
}

// OwnedBy sets the owner id of an anonymous binding.
func OwnedBy(id string) BindingOption {
	return func(b *Binding) {
		b.OwnerID = id
	}
}

// Prefix returns a binding that runs hook before the original body.
func Prefix(hook func(*Call), opts ...BindingOption) Binding {
	return newBinding(PhaseBefore, hook, opts)
}

// Postfix returns a binding that runs hook after the original body. Its Call
// holds the results, which the hook may replace.
func Postfix(hook func(*Call), opts ...BindingOption) Binding {
	return newBinding(PhaseAfter, hook, opts)
}

// Around returns a binding that runs hook instead of the original body. The
// hook may call Call.Proceed to run the original.
func Around(hook func(*Call), opts ...BindingOption) Binding {
	return newBinding(PhaseAround, hook, opts)
}

func newBinding(phase Phase, hook func(*Call), opts []BindingOption) Binding {
	b := Binding{Phase: phase, Hook: hook}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Owner returns the registrant that registered b, or nil if it was anonymous
// or has been collected.
func (b Binding) Owner() *Registrant {
	return b.owner.Value()
}

func (b Binding) validate() error {
	if b.Hook == nil {
		return fmt.Errorf("%s binding has no hook", b.Phase)
	}
	if b.Phase > PhaseAfter {
		return fmt.Errorf("invalid phase %d", b.Phase)
	}
	return nil
}
