package detour

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"

	"github.com/pboyd/detour/diag"
	"github.com/zeebo/xxh3"
)

// Plan is the composed set of bindings for one entry point. Plans are
// immutable once compiled.
type Plan struct {
	Entry *EntryPoint

	// Bindings in execution order: before, around, after. Within a phase
	// higher priority runs first and ties run in registration order.
	Bindings []*Binding

	// Fingerprint identifies the content of the plan. Equal fingerprints
	// execute identically.
	Fingerprint uint64

	// Version is assigned by the controller when the plan is installed.
	Version uint64

	before []*Binding
	around *Binding
	after  []*Binding
}

// Compile orders bindings into a plan for ep. It fails with a
// *PatchConflictError if more than one binding replaces the body.
func Compile(ep *EntryPoint, bindings []*Binding) (*Plan, error) {
	ordered := slices.Clone(bindings)
	slices.SortStableFunc(ordered, compareBindings)

	p := &Plan{Entry: ep, Bindings: ordered}
	for _, b := range ordered {
		switch b.Phase {
		case PhaseBefore:
			p.before = append(p.before, b)
		case PhaseAfter:
			p.after = append(p.after, b)
		case PhaseAround:
			if p.around != nil {
				existing, incoming := p.around, b
				if incoming.seq < existing.seq {
					existing, incoming = incoming, existing
				}
				return nil, &PatchConflictError{
					Entry:    ep.Name(),
					Existing: existing.OwnerID,
					Incoming: incoming.OwnerID,
				}
			}
			p.around = b
		default:
			return nil, fmt.Errorf("binding %s: invalid phase %d", b.ID, b.Phase)
		}
	}
	p.Fingerprint = fingerprint(ordered)
	return p, nil
}

func compareBindings(a, b *Binding) int {
	if c := cmp.Compare(a.Phase, b.Phase); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func fingerprint(bindings []*Binding) uint64 {
	h := xxh3.New()
	var buf [10]byte
	for _, b := range bindings {
		h.Write(b.ID[:])
		buf[0] = byte(b.Phase)
		buf[1] = 0
		if b.CanShortCircuit {
			buf[1] = 1
		}
		binary.LittleEndian.PutUint64(buf[2:], uint64(int64(b.Priority)))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// invoke runs one call of the entry point through the plan.
func (p *Plan) invoke(original reflect.Value, args []reflect.Value, ch *diag.Channel) []reflect.Value {
	c := &Call{
		Args:     slices.Clone(args),
		Results:  zeroResults(original.Type()),
		entry:    p.Entry,
		original: original,
		diag:     ch,
	}

	for _, b := range p.before {
		runHook(c, b)
		if c.skipped {
			break
		}
	}

	if !c.skipped {
		if p.around != nil {
			// A panic here replaces the body's own panic, so it propagates.
			c.binding = p.around
			p.around.Hook(c)
			c.binding = nil
		} else {
			c.Results = callFunc(original, c.Args)
		}
	}

	for _, b := range p.after {
		runHook(c, b)
	}
	return c.Results
}

func runHook(c *Call, b *Binding) {
	c.binding = b
	defer func() {
		if r := recover(); r != nil {
			c.report(diag.Error, "hook panicked", diag.Fields{"panic": fmt.Sprint(r)})
		}
		c.binding = nil
	}()
	b.Hook(c)
}
