package detour

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one registered binding.
type Handle struct {
	ID         uuid.UUID
	Descriptor Descriptor
	Entry      *EntryPoint

	binding *Binding
}

// Binding returns a copy of the registered binding.
func (h *Handle) Binding() Binding {
	return *h.binding
}

// registry holds the bindings of every entry point. Lists are replaced, never
// modified in place, and only while the entry point's mutex is held.
type registry struct {
	bindings sync.Map // *EntryPoint -> []*Binding
	handles  sync.Map // uuid.UUID -> *Handle
}

func (r *registry) Bindings(ep *EntryPoint) []*Binding {
	v, ok := r.bindings.Load(ep)
	if !ok {
		return nil
	}
	return v.([]*Binding)
}

func (r *registry) set(ep *EntryPoint, list []*Binding) {
	if len(list) == 0 {
		r.bindings.Delete(ep)
		return
	}
	r.bindings.Store(ep, list)
}

func (r *registry) add(ep *EntryPoint, b *Binding) []*Binding {
	return append(slices.Clone(r.Bindings(ep)), b)
}

func (r *registry) remove(ep *EntryPoint, b *Binding) []*Binding {
	return slices.DeleteFunc(slices.Clone(r.Bindings(ep)), func(x *Binding) bool {
		return x == b
	})
}

func (r *registry) reset() {
	r.bindings.Clear()
	r.handles.Clear()
}
