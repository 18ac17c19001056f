package detour

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"weak"

	"github.com/google/uuid"
)

// Registrant groups bindings under one owner so they can be applied and
// removed together.
type Registrant struct {
	id         string
	engine     *Engine
	self       weak.Pointer[Registrant]
	onConflict func(*PatchConflictError)

	mu      sync.Mutex
	handles []*Handle
}

// RegistrantOption configures a Registrant.
type RegistrantOption func(*Registrant)

// OnConflict sets the function called when another owner's around binding is
// rejected because one of this registrant's around bindings is installed.
func OnConflict(fn func(*PatchConflictError)) RegistrantOption {
	return func(r *Registrant) {
		r.onConflict = fn
	}
}

// Registrant returns a new owner. An empty id is replaced with a random one.
func (e *Engine) Registrant(id string, opts ...RegistrantOption) *Registrant {
	if id == "" {
		id = uuid.NewString()
	}
	r := &Registrant{id: id, engine: e}
	r.self = weak.Make(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the owner id.
func (r *Registrant) ID() string {
	return r.id
}

// Register registers b against d on behalf of r.
func (r *Registrant) Register(d Descriptor, b Binding) (*Handle, error) {
	h, err := r.engine.register(d, b, r)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.handles = append(r.handles, h)
	r.mu.Unlock()
	return h, nil
}

// Prefix registers a before hook.
func (r *Registrant) Prefix(d Descriptor, hook func(*Call), opts ...BindingOption) (*Handle, error) {
	return r.Register(d, Prefix(hook, opts...))
}

// Postfix registers an after hook.
func (r *Registrant) Postfix(d Descriptor, hook func(*Call), opts ...BindingOption) (*Handle, error) {
	return r.Register(d, Postfix(hook, opts...))
}

// Around registers a hook that replaces the body.
func (r *Registrant) Around(d Descriptor, hook func(*Call), opts ...BindingOption) (*Handle, error) {
	return r.Register(d, Around(hook, opts...))
}

// Patch is one declared interception.
type Patch struct {
	Target  Descriptor
	Binding Binding
}

// Apply registers every patch or none. If one fails, the ones already
// registered by this call are removed again.
func (r *Registrant) Apply(patches ...Patch) error {
	applied := make([]*Handle, 0, len(patches))
	for i, p := range patches {
		h, err := r.engine.register(p.Target, p.Binding, r)
		if err == nil {
			applied = append(applied, h)
			continue
		}

		errs := []error{fmt.Errorf("patch %d (%s): %w", i, p.Target, err)}
		for _, h := range slices.Backward(applied) {
			if uerr := r.engine.Unregister(h); uerr != nil {
				errs = append(errs, fmt.Errorf("rollback %s: %w", h.Entry, uerr))
			}
		}
		return errors.Join(errs...)
	}

	r.mu.Lock()
	r.handles = append(r.handles, applied...)
	r.mu.Unlock()
	return nil
}

// Unpatch removes every binding of r. Handles that could not be removed are
// kept so Unpatch can be retried.
func (r *Registrant) Unpatch() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		errs []error
		kept []*Handle
	)
	for _, h := range slices.Backward(r.handles) {
		err := r.engine.Unregister(h)
		switch {
		case err == nil, errors.Is(err, ErrUnknownHandle), errors.Is(err, ErrNotLoaded):
		default:
			errs = append(errs, fmt.Errorf("unpatch %s: %w", h.Entry, err))
			kept = append(kept, h)
		}
	}
	slices.Reverse(kept)
	r.handles = kept
	return errors.Join(errs...)
}

// Handles returns the live handles of r.
func (r *Registrant) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.handles)
}
