package detour

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pboyd/detour/diag"
)

// Engine ties a resolver, a registry and a controller to one image.
//
// Mutations take the engine's lifecycle lock for reading and the mutex of the
// entry point they touch, so registrations for different entry points run in
// parallel. OnLoad and OnUnload take the lifecycle lock for writing.
type Engine struct {
	image      Image
	diag       *diag.Channel
	resolver   *Resolver
	registry   *registry
	controller *Controller

	lifecycle sync.RWMutex
	loaded    bool
	seq       atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithDiagnostics sends engine events to ch.
func WithDiagnostics(ch *diag.Channel) Option {
	return func(e *Engine) {
		e.diag = ch
	}
}

// New returns an engine over img. It must be loaded before use.
func New(img Image, opts ...Option) *Engine {
	e := &Engine{image: img, registry: &registry{}}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(img, e.diag)
	e.controller = NewController(e.registry, e.diag)
	return e
}

// Resolver returns the engine's resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// OnLoad makes the engine accept registrations.
func (e *Engine) OnLoad() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.loaded = true
	e.diag.Emit(diag.Info, "loaded", diag.Fields{"component": "engine"})
}

// OnUnload restores every patched entry point and drops all bindings. The
// engine can be loaded again afterwards.
func (e *Engine) OnUnload() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if !e.loaded {
		return nil
	}
	e.loaded = false

	err := e.controller.restoreAll()
	e.registry.reset()
	e.diag.Emit(diag.Info, "unloaded", diag.Fields{"component": "engine"})
	return err
}

// Register resolves d, adds b to its entry point and activates the new plan.
// On failure nothing changes: the binding is not kept and the previously
// installed plan stays in place.
func (e *Engine) Register(d Descriptor, b Binding) (*Handle, error) {
	return e.register(d, b, nil)
}

func (e *Engine) register(d Descriptor, b Binding, owner *Registrant) (*Handle, error) {
	h, notify, err := e.registerLoaded(d, b, owner)
	// The conflict handler may call back into the engine, so it runs with no
	// engine lock held.
	if notify != nil {
		notify()
	}
	return h, err
}

func (e *Engine) registerLoaded(d Descriptor, b Binding, owner *Registrant) (*Handle, func(), error) {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()

	if !e.loaded {
		return nil, nil, ErrNotLoaded
	}
	if err := b.validate(); err != nil {
		return nil, nil, err
	}

	ep, err := e.resolver.Resolve(d)
	if err != nil {
		return nil, nil, err
	}

	bind := b
	bind.ID = uuid.New()
	bind.seq = e.seq.Add(1)
	if owner != nil {
		bind.OwnerID = owner.id
		bind.owner = owner.self
	}
	if bind.OwnerID == "" {
		bind.OwnerID = uuid.NewString()
	}

	return e.attach(ep, d, &bind)
}

// attach adds bind under ep's mutex. A conflict handler to run once the mutex
// is released is returned alongside a *PatchConflictError.
func (e *Engine) attach(ep *EntryPoint, d Descriptor, bind *Binding) (*Handle, func(), error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	prev := e.registry.Bindings(ep)
	next := e.registry.add(ep, bind)

	plan, err := Compile(ep, next)
	if err != nil {
		var conflict *PatchConflictError
		if errors.As(err, &conflict) {
			e.diag.Emit(diag.Warn, "patch conflict", diag.Fields{
				"component": "registry",
				"entry":     ep.Name(),
				"existing":  conflict.Existing,
				"incoming":  conflict.Incoming,
			})
			return nil, conflictNotifier(prev, conflict), err
		}
		return nil, nil, err
	}

	e.registry.set(ep, next)
	if err := e.controller.activate(plan); err != nil {
		e.registry.set(ep, prev)
		return nil, nil, err
	}

	h := &Handle{ID: bind.ID, Descriptor: d, Entry: ep, binding: bind}
	e.registry.handles.Store(h.ID, h)
	e.diag.Emit(diag.Debug, "registered", diag.Fields{
		"component": "registry",
		"entry":     ep.Name(),
		"binding":   bind.ID.String(),
		"owner":     bind.OwnerID,
		"phase":     bind.Phase.String(),
		"priority":  bind.Priority,
	})
	return h, nil, nil
}

// conflictNotifier finds the owner of the installed around binding and
// returns a call to its conflict handler, if it has one.
func conflictNotifier(installed []*Binding, err *PatchConflictError) func() {
	for _, b := range installed {
		if b.Phase != PhaseAround {
			continue
		}
		owner := b.Owner()
		if owner == nil || owner.onConflict == nil {
			return nil
		}
		return func() { owner.onConflict(err) }
	}
	return nil
}

// Unregister removes the binding of h. If it was the last binding of its
// entry point the original body is restored, otherwise the plan of the
// remaining bindings is installed.
func (e *Engine) Unregister(h *Handle) error {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()

	if !e.loaded {
		return ErrNotLoaded
	}
	if h == nil {
		return ErrUnknownHandle
	}
	if _, ok := e.registry.handles.LoadAndDelete(h.ID); !ok {
		return ErrUnknownHandle
	}

	ep := h.Entry
	ep.mu.Lock()
	defer ep.mu.Unlock()

	prev := e.registry.Bindings(ep)
	e.registry.set(ep, e.registry.remove(ep, h.binding))
	if err := e.controller.deactivate(ep); err != nil {
		e.registry.set(ep, prev)
		e.registry.handles.Store(h.ID, h)
		return err
	}

	e.diag.Emit(diag.Debug, "unregistered", diag.Fields{
		"component": "registry",
		"entry":     ep.Name(),
		"binding":   h.ID.String(),
	})
	return nil
}

// State reports whether the entry point named by d is patched.
func (e *Engine) State(d Descriptor) (State, error) {
	ep, err := e.resolver.Resolve(d)
	if err != nil {
		return Unpatched, err
	}
	if ep.Patched() {
		return Patched, nil
	}
	return Unpatched, nil
}

// Installed returns the plan installed for the entry point named by d, or nil
// when it is not patched.
func (e *Engine) Installed(d Descriptor) (*Plan, error) {
	ep, err := e.resolver.Resolve(d)
	if err != nil {
		return nil, err
	}
	rec, ok := e.controller.Record(ep)
	if !ok {
		return nil, nil
	}
	return rec.Plan(), nil
}

// Bindings returns the bindings registered for the entry point named by d in
// execution order.
func (e *Engine) Bindings(d Descriptor) ([]Binding, error) {
	plan, err := e.Installed(d)
	if err != nil || plan == nil {
		return nil, err
	}
	out := make([]Binding, len(plan.Bindings))
	for i, b := range plan.Bindings {
		out[i] = *b
	}
	return out, nil
}

// Release forgets the resolution of d. See Resolver.Release.
func (e *Engine) Release(d Descriptor) error {
	if err := e.resolver.Release(d); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}
