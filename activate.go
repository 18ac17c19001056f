package detour

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pboyd/detour/diag"
)

// State is the activation state of an entry point.
type State uint8

const (
	Unpatched State = iota
	Patched
)

func (s State) String() string {
	if s == Patched {
		return "patched"
	}
	return "unpatched"
}

// BindingSource supplies the current bindings of an entry point.
type BindingSource interface {
	Bindings(ep *EntryPoint) []*Binding
}

// ActivationRecord is the installed state of one patched entry point. It
// exists while at least one binding targets the entry point.
type ActivationRecord struct {
	Entry *EntryPoint

	plan     atomic.Pointer[Plan]
	version  uint64
	dispatch reflect.Value
}

// Plan returns the installed plan.
func (r *ActivationRecord) Plan() *Plan {
	return r.plan.Load()
}

// Controller installs plans into entry points and removes them.
type Controller struct {
	source BindingSource
	diag   *diag.Channel

	records sync.Map // *EntryPoint -> *ActivationRecord
}

// NewController returns a controller that asks source for the remaining
// bindings when an entry point is deactivated. ch may be nil.
func NewController(source BindingSource, ch *diag.Channel) *Controller {
	return &Controller{source: source, diag: ch}
}

// Activate installs plan. The first activation of an entry point attaches it
// and routes calls through a dispatcher; later ones swap the plan the
// dispatcher reads. Installing a plan with the fingerprint of the installed
// one does nothing. On failure the entry point keeps its previous state and
// an *ActivationError is returned.
func (c *Controller) Activate(plan *Plan) error {
	ep := plan.Entry
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return c.activate(plan)
}

// Deactivate recomputes the plan of ep from its remaining bindings. With none
// left the original body is restored and the record deleted.
func (c *Controller) Deactivate(ep *EntryPoint) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return c.deactivate(ep)
}

// Record returns the activation record of ep, if it is patched.
func (c *Controller) Record(ep *EntryPoint) (*ActivationRecord, bool) {
	v, ok := c.records.Load(ep)
	if !ok {
		return nil, false
	}
	return v.(*ActivationRecord), true
}

// activate is Activate with ep.mu held.
func (c *Controller) activate(plan *Plan) error {
	ep := plan.Entry

	if rec, ok := c.Record(ep); ok {
		cur := rec.plan.Load()
		if cur.Fingerprint == plan.Fingerprint {
			return nil
		}
		rec.version++
		next := *plan
		next.Version = rec.version
		rec.plan.Store(&next)
		c.emitVersion(ep, rec.version)
		return nil
	}

	if ep.sig == nil {
		return c.fail(ep, "attach", errors.New("signature unknown, resolve with a descriptor that has one"))
	}
	site, err := ep.attach()
	if err != nil {
		return c.fail(ep, "attach", err)
	}

	rec := &ActivationRecord{Entry: ep, version: 1}
	next := *plan
	next.Version = 1
	rec.plan.Store(&next)

	original := site.Original()
	ch := c.diag
	rec.dispatch = reflect.MakeFunc(ep.sig, func(args []reflect.Value) []reflect.Value {
		return rec.plan.Load().invoke(original, args, ch)
	})

	if err := site.Install(rec.dispatch); err != nil {
		return c.fail(ep, "install", err)
	}

	c.records.Store(ep, rec)
	ep.patched.Store(true)
	c.emitVersion(ep, 1)
	return nil
}

// deactivate is Deactivate with ep.mu held.
func (c *Controller) deactivate(ep *EntryPoint) error {
	if _, ok := c.Record(ep); !ok {
		return nil
	}

	bindings := c.source.Bindings(ep)
	if len(bindings) == 0 {
		return c.restore(ep)
	}

	plan, err := Compile(ep, bindings)
	if err != nil {
		return err
	}
	return c.activate(plan)
}

// restore removes the route of ep regardless of its bindings. The caller
// holds ep.mu.
func (c *Controller) restore(ep *EntryPoint) error {
	if _, ok := c.Record(ep); !ok {
		return nil
	}
	if err := ep.site.Restore(); err != nil {
		return c.fail(ep, "restore", err)
	}

	c.records.Delete(ep)
	ep.patched.Store(false)
	c.diag.Emit(diag.Info, "restored", diag.Fields{
		"component": "controller",
		"entry":     ep.Name(),
	})
	return nil
}

// restoreAll restores every patched entry point and joins the errors.
func (c *Controller) restoreAll() error {
	var errs []error
	c.records.Range(func(k, v any) bool {
		ep := k.(*EntryPoint)
		ep.mu.Lock()
		if err := c.restore(ep); err != nil {
			errs = append(errs, err)
			c.passThrough(v.(*ActivationRecord))
		}
		ep.mu.Unlock()
		return true
	})
	return errors.Join(errs...)
}

// passThrough installs an empty plan into a record whose site could not be
// restored, so calls reach the original body without running any binding.
// The record is kept and a later restore tries again. The caller holds the
// entry point's mutex.
func (c *Controller) passThrough(rec *ActivationRecord) {
	empty, _ := Compile(rec.Entry, nil)
	if rec.plan.Load().Fingerprint == empty.Fingerprint {
		return
	}
	rec.version++
	empty.Version = rec.version
	rec.plan.Store(empty)
	c.diag.Emit(diag.Warn, "passing calls through", diag.Fields{
		"component": "controller",
		"entry":     rec.Entry.Name(),
		"version":   rec.version,
	})
}

func (c *Controller) fail(ep *EntryPoint, op string, err error) error {
	aerr := &ActivationError{Entry: ep.Name(), Op: op, Err: err}
	c.diag.Emit(diag.Error, "activation failed", diag.Fields{
		"component": "controller",
		"entry":     ep.Name(),
		"op":        op,
		"err":       err,
	})
	return aerr
}

func (c *Controller) emitVersion(ep *EntryPoint, version uint64) {
	c.diag.Emit(diag.Info, "plan installed", diag.Fields{
		"component": "controller",
		"entry":     ep.Name(),
		"version":   version,
	})
}
