package detour

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pboyd/detour/diag"
)

// EntryPoint is a resolved, patchable member of an image. Every descriptor
// that resolves to the same symbol shares one EntryPoint.
type EntryPoint struct {
	Symbol Symbol

	image Image

	// mu serializes registration and activation for this entry point.
	mu      sync.Mutex
	sig     reflect.Type
	site    Site
	patched atomic.Bool
}

// Name returns the full symbol name.
func (ep *EntryPoint) Name() string {
	return ep.Symbol.Name
}

// Signature returns the function type of the entry point, or nil when neither
// the image nor any descriptor has supplied one.
func (ep *EntryPoint) Signature() reflect.Type {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.sig
}

// Patched reports whether a plan is installed.
func (ep *EntryPoint) Patched() bool {
	return ep.patched.Load()
}

// Original returns the unpatched body. It is only available once the entry
// point has been activated at least once.
func (ep *EntryPoint) Original() (reflect.Value, bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.site == nil {
		return reflect.Value{}, false
	}
	return ep.site.Original(), true
}

func (ep *EntryPoint) String() string {
	return ep.Symbol.Name
}

// attach creates the site on first use. The caller holds mu.
func (ep *EntryPoint) attach() (Site, error) {
	if ep.site != nil {
		return ep.site, nil
	}
	site, err := ep.image.Attach(ep.Symbol, ep.sig)
	if err != nil {
		return nil, err
	}
	ep.site = site
	return site, nil
}

// Resolver turns descriptors into entry points of one image.
type Resolver struct {
	image Image
	diag  *diag.Channel

	cache   sync.Map // Descriptor -> *EntryPoint
	entries sync.Map // symbol name -> *EntryPoint
}

// NewResolver returns a resolver over img. ch may be nil.
func NewResolver(img Image, ch *diag.Channel) *Resolver {
	return &Resolver{image: img, diag: ch}
}

// Resolve finds the single symbol named by d. It fails with a
// *ResolutionError when there is no such symbol or more than one. Results are
// cached, so resolving the same descriptor again returns the same entry point.
func (r *Resolver) Resolve(d Descriptor) (*EntryPoint, error) {
	if v, ok := r.cache.Load(d); ok {
		return v.(*EntryPoint), nil
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("invalid descriptor %s: %w", d, err)
	}

	var named, matched []Symbol
	for _, sym := range r.image.Symbols() {
		if !d.matches(sym) {
			continue
		}
		named = append(named, sym)
		if d.Signature != nil && sym.Func != nil && sym.Func != d.Signature {
			continue
		}
		matched = append(matched, sym)
	}

	switch len(matched) {
	case 0:
		err := &ResolutionError{Descriptor: d, Reason: NotFound}
		if len(named) > 0 {
			err.Candidates = symbolNames(named)
			err.Err = ErrSignatureMismatch
		}
		r.fail(err)
		return nil, err
	case 1:
	default:
		err := &ResolutionError{Descriptor: d, Reason: Ambiguous, Candidates: symbolNames(matched)}
		r.fail(err)
		return nil, err
	}

	ep, err := r.entry(matched[0], d.Signature)
	if err != nil {
		return nil, err
	}
	v, loaded := r.cache.LoadOrStore(d, ep)
	if !loaded {
		r.diag.Emit(diag.Debug, "resolved", diag.Fields{
			"component":  "resolver",
			"descriptor": d.String(),
			"symbol":     ep.Name(),
		})
	}
	return v.(*EntryPoint), nil
}

// Release drops the cached resolution of d. It fails with ErrPatched while the
// entry point is patched.
func (r *Resolver) Release(d Descriptor) error {
	v, ok := r.cache.Load(d)
	if !ok {
		return nil
	}
	ep := v.(*EntryPoint)
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.Patched() {
		return fmt.Errorf("release %s: %w", ep.Name(), ErrPatched)
	}
	r.cache.CompareAndDelete(d, ep)
	return nil
}

func (r *Resolver) entry(sym Symbol, sig reflect.Type) (*EntryPoint, error) {
	fresh := &EntryPoint{Symbol: sym, image: r.image, sig: sym.Func}
	if fresh.sig == nil {
		fresh.sig = sig
	}

	v, loaded := r.entries.LoadOrStore(sym.Name, fresh)
	ep := v.(*EntryPoint)
	if !loaded || sig == nil {
		return ep, nil
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	switch {
	case ep.sig == nil:
		ep.sig = sig
	case ep.sig != sig:
		return nil, fmt.Errorf("%s is already resolved as %v: %w", sym.Name, ep.sig, signatureError(ep.sig, sig))
	}
	return ep, nil
}

func (r *Resolver) fail(err *ResolutionError) {
	r.diag.Emit(diag.Warn, "resolution failed", diag.Fields{
		"component":  "resolver",
		"descriptor": err.Descriptor.String(),
		"reason":     err.Reason.String(),
		"candidates": err.Candidates,
	})
}

func symbolNames(syms []Symbol) []string {
	names := make([]string, len(syms))
	for i, sym := range syms {
		names[i] = sym.Name
	}
	return names
}
