package detour

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotLoaded is returned by mutations before Engine.OnLoad or after
	// Engine.OnUnload.
	ErrNotLoaded = errors.New("engine not loaded")

	// ErrUnknownHandle is returned when unregistering a handle that is not
	// (or no longer) registered.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrPatched is returned when releasing an entry point that is patched.
	ErrPatched = errors.New("entry point is patched")

	// ErrUnsupported is returned on platforms without a native backend.
	ErrUnsupported = errors.New("runtime patching is not supported on this platform")

	// ErrSignatureMismatch is returned when a function type does not match
	// the entry point it is used with.
	ErrSignatureMismatch = errors.New("function signatures do not match")
)

// ResolutionReason says why a descriptor did not resolve.
type ResolutionReason uint8

const (
	NotFound ResolutionReason = iota
	Ambiguous
)

func (r ResolutionReason) String() string {
	if r == Ambiguous {
		return "ambiguous"
	}
	return "not found"
}

// ResolutionError is returned when a descriptor names no symbol or more than
// one.
type ResolutionError struct {
	Descriptor Descriptor
	Reason     ResolutionReason

	// Candidates are the symbols that matched by name. For NotFound they are
	// the symbols rejected by signature, if any.
	Candidates []string

	Err error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s: %s", e.Descriptor, e.Reason)
	if len(e.Candidates) > 0 {
		msg += " (candidates: " + strings.Join(e.Candidates, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// PatchConflictError is returned when a second around binding targets an
// entry point.
type PatchConflictError struct {
	Entry string

	// Existing is the owner of the installed around binding, Incoming the
	// owner of the rejected one.
	Existing string
	Incoming string
}

func (e *PatchConflictError) Error() string {
	return fmt.Sprintf("patch conflict on %s: %s already replaces the body, %s cannot", e.Entry, e.Existing, e.Incoming)
}

// ActivationError is returned when a plan could not be installed or removed.
// The entry point is left in its last known good state.
type ActivationError struct {
	Entry string
	Op    string // "attach", "install" or "restore"
	Err   error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entry, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}
