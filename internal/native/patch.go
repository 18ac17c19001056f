//go:build linux && amd64

package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Neighbouring functions share code pages, so protection changes are made one
// at a time.
var pageMu sync.Mutex

// Trampoline is a closure stub living in the executable arena.
type Trampoline struct {
	buf []byte
}

// NewTrampoline builds a stub that enters code with ctxt in the closure
// context register.
func NewTrampoline(ctxt, code uintptr) (*Trampoline, error) {
	if err := arena.BeginMutate(); err != nil {
		return nil, err
	}
	defer arena.EndMutate()

	stub := closureStub(ctxt, code)
	buf, err := arena.Allocate(len(stub))
	if err != nil {
		return nil, err
	}
	copy(buf, stub)

	return &Trampoline{buf: buf}, nil
}

// Entry is the address to jump to.
func (t *Trampoline) Entry() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(t.buf)))
}

// Free releases the stub. Nothing may jump to it afterwards.
func (t *Trampoline) Free() {
	if t.buf == nil {
		return
	}
	arena.BeginMutate()
	defer arena.EndMutate()

	arena.Free(t.buf)
	t.buf = nil
}

// Prologue is the first word of a function, saved before it was overwritten.
type Prologue struct {
	entry    uintptr
	original uint64
}

// SavePrologue records the first eight bytes of the function at entry.
func SavePrologue(entry uintptr) (*Prologue, error) {
	if entry%8 != 0 {
		return nil, fmt.Errorf("entry %#x is not 8-byte aligned", entry)
	}
	code, err := Code(entry)
	if err != nil {
		return nil, err
	}
	if len(code) < 8 {
		return nil, errors.New("function too small for jump instruction")
	}

	return &Prologue{
		entry:    entry,
		original: atomic.LoadUint64((*uint64)(unsafe.Pointer(entry))),
	}, nil
}

// Bytes returns a copy of the saved prologue.
func (p *Prologue) Bytes() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.original)
	return buf
}

// Redirect makes the function jump to dest. The swap is one atomic store, so a
// caller entering the function sees either the old or the new prologue.
func (p *Prologue) Redirect(dest uintptr) error {
	word, err := jumpWord(p.entry, dest, p.original)
	if err != nil {
		return err
	}
	return storeWord(p.entry, word)
}

// Restore puts the saved prologue back and checks it landed.
func (p *Prologue) Restore() error {
	if err := storeWord(p.entry, p.original); err != nil {
		return err
	}
	if got := atomic.LoadUint64((*uint64)(unsafe.Pointer(p.entry))); got != p.original {
		return fmt.Errorf("prologue at %#x is %#x after restore, want %#x", p.entry, got, p.original)
	}
	return nil
}

// Redirected reports whether the function currently starts with a jump
// written by Redirect.
func (p *Prologue) Redirected() bool {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(p.entry))) != p.original
}

func storeWord(entry uintptr, word uint64) error {
	pageMu.Lock()
	defer pageMu.Unlock()

	code := codeAt(entry, 8)

	err := mprotect(code, mprotectRWX)
	if err != nil {
		return err
	}
	defer mprotect(code, mprotectRX)

	atomic.StoreUint64((*uint64)(unsafe.Pointer(entry)), word)
	return nil
}
