//go:build linux && amd64

package native

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
)

// Extra room allocated past a clone for far-call trampolines and padding.
const cloneSlack = 256

// Clone is a relocated copy of a function's code that keeps working after the
// function itself has been redirected.
type Clone struct {
	code []byte
	buf  []byte
}

// CloneFunc copies the function starting at entry into the executable arena.
func CloneFunc(entry uintptr) (*Clone, error) {
	originalCode, err := Code(entry)
	if err != nil {
		return nil, err
	}

	if err := arena.BeginMutate(); err != nil {
		return nil, err
	}
	defer arena.EndMutate()

	buf, err := arena.Allocate(len(originalCode) + cloneSlack)
	if err != nil {
		return nil, err
	}

	code, err := relocateFunc(originalCode, buf)
	if err != nil {
		arena.Free(buf)
		return nil, err
	}

	return &Clone{code: code, buf: buf}, nil
}

// Entry is the address of the first instruction of the clone.
func (c *Clone) Entry() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(c.code)))
}

// Code returns the relocated instructions.
func (c *Clone) Code() []byte {
	return c.code
}

// Free releases the arena memory. The clone must not be running.
func (c *Clone) Free() {
	if c.buf == nil {
		return
	}
	arena.BeginMutate()
	defer arena.EndMutate()

	arena.Free(c.buf)
	c.buf = nil
	c.code = nil
}

type allocator struct {
	*malloc.Arena
	mprotect func(int) error
	mu       sync.Mutex
	initOnce sync.Once
	mutable  bool
}

func (a *allocator) init(startSize int) error {
	var err error
	a.initOnce.Do(func() {
		be := malloc.MmapBackend(malloc.MmapProt(mprotectExec), malloc.MmapFlags(map_32bit))
		if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
			a.mprotect = protBE.Protect
		} else {
			a.mprotect = func(int) error {
				return nil
			}
		}

		a.Arena = malloc.NewArena(uint64(startSize), malloc.Backend(be))
		if a.Arena == nil {
			err = errors.New("unable to initialize arena")
			return
		}
		a.mutable = true
	})
	if err == nil && a.Arena == nil {
		err = errors.New("arena unavailable")
	}
	return err
}

func (a *allocator) BeginMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// BeginMutate can be called before the initial allocation.
	if a.mprotect == nil || a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRWX)
	if err == nil {
		a.mutable = true
	}
	return err
}

func (a *allocator) EndMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable || a.mprotect == nil {
		return nil
	}

	err := a.mprotect(mprotectRX)
	if err == nil {
		a.mutable = false
	}
	return err
}

func (a *allocator) Allocate(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.init(size)
	if err != nil {
		return nil, fmt.Errorf("error initializing allocator: %w", err)
	}

	if !a.mutable {
		return nil, errors.New("allocate called in immutable state")
	}

	return malloc.MallocSlice[byte](a.Arena, size)
}

func (a *allocator) Free(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable || a.Arena == nil {
		return
	}

	malloc.FreeSlice(a.Arena, buf)
}

// Holds clones and trampolines for the life of the process.
var arena = &allocator{}
