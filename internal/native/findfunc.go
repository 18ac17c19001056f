//go:build linux && amd64

package native

import (
	"errors"
	"reflect"
	"runtime"
	_ "unsafe"
)

type funcInfo struct {
	*_func
	datap *moduledata
}

type _func struct {
	entryOff uint32 // start pc, as offset from moduledata.text/pcHeader.textStart
	nameOff  int32  // function name, as index into moduledata.funcnametab.

	args        int32  // in/out args size
	deferreturn uint32 // offset of start of a deferreturn call instruction from entry, if any.

	pcsp      uint32
	pcfile    uint32
	pcln      uint32
	npcdata   uint32
	cuOffset  uint32 // runtime.cutab offset of this function's CU
	startLine int32  // line number of start of function (func keyword/TEXT directive)
	funcID    uint8  // set for certain special runtime functions
	flag      uint8
	_         [1]byte // pad
	nfuncdata uint8   // must be last, must end on a uint32-aligned boundary
}

// moduledata mirrors the head of runtime.moduledata. It is written by the
// linker and must match cmd/link/internal/ld/symtab.go:symtab for the
// toolchains accepted by SupportedRuntime.
type moduledata struct {
	pcHeader     *pcHeader
	funcnametab  []byte
	cutab        []uint32
	filetab      []byte
	pctab        []byte
	pclntable    []byte
	ftab         []functab
	findfunctab  uintptr
	minpc, maxpc uintptr

	text, etext           uintptr
	noptrdata, enoptrdata uintptr
	data, edata           uintptr
	bss, ebss             uintptr
	noptrbss, enoptrbss   uintptr
	covctrs, ecovctrs     uintptr
	end, gcdata, gcbss    uintptr
	types, etypes         uintptr
	rodata                uintptr
	gofunc                uintptr // go.func.*

	// Struct continues, omitting unused fields.
}

type pcHeader struct {
	magic          uint32  // 0xFFFFFFF1
	pad1, pad2     uint8   // 0,0
	minLC          uint8   // min instruction size
	ptrSize        uint8   // size of a ptr in bytes
	nfunc          int     // number of functions in the module
	nfiles         uint    // number of entries in the file tab
	textStart      uintptr // base for function entry PC offsets in this module, equal to moduledata.text
	funcnameOffset uintptr // offset to the funcnametab variable from pcHeader
	cuOffset       uintptr // offset to the cutab variable from pcHeader
	filetabOffset  uintptr // offset to the filetab variable from pcHeader
	pctabOffset    uintptr // offset to the pctab variable from pcHeader
	pclnOffset     uintptr // offset to the pclntab variable from pcHeader
}

type functab struct {
	entryoff uint32 // relative to runtime.text
	funcoff  uint32
}

//go:linkname findfunc runtime.findfunc
func findfunc(pc uintptr) funcInfo

// Func is one function in the text segment of the running binary.
type Func struct {
	Name  string
	Entry uintptr
	Size  int
}

// Functions lists every function of the module this package is linked into.
func Functions() []Func {
	info := findfunc(reflect.ValueOf(Functions).Pointer())
	if info._func == nil || info.datap == nil {
		return nil
	}
	datap := info.datap

	// The last ftab entry is a sentinel marking the end of the text.
	funcs := make([]Func, 0, len(datap.ftab))
	for i := 0; i+1 < len(datap.ftab); i++ {
		entry := datap.text + uintptr(datap.ftab[i].entryoff)
		fn := runtime.FuncForPC(entry)
		if fn == nil || fn.Entry() != entry {
			continue
		}
		funcs = append(funcs, Func{
			Name:  fn.Name(),
			Entry: entry,
			Size:  int(datap.ftab[i+1].entryoff - datap.ftab[i].entryoff),
		})
	}
	return funcs
}

// Code returns the machine code of the function starting at entry, including
// the alignment padding the linker placed after it.
func Code(entry uintptr) ([]byte, error) {
	info := findfunc(entry)
	if info._func == nil || info.datap == nil {
		return nil, errors.New("no function at entry address")
	}

	// To find the length, look at the offsets of every function and find
	// the one that comes immediately after this one.
	funcOffset := uint32(entry - info.datap.text)
	if info.entryOff != funcOffset {
		return nil, errors.New("address is not a function entry")
	}
	length := uint32(info.datap.etext - entry)

	for _, ft := range info.datap.ftab {
		if ft.entryoff <= funcOffset {
			continue
		}

		testLength := ft.entryoff - funcOffset
		if testLength < length {
			length = testLength
		}
	}

	return codeAt(entry, int(length)), nil
}
