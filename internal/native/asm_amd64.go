//go:build linux && amd64

package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

const (
	opcodeCALLabs = 0xff // CALL r/m64
	opcodeCALLrel = 0xe8 // CALL rel32
	opcodeINT3    = 0xcc
	opcodeJMP     = 0xe9 // JMP rel32

	opcodeMOV_imm_rm = 0xc7 // MOV imm, r/m

	regModeDirect = 3
	registerBP    = 5

	// Size of the jump written over a function entry.
	jumpSize = 5
)

// relocateFunc copies machine instructions from src into dest translating
// relative instructions as it goes. cap(dest) must be larger than len(src).
//
// The data underlying the slices is assumed to be the same address the code
// would execute from.
//
// The dest slice is returned after being resized.
func relocateFunc(src, dest []byte) ([]byte, error) {
	srcBase := uintptr(unsafe.Pointer(unsafe.SliceData(src)))
	destBase := uintptr(unsafe.Pointer(unsafe.SliceData(dest)))

	// Trim INT3 opcodes from the end of src
	padStart := len(src) - 1
	for ; padStart > 0 && src[padStart] == opcodeINT3; padStart-- {
	}
	src = src[:padStart+1]

	if cap(dest) < len(src) {
		return nil, errors.New("destination too small")
	}
	dest = dest[:len(src)]

	srcEnd := srcBase + uintptr(len(src))

	for i := 0; i < len(src); {
		instruction, err := x86asm.Decode(src[i:], 64)
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}

		copy(dest[i:], src[i:i+instruction.Len])

		srcAddr := srcBase + uintptr(i) + uintptr(instruction.Len)
		destAddr := destBase + uintptr(i) + uintptr(instruction.Len)

		if rel, ok := relArg(instruction); ok {
			target := uintptr(int64(srcAddr) + int64(rel))
			if target >= srcBase && target < srcEnd {
				// Jumps inside the function move with it.
				i += instruction.Len
				continue
			}
			if instruction.PCRel != 4 {
				return nil, fmt.Errorf("offset %d: short branch leaves the function", i)
			}

			newRel := int64(target) - int64(destAddr)
			if newRel >= math.MinInt32 && newRel <= math.MaxInt32 {
				binary.LittleEndian.PutUint32(dest[i+instruction.Len-4:], uint32(int32(newRel)))
			} else if src[i] == opcodeCALLrel {
				// The new address is too far to call directly
				jumpBack := int32(i + instruction.Len - len(dest))
				ccBuf, err := farCall(target, jumpBack)
				if err != nil {
					return nil, fmt.Errorf("unable to generate call code: %w", err)
				}
				if len(dest)+len(ccBuf) > cap(dest) {
					return nil, errors.New("no room for far call")
				}
				jumpTo := int32(len(dest) - (i + instruction.Len))

				dest = append(dest, ccBuf...)

				dest[i] = opcodeJMP
				binary.LittleEndian.PutUint32(dest[i+1:], uint32(jumpTo))
			} else {
				return nil, fmt.Errorf("offset %d: branch target out of range", i)
			}
		} else if mem, ok := ripArg(instruction); ok {
			off, ok := dispOffset(src[i:i+instruction.Len], int32(mem.Disp))
			if !ok {
				return nil, fmt.Errorf("offset %d: unable to locate displacement", i)
			}

			newDisp := (int64(srcAddr) + mem.Disp) - int64(destAddr)
			if newDisp < math.MinInt32 || newDisp > math.MaxInt32 {
				return nil, fmt.Errorf("offset %d: unable to translate instruction relative address", i)
			}

			binary.LittleEndian.PutUint32(dest[i+off:], uint32(int32(newDisp)))
		}

		i += instruction.Len
	}

	// Pad to 16-bytes
	for len(dest)&0xf != 0 && len(dest) < cap(dest) {
		dest = append(dest, opcodeINT3)
	}

	return dest, nil
}

func relArg(inst x86asm.Inst) (x86asm.Rel, bool) {
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if rel, ok := arg.(x86asm.Rel); ok {
			return rel, true
		}
	}
	return 0, false
}

func ripArg(inst x86asm.Inst) (x86asm.Mem, bool) {
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if mem, ok := arg.(x86asm.Mem); ok && mem.Base == x86asm.RIP {
			return mem, true
		}
	}
	return x86asm.Mem{}, false
}

// dispOffset finds the RIP displacement inside an encoded instruction. The
// displacement is followed only by an optional immediate of 1, 2 or 4 bytes.
func dispOffset(enc []byte, disp int32) (int, bool) {
	for _, immSize := range []int{0, 1, 2, 4} {
		off := len(enc) - 4 - immSize
		if off < 1 {
			break
		}
		if int32(binary.LittleEndian.Uint32(enc[off:])) == disp {
			return off, true
		}
	}
	return 0, false
}

// farCall returns the x86-64 machine code equivalent of:
//
//	MOVQ <callDest>, BP
//	CALL BP
//	JMP <jumpBack+offset>
//
// jumpBack should be relative to the beginning of the block and will be
// adjusted for it's final address.
func farCall(callDest uintptr, jumpBack int32) ([]byte, error) {
	if callDest > math.MaxUint32 {
		return nil, errors.New("64-bit call is not implemented")
	}

	buf := make([]byte, 14)
	i := 0

	// MOVQ <callDest> BP
	buf[i] = byte(x86asm.PrefixREX) | byte(x86asm.PrefixREXW)
	i++
	buf[i] = opcodeMOV_imm_rm
	i++
	buf[i] = regModeDirect<<6 | registerBP
	i++

	binary.LittleEndian.PutUint32(buf[i:], uint32(callDest))
	i += 4

	// CALL BP
	buf[i] = opcodeCALLabs
	i++
	buf[i] = regModeDirect<<6 | 2<<3 | registerBP
	i++

	// JMP <jumpBack>
	buf[i] = opcodeJMP
	i++
	binary.LittleEndian.PutUint32(buf[i:], uint32(jumpBack-int32(i)-4))
	i += 4

	return buf, nil
}

// closureStub returns the x86-64 machine code equivalent of:
//
//	MOVQ $ctxt, DX
//	MOVQ $code, R12
//	JMP R12
//
// DX is the closure context register of the Go internal ABI and R12 is a
// scratch register, so argument registers reach code untouched.
func closureStub(ctxt, code uintptr) []byte {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = opcodeINT3
	}

	buf[0], buf[1] = 0x48, 0xba // MOVQ imm64, DX
	binary.LittleEndian.PutUint64(buf[2:], uint64(ctxt))
	buf[10], buf[11] = 0x49, 0xbc // MOVQ imm64, R12
	binary.LittleEndian.PutUint64(buf[12:], uint64(code))
	buf[20], buf[21], buf[22] = 0x41, 0xff, 0xe4 // JMP R12

	return buf
}

// jumpWord returns the eight bytes to store at entry so it jumps to dest. The
// bytes after the JMP instruction are kept from original.
func jumpWord(entry, dest uintptr, original uint64) (uint64, error) {
	rel := int64(dest) - int64(entry+jumpSize)
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return 0, fmt.Errorf("jump target %#x is out of rel32 range of %#x", dest, entry)
	}

	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], original)
	word[0] = opcodeJMP
	binary.LittleEndian.PutUint32(word[1:], uint32(int32(rel)))
	return binary.LittleEndian.Uint64(word[:]), nil
}
