//go:build linux && amd64

package native

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mprotectRX  = unix.PROT_READ | unix.PROT_EXEC
	mprotectRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC

	// Added to the read and write protection arena pages are mapped with, so
	// the first allocation can be filled before EndMutate seals them.
	mprotectExec = unix.PROT_EXEC

	// Keep the arena in the low 2GB so rel32 jumps and calls from the text
	// segment of a non-PIE binary can reach it.
	map_32bit = unix.MAP_32BIT
)

func mprotect(buf []byte, flags int) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	pageSize := unix.Getpagesize()

	// Round address down to page boundary.
	// Example: addr=4196 with pageSize=4096 becomes 4096.
	pageStart := addr - (addr % uintptr(pageSize))

	// Calculate how many bytes from pageStart we need to cover.
	// This includes the offset from pageStart to addr, plus the requested length.
	offsetWithinPage := int(addr - pageStart)
	totalBytes := offsetWithinPage + cap(buf)

	// Round up to cover complete pages.
	regionSize := (totalBytes + pageSize - 1) / pageSize * pageSize

	region := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), regionSize)

	return unix.Mprotect(region, flags)
}

// codeAt views size bytes of code starting at addr.
func codeAt(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
