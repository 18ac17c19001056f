// Package native rewrites machine code of the running Go binary.
//
// It knows how to find a function's code from its entry address, copy that code
// into an executable arena with relative addresses fixed up, build closure
// trampolines, and swap a function's first eight bytes for a jump with a single
// atomic store.
//
// Limitations:
//   - Only linux/amd64 is supported
//   - Relies on internal Go runtime layouts that can break at any time
//   - Inlined functions are never reached through their entry point
//   - Cloned code is unknown to the runtime, so a stack copy or traceback that
//     walks through a clone will crash the program
package native
