// Intercept Go functions and methods at runtime
//
// An Engine resolves symbolic references to members of an Image, collects the
// bindings registered against each member, composes them into a plan and
// installs a dispatcher that runs the plan in place of the member. Removing
// the last binding puts the member back exactly as it was.
//
// Two images are provided. A Table holds members declared by the host and
// works everywhere. Process is the running program itself: patching it
// rewrites the first instruction of the target function. Func, Method,
// Restore and Original are shortcuts for replacing functions of the running
// program.
//
// Limitations of Process:
//   - Only supports linux/amd64
//   - Relies on internal Go APIs that can break at any time
//   - Silently fails to intercept inlined calls
//   - Generic functions share code between instantiations
//   - Calling the original of a function that calls other functions can crash
//     if the stack grows while it runs
package detour
