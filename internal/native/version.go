package native

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// The moduledata and _func mirrors in this package match these toolchains.
const (
	minRuntime = "v1.22"
	maxRuntime = "v1.27" // exclusive
)

// SupportedRuntime reports whether code built by the Go toolchain named
// version (as returned by runtime.Version) can be rewritten by this package.
func SupportedRuntime(version string) error {
	v, ok := strings.CutPrefix(version, "go")
	if !ok {
		return fmt.Errorf("unrecognized Go version %q", version)
	}
	// Toolchains built with experiments append them, e.g. "go1.25.1 X:nocoverageredesign".
	if i := strings.IndexByte(v, ' '); i > 0 {
		v = v[:i]
	}
	// Release candidates and betas share the layout of their release.
	if i := strings.IndexAny(v, "rb"); i > 0 {
		v = v[:i]
	}
	v = "v" + v
	if !semver.IsValid(v) {
		return fmt.Errorf("unrecognized Go version %q", version)
	}

	if semver.Compare(v, minRuntime) < 0 || semver.Compare(v, maxRuntime) >= 0 {
		return fmt.Errorf("go version %s is not supported, need %s <= version < %s", version, minRuntime, maxRuntime)
	}
	return nil
}
