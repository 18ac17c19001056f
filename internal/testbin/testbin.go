// Package testbin builds a small linux/amd64 Go program for tests that read
// binaries from disk.
package testbin

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Symbols of the fixture program.
const (
	Heal = "main.(*Player).Heal"
	Tick = "main.Tick"
)

// Build compiles the fixture program into dir and returns the path of the
// binary. The binary is always linux/amd64 and keeps its symbol table.
func Build(dir string) (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("cannot locate fixture source")
	}
	src := filepath.Join(filepath.Dir(file), "testdata", "fixture")

	goBin, err := exec.LookPath("go")
	if err != nil {
		goBin = filepath.Join(runtime.GOROOT(), "bin", "go")
	}

	out := filepath.Join(dir, "fixture")
	cmd := exec.Command(goBin, "build", "-o", out, ".")
	cmd.Dir = src
	cmd.Env = append(os.Environ(),
		"GOOS=linux",
		"GOARCH=amd64",
		"CGO_ENABLED=0",
		"GOWORK=off",
		"GOFLAGS=",
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to build fixture: %w\n%s", err, output)
	}
	return out, nil
}
