package detour

import (
	"reflect"
	"strings"
)

// Symbol is one named entry point in an image.
type Symbol struct {
	// Name is the full Go symbol name, e.g. "example.com/game.(*Player).Heal".
	Name string

	Package string // import path
	Type    string // owning type, empty for package-level functions
	Member  string
	Pointer bool // method declared on *Type

	Entry uintptr // address of the first instruction, zero when unknown
	Size  int

	// Func is the concrete function type when the image knows it. Methods take
	// their receiver as the first parameter.
	Func reflect.Type
}

// ParseSymbol splits a Go symbol name into package, type and member. It
// returns false for names that do not denote a patchable member, like
// closures, method values and compiler generated wrappers.
func ParseSymbol(name string) (Symbol, bool) {
	sym := Symbol{Name: name}

	// The package path ends at the first dot after the last slash.
	slash := strings.LastIndexByte(name, '/')
	dot := strings.IndexByte(name[slash+1:], '.')
	if dot < 0 {
		return Symbol{}, false
	}
	dot += slash + 1
	sym.Package = name[:dot]
	rest := name[dot+1:]

	if strings.HasPrefix(rest, "(*") {
		end := strings.Index(rest, ").")
		if end < 0 {
			return Symbol{}, false
		}
		sym.Type = rest[2:end]
		sym.Member = rest[end+2:]
		sym.Pointer = true
	} else if typ, member, ok := strings.Cut(rest, "."); ok {
		sym.Type = typ
		sym.Member = member
	} else {
		sym.Member = rest
	}

	// Linker symbols such as "type:.eq.T" or "go:buildid" are not code.
	if sym.Package == "" || strings.ContainsAny(sym.Package, ": ") {
		return Symbol{}, false
	}
	if !isIdent(sym.Member) || isGenerated(sym.Member) {
		return Symbol{}, false
	}
	if sym.Type != "" {
		// Generic instantiations print as Type[...].
		if i := strings.IndexByte(sym.Type, '['); i > 0 {
			sym.Type = sym.Type[:i]
		}
		if !isIdent(sym.Type) {
			return Symbol{}, false
		}
	}
	return sym, true
}

// isGenerated matches the names the compiler gives closures and go/defer
// wrappers, e.g. "func1" or "gowrap2".
func isGenerated(member string) bool {
	for _, prefix := range []string{"func", "gowrap", "deferwrap"} {
		if n, ok := strings.CutPrefix(member, prefix); ok && n != "" && strings.Trim(n, "0123456789") == "" {
			return true
		}
	}
	return false
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z':
		case i > 0 && '0' <= r && r <= '9':
		case r > 0x7f:
		default:
			return false
		}
	}
	return true
}

// packageMatches reports whether pkg, a full import path, is named by want.
// want may be the full path or its last element.
func packageMatches(pkg, want string) bool {
	if want == "" || pkg == want {
		return true
	}
	return strings.HasSuffix(pkg, "/"+want)
}
