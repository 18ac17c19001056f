package detour

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Kind is the sort of member a Descriptor names.
type Kind uint8

const (
	KindMethod Kind = iota
	KindFunction
	KindGetter
	KindSetter
)

func (k Kind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindFunction:
		return "function"
	case KindGetter:
		return "getter"
	case KindSetter:
		return "setter"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Receiver picks between the pointer and value method sets of a type.
type Receiver uint8

const (
	// AnyReceiver accepts either form. Inferred from the signature when one
	// is given.
	AnyReceiver Receiver = iota
	PointerReceiver
	ValueReceiver
)

// Descriptor is a symbolic reference to one member of the target program.
// Descriptors are comparable and are used as resolution cache keys.
type Descriptor struct {
	// Package is the import path or its last element. Empty matches any
	// package.
	Package string

	// Type is the owning type. Empty for package-level functions.
	Type string

	// Member is the method or function name. For getters and setters it is
	// the property name, e.g. "Health" matches Health/GetHealth and SetHealth.
	Member string

	Kind     Kind
	Receiver Receiver

	// Signature is the function type of the member, receiver first. It is
	// required to patch the running process and disambiguates otherwise.
	Signature reflect.Type
}

// MethodOf names a method. typ may be qualified with a package, as in
// "game.Player".
func MethodOf(typ, member string) Descriptor {
	pkg, typ := splitType(typ)
	return Descriptor{Package: pkg, Type: typ, Member: member, Kind: KindMethod}
}

// GetterOf names the getter of a property.
func GetterOf(typ, property string) Descriptor {
	d := MethodOf(typ, property)
	d.Kind = KindGetter
	return d
}

// SetterOf names the setter of a property.
func SetterOf(typ, property string) Descriptor {
	d := MethodOf(typ, property)
	d.Kind = KindSetter
	return d
}

// FuncOf names a package-level function.
func FuncOf(pkg, name string) Descriptor {
	return Descriptor{Package: pkg, Member: name, Kind: KindFunction}
}

// In restricts the descriptor to a package.
func (d Descriptor) In(pkg string) Descriptor {
	d.Package = pkg
	return d
}

// OnPointer selects the method declared on *Type.
func (d Descriptor) OnPointer() Descriptor {
	d.Receiver = PointerReceiver
	return d
}

// OnValue selects the method declared on Type.
func (d Descriptor) OnValue() Descriptor {
	d.Receiver = ValueReceiver
	return d
}

// WithSignature sets the function type of the member.
func (d Descriptor) WithSignature(t reflect.Type) Descriptor {
	d.Signature = t
	return d
}

// Describe builds a descriptor from a function or a method expression such as
// (*bytes.Buffer).WriteString.
func Describe(fn any) (Descriptor, error) {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return Descriptor{}, fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	if fnv.IsNil() {
		return Descriptor{}, errors.New("nil function")
	}

	rf := runtime.FuncForPC(fnv.Pointer())
	if rf == nil {
		return Descriptor{}, errors.New("function not found in symbol table")
	}
	name := rf.Name()
	if strings.HasSuffix(name, "-fm") {
		return Descriptor{}, fmt.Errorf("%s is a method value, use a method expression", name)
	}

	sym, ok := ParseSymbol(name)
	if !ok {
		return Descriptor{}, fmt.Errorf("%s cannot be patched", name)
	}

	d := Descriptor{
		Package:   sym.Package,
		Type:      sym.Type,
		Member:    sym.Member,
		Kind:      KindMethod,
		Receiver:  ValueReceiver,
		Signature: fnv.Type(),
	}
	if sym.Type == "" {
		d.Kind = KindFunction
		d.Receiver = AnyReceiver
	} else if sym.Pointer {
		d.Receiver = PointerReceiver
	}
	return d, nil
}

// MustDescribe is like Describe but panics on error.
func MustDescribe(fn any) Descriptor {
	d, err := Describe(fn)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Descriptor) String() string {
	var sb strings.Builder
	if d.Package != "" {
		sb.WriteString(d.Package)
		sb.WriteByte('.')
	}
	if d.Type != "" {
		if d.receiver() == PointerReceiver {
			fmt.Fprintf(&sb, "(*%s).", d.Type)
		} else {
			sb.WriteString(d.Type)
			sb.WriteByte('.')
		}
	}
	sb.WriteString(d.Member)
	if d.Kind == KindGetter || d.Kind == KindSetter {
		fmt.Fprintf(&sb, " (%s)", d.Kind)
	}
	if d.Signature != nil {
		sb.WriteByte(' ')
		sb.WriteString(d.Signature.String())
	}
	return sb.String()
}

func (d Descriptor) validate() error {
	if d.Member == "" {
		return errors.New("descriptor has no member name")
	}
	if d.Kind == KindFunction && d.Type != "" {
		return errors.New("function descriptor has an owning type")
	}
	if d.Kind != KindFunction && d.Type == "" {
		return fmt.Errorf("%s descriptor has no owning type", d.Kind)
	}
	if d.Signature != nil && d.Signature.Kind() != reflect.Func {
		return fmt.Errorf("signature is a %v, not a function", d.Signature.Kind())
	}
	return nil
}

// members lists the symbol member names the descriptor accepts.
func (d Descriptor) members() []string {
	switch d.Kind {
	case KindGetter:
		return []string{d.Member, "Get" + d.Member}
	case KindSetter:
		return []string{"Set" + d.Member}
	}
	return []string{d.Member}
}

// receiver returns the requested receiver form, falling back to the first
// parameter of the signature.
func (d Descriptor) receiver() Receiver {
	if d.Receiver != AnyReceiver || d.Type == "" || d.Signature == nil || d.Signature.NumIn() == 0 {
		return d.Receiver
	}
	recv := d.Signature.In(0)
	if recv.Kind() == reflect.Pointer && recv.Elem().Name() == d.Type {
		return PointerReceiver
	}
	if recv.Name() == d.Type {
		return ValueReceiver
	}
	return AnyReceiver
}

// matches reports whether sym is named by d, ignoring signatures.
func (d Descriptor) matches(sym Symbol) bool {
	if sym.Type != d.Type || !packageMatches(sym.Package, d.Package) {
		return false
	}
	switch d.receiver() {
	case PointerReceiver:
		if !sym.Pointer {
			return false
		}
	case ValueReceiver:
		if sym.Pointer {
			return false
		}
	}
	for _, m := range d.members() {
		if sym.Member == m {
			return true
		}
	}
	return false
}

func splitType(typ string) (pkg, name string) {
	if i := strings.LastIndexByte(typ, '.'); i >= 0 {
		return typ[:i], typ[i+1:]
	}
	return "", typ
}
