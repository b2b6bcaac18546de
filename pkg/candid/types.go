// Package candid encodes and decodes the subset of the Candid binary format
// ("DIDL") needed to talk to wallet canisters: primitives, text, principal,
// opt, vec, record and variant. Function and service references are not
// supported.
package candid

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// magic prefixes every Candid message.
var magic = []byte("DIDL")

// Primitive type opcodes.
const (
	opNull      int64 = -1
	opBool      int64 = -2
	opNat       int64 = -3
	opInt       int64 = -4
	opNat8      int64 = -5
	opNat16     int64 = -6
	opNat32     int64 = -7
	opNat64     int64 = -8
	opInt8      int64 = -9
	opInt16     int64 = -10
	opInt32     int64 = -11
	opInt64     int64 = -12
	opFloat32   int64 = -13
	opFloat64   int64 = -14
	opText      int64 = -15
	opReserved  int64 = -16
	opEmpty     int64 = -17
	opOpt       int64 = -18
	opVec       int64 = -19
	opRecord    int64 = -20
	opVariant   int64 = -21
	opFunc      int64 = -22
	opService   int64 = -23
	opPrincipal int64 = -24
)

// Type is a Candid type.
type Type interface {
	String() string
}

// Prim is a primitive type.
type Prim int64

// Primitive types.
const (
	Null      = Prim(opNull)
	Bool      = Prim(opBool)
	Nat       = Prim(opNat)
	Int       = Prim(opInt)
	Nat8      = Prim(opNat8)
	Nat16     = Prim(opNat16)
	Nat32     = Prim(opNat32)
	Nat64     = Prim(opNat64)
	Int8      = Prim(opInt8)
	Int16     = Prim(opInt16)
	Int32     = Prim(opInt32)
	Int64     = Prim(opInt64)
	Float32   = Prim(opFloat32)
	Float64   = Prim(opFloat64)
	Text      = Prim(opText)
	Reserved  = Prim(opReserved)
	Empty     = Prim(opEmpty)
	Principal = Prim(opPrincipal)
)

var primNames = map[Prim]string{
	Null: "null", Bool: "bool", Nat: "nat", Int: "int",
	Nat8: "nat8", Nat16: "nat16", Nat32: "nat32", Nat64: "nat64",
	Int8: "int8", Int16: "int16", Int32: "int32", Int64: "int64",
	Float32: "float32", Float64: "float64", Text: "text",
	Reserved: "reserved", Empty: "empty", Principal: "principal",
}

func (p Prim) String() string {
	if n, ok := primNames[p]; ok {
		return n
	}
	return fmt.Sprintf("prim(%d)", int64(p))
}

// Opt is `opt T`.
type Opt struct{ Elem Type }

func (o Opt) String() string { return "opt " + o.Elem.String() }

// Vec is `vec T`.
type Vec struct{ Elem Type }

func (v Vec) String() string { return "vec " + v.Elem.String() }

// Field is a record or variant member. Name is informational; ID is what
// travels on the wire.
type Field struct {
	ID   uint32
	Name string
	Type Type
}

// NewField builds a field whose ID is the hash of name.
func NewField(name string, t Type) Field {
	return Field{ID: Hash(name), Name: name, Type: t}
}

// Record is `record { ... }`.
type Record struct{ Fields []Field }

func (r Record) String() string { return "record " + fieldsString(r.Fields) }

// Variant is `variant { ... }`.
type Variant struct{ Fields []Field }

func (v Variant) String() string { return "variant " + fieldsString(v.Fields) }

// Index returns the wire position of the field with the given id.
func (v Variant) Index(id uint32) (int, bool) {
	for i, f := range sortedFields(v.Fields) {
		if f.ID == id {
			return i, true
		}
	}
	return 0, false
}

func fieldsString(fs []Field) string {
	s := "{"
	for i, f := range sortedFields(fs) {
		if i > 0 {
			s += "; "
		}
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("%d", f.ID)
		}
		s += name + ": " + f.Type.String()
	}
	return s + "}"
}

// sortedFields returns fields ordered by id, the order Candid requires.
func sortedFields(fs []Field) []Field {
	out := make([]Field, len(fs))
	copy(out, fs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Hash is the Candid label hash: h = h*223 + b over the UTF-8 bytes, mod 2^32.
func Hash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h*223 + uint32(name[i])
	}
	return h
}

// Option is the Go value of an `opt T`.
type Option struct {
	Valid bool
	Value any
}

// Some wraps v as a present option.
func Some(v any) Option { return Option{Valid: true, Value: v} }

// None is the absent option.
var None = Option{}

// VariantValue is the Go value of a `variant`: the chosen field and its payload.
type VariantValue struct {
	ID    uint32
	Value any
}

// Tag builds a VariantValue for the named field.
func Tag(name string, v any) VariantValue {
	return VariantValue{ID: Hash(name), Value: v}
}

// Is reports whether the variant holds the named field.
func (v VariantValue) Is(name string) bool {
	return v.ID == Hash(name)
}

// RecordValue is the Go value of a `record`, keyed by field id.
type RecordValue map[uint32]any

// PrincipalValue is an alias kept so callers need not import principal for type switches.
type PrincipalValue = principal.Principal
