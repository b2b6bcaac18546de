package candid

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// ErrBadMagic is returned for input that does not start with "DIDL".
var ErrBadMagic = errors.New("candid: missing DIDL header")

// maxDepth bounds type resolution and value nesting.
const maxDepth = 64

// maxZeroSizedItems bounds the total number of null or reserved vector
// elements in one message.
const maxZeroSizedItems = 1 << 16

type rawEntry struct {
	op     int64
	elem   int64
	fields []rawField
}

type rawField struct {
	id  uint32
	ref int64
}

// Unmarshal decodes a Candid message into its argument types and values.
//
// Values decode to: nil (null, reserved), bool, uint64 (nat, nat64), int64
// (int, int64), fixed-width Go integers for the narrower types, float32,
// float64, string, principal.Principal, Option, []any, RecordValue and
// VariantValue.
func Unmarshal(data []byte) ([]Type, []any, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, nil, ErrBadMagic
	}
	r := &reader{buf: data, off: len(magic)}

	count, err := r.length()
	if err != nil {
		return nil, nil, fmt.Errorf("candid: type table: %w", err)
	}
	raw := make([]rawEntry, count)
	for i := range raw {
		if raw[i], err = readEntry(r); err != nil {
			return nil, nil, fmt.Errorf("candid: type %d: %w", i, err)
		}
	}

	res := &resolver{raw: raw, done: make([]Type, len(raw))}
	argc, err := r.length()
	if err != nil {
		return nil, nil, fmt.Errorf("candid: arg count: %w", err)
	}
	types := make([]Type, argc)
	for i := range types {
		ref, err := r.sleb()
		if err != nil {
			return nil, nil, fmt.Errorf("candid: arg %d type: %w", i, err)
		}
		if types[i], err = res.resolve(ref, 0); err != nil {
			return nil, nil, err
		}
	}

	values := make([]any, argc)
	for i, t := range types {
		if values[i], err = decodeValue(r, t, 0); err != nil {
			return nil, nil, fmt.Errorf("candid: arg %d: %w", i, err)
		}
	}
	if r.remaining() != 0 {
		return nil, nil, fmt.Errorf("candid: %d trailing bytes", r.remaining())
	}
	return types, values, nil
}

func readEntry(r *reader) (rawEntry, error) {
	op, err := r.sleb()
	if err != nil {
		return rawEntry{}, err
	}
	e := rawEntry{op: op}
	switch op {
	case opOpt, opVec:
		if e.elem, err = r.sleb(); err != nil {
			return rawEntry{}, err
		}
	case opRecord, opVariant:
		n, err := r.length()
		if err != nil {
			return rawEntry{}, err
		}
		e.fields = make([]rawField, n)
		for i := range e.fields {
			id, err := r.leb()
			if err != nil {
				return rawEntry{}, err
			}
			if id > math.MaxUint32 {
				return rawEntry{}, fmt.Errorf("field id %d out of range", id)
			}
			if i > 0 && uint32(id) <= e.fields[i-1].id {
				return rawEntry{}, errors.New("field ids not strictly increasing")
			}
			ref, err := r.sleb()
			if err != nil {
				return rawEntry{}, err
			}
			e.fields[i] = rawField{id: uint32(id), ref: ref}
		}
	case opFunc, opService:
		return rawEntry{}, fmt.Errorf("unsupported type opcode %d", op)
	default:
		return rawEntry{}, fmt.Errorf("unknown type opcode %d", op)
	}
	return e, nil
}

type resolver struct {
	raw  []rawEntry
	done []Type
}

func (res *resolver) resolve(ref int64, depth int) (Type, error) {
	if depth > maxDepth {
		return nil, errors.New("candid: type nesting too deep or recursive")
	}
	if ref < 0 {
		p := Prim(ref)
		if _, ok := primNames[p]; !ok {
			return nil, fmt.Errorf("candid: unknown primitive %d", ref)
		}
		return p, nil
	}
	if ref >= int64(len(res.raw)) {
		return nil, fmt.Errorf("candid: type index %d out of range", ref)
	}
	if t := res.done[ref]; t != nil {
		return t, nil
	}

	e := res.raw[ref]
	var t Type
	switch e.op {
	case opOpt, opVec:
		elem, err := res.resolve(e.elem, depth+1)
		if err != nil {
			return nil, err
		}
		if e.op == opOpt {
			t = Opt{Elem: elem}
		} else {
			t = Vec{Elem: elem}
		}
	case opRecord, opVariant:
		fields := make([]Field, len(e.fields))
		for i, f := range e.fields {
			ft, err := res.resolve(f.ref, depth+1)
			if err != nil {
				return nil, err
			}
			fields[i] = Field{ID: f.id, Type: ft}
		}
		if e.op == opRecord {
			t = Record{Fields: fields}
		} else {
			t = Variant{Fields: fields}
		}
	}
	res.done[ref] = t
	return t, nil
}

func decodeValue(r *reader, typ Type, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errors.New("value nesting too deep")
	}
	switch t := typ.(type) {
	case Prim:
		return decodePrim(r, t)
	case Opt:
		flag, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch flag {
		case 0:
			return None, nil
		case 1:
			v, err := decodeValue(r, t.Elem, depth+1)
			if err != nil {
				return nil, err
			}
			return Some(v), nil
		}
		return nil, fmt.Errorf("invalid opt flag %d", flag)
	case Vec:
		n, err := r.leb()
		if err != nil {
			return nil, err
		}
		if zeroSized(t.Elem) {
			if n > maxZeroSizedItems-r.zeroItems {
				return nil, fmt.Errorf("vector of %d zero-sized elements exceeds limit", n)
			}
			r.zeroItems += n
			return make([]any, n), nil
		}
		if n > uint64(r.remaining()) {
			return nil, errTruncated
		}
		items := make([]any, 0, min(n, uint64(r.remaining())))
		for i := uint64(0); i < n; i++ {
			v, err := decodeValue(r, t.Elem, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case Record:
		rec := make(RecordValue, len(t.Fields))
		for _, f := range t.Fields {
			v, err := decodeValue(r, f.Type, depth+1)
			if err != nil {
				return nil, err
			}
			rec[f.ID] = v
		}
		return rec, nil
	case Variant:
		idx, err := r.leb()
		if err != nil {
			return nil, err
		}
		if idx >= uint64(len(t.Fields)) {
			return nil, fmt.Errorf("variant index %d out of range", idx)
		}
		f := t.Fields[idx]
		v, err := decodeValue(r, f.Type, depth+1)
		if err != nil {
			return nil, err
		}
		return VariantValue{ID: f.ID, Value: v}, nil
	}
	return nil, fmt.Errorf("unsupported type %T", typ)
}

func zeroSized(t Type) bool {
	p, ok := t.(Prim)
	return ok && (p == Null || p == Reserved)
}

func decodePrim(r *reader, t Prim) (any, error) {
	fixed := func(n int) ([]byte, error) { return r.bytes(n) }
	switch t {
	case Null, Reserved:
		return nil, nil
	case Empty:
		return nil, errors.New("empty has no values")
	case Bool:
		c, err := r.byte()
		if err != nil {
			return nil, err
		}
		if c > 1 {
			return nil, fmt.Errorf("invalid bool %d", c)
		}
		return c == 1, nil
	case Nat:
		return r.leb()
	case Int:
		return r.sleb()
	case Nat8:
		return r.byte()
	case Nat16:
		b, err := fixed(2)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint16(b), nil
	case Nat32:
		b, err := fixed(4)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint32(b), nil
	case Nat64:
		b, err := fixed(8)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint64(b), nil
	case Int8:
		c, err := r.byte()
		if err != nil {
			return nil, err
		}
		return int8(c), nil
	case Int16:
		b, err := fixed(2)
		if err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(b)), nil
	case Int32:
		b, err := fixed(4)
		if err != nil {
			return nil, err
		}
		return int32(binary.LittleEndian.Uint32(b)), nil
	case Int64:
		b, err := fixed(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case Float32:
		b, err := fixed(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
	case Float64:
		b, err := fixed(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case Text:
		n, err := r.length()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(n)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, errors.New("text is not valid utf-8")
		}
		return string(b), nil
	case Principal:
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}
		if tag != 1 {
			return nil, errors.New("opaque principal references are not supported")
		}
		n, err := r.length()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(n)
		if err != nil {
			return nil, err
		}
		return principal.New(b)
	}
	return nil, fmt.Errorf("unsupported primitive %s", t)
}
