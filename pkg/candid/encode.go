package candid

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Marshal encodes values of the given types as one Candid message.
func Marshal(types []Type, values []any) ([]byte, error) {
	if len(types) != len(values) {
		return nil, fmt.Errorf("candid: %d types for %d values", len(types), len(values))
	}

	t := &typeTable{index: make(map[string]int64)}
	refs := make([]int64, len(types))
	for i, typ := range types {
		ref, err := t.ref(typ)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}

	out := append([]byte{}, magic...)
	out = appendLEB(out, uint64(len(t.entries)))
	for _, e := range t.entries {
		out = append(out, e...)
	}
	out = appendLEB(out, uint64(len(refs)))
	for _, r := range refs {
		out = appendSLEB(out, r)
	}

	var err error
	for i, typ := range types {
		out, err = encodeValue(out, typ, values[i])
		if err != nil {
			return nil, fmt.Errorf("candid: arg %d: %w", i, err)
		}
	}
	return out, nil
}

// typeTable collects composite type entries, deduplicated by encoding.
type typeTable struct {
	entries [][]byte
	index   map[string]int64
}

func (t *typeTable) ref(typ Type) (int64, error) {
	var entry []byte
	switch v := typ.(type) {
	case Prim:
		if _, ok := primNames[v]; !ok {
			return 0, fmt.Errorf("candid: unknown primitive %d", int64(v))
		}
		return int64(v), nil
	case Opt:
		elem, err := t.ref(v.Elem)
		if err != nil {
			return 0, err
		}
		entry = appendSLEB(appendSLEB(nil, opOpt), elem)
	case Vec:
		elem, err := t.ref(v.Elem)
		if err != nil {
			return 0, err
		}
		entry = appendSLEB(appendSLEB(nil, opVec), elem)
	case Record:
		e, err := t.fieldsEntry(opRecord, v.Fields)
		if err != nil {
			return 0, err
		}
		entry = e
	case Variant:
		e, err := t.fieldsEntry(opVariant, v.Fields)
		if err != nil {
			return 0, err
		}
		entry = e
	default:
		return 0, fmt.Errorf("candid: unsupported type %T", typ)
	}

	if idx, ok := t.index[string(entry)]; ok {
		return idx, nil
	}
	idx := int64(len(t.entries))
	t.entries = append(t.entries, entry)
	t.index[string(entry)] = idx
	return idx, nil
}

func (t *typeTable) fieldsEntry(op int64, fields []Field) ([]byte, error) {
	sorted := sortedFields(fields)
	entry := appendSLEB(nil, op)
	entry = appendLEB(entry, uint64(len(sorted)))
	for i, f := range sorted {
		if i > 0 && sorted[i-1].ID == f.ID {
			return nil, fmt.Errorf("candid: duplicate field id %d", f.ID)
		}
		ref, err := t.ref(f.Type)
		if err != nil {
			return nil, err
		}
		entry = appendLEB(entry, uint64(f.ID))
		entry = appendSLEB(entry, ref)
	}
	return entry, nil
}

func encodeValue(b []byte, typ Type, v any) ([]byte, error) {
	switch t := typ.(type) {
	case Prim:
		return encodePrim(b, t, v)
	case Opt:
		o, ok := v.(Option)
		if !ok {
			return nil, mismatch(typ, v)
		}
		if !o.Valid {
			return append(b, 0), nil
		}
		return encodeValue(append(b, 1), t.Elem, o.Value)
	case Vec:
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch(typ, v)
		}
		b = appendLEB(b, uint64(len(items)))
		var err error
		for _, item := range items {
			if b, err = encodeValue(b, t.Elem, item); err != nil {
				return nil, err
			}
		}
		return b, nil
	case Record:
		rec, ok := v.(RecordValue)
		if !ok {
			return nil, mismatch(typ, v)
		}
		var err error
		for _, f := range sortedFields(t.Fields) {
			fv, present := rec[f.ID]
			if !present {
				return nil, fmt.Errorf("missing record field %q", f.Name)
			}
			if b, err = encodeValue(b, f.Type, fv); err != nil {
				return nil, err
			}
		}
		return b, nil
	case Variant:
		vv, ok := v.(VariantValue)
		if !ok {
			return nil, mismatch(typ, v)
		}
		sorted := sortedFields(t.Fields)
		for i, f := range sorted {
			if f.ID == vv.ID {
				return encodeValue(appendLEB(b, uint64(i)), f.Type, vv.Value)
			}
		}
		return nil, fmt.Errorf("variant has no field with id %d", vv.ID)
	}
	return nil, fmt.Errorf("unsupported type %T", typ)
}

func encodePrim(b []byte, t Prim, v any) ([]byte, error) {
	switch t {
	case Null, Reserved:
		return b, nil
	case Empty:
		return nil, fmt.Errorf("empty has no values")
	case Bool:
		x, ok := v.(bool)
		if !ok {
			return nil, mismatch(t, v)
		}
		if x {
			return append(b, 1), nil
		}
		return append(b, 0), nil
	case Nat:
		x, ok := v.(uint64)
		if !ok {
			return nil, mismatch(t, v)
		}
		return appendLEB(b, x), nil
	case Int:
		x, ok := v.(int64)
		if !ok {
			return nil, mismatch(t, v)
		}
		return appendSLEB(b, x), nil
	case Nat8:
		x, ok := v.(uint8)
		if !ok {
			return nil, mismatch(t, v)
		}
		return append(b, x), nil
	case Nat16:
		x, ok := v.(uint16)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint16(b, x), nil
	case Nat32:
		x, ok := v.(uint32)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint32(b, x), nil
	case Nat64:
		x, ok := v.(uint64)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint64(b, x), nil
	case Int8:
		x, ok := v.(int8)
		if !ok {
			return nil, mismatch(t, v)
		}
		return append(b, byte(x)), nil
	case Int16:
		x, ok := v.(int16)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint16(b, uint16(x)), nil
	case Int32:
		x, ok := v.(int32)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint32(b, uint32(x)), nil
	case Int64:
		x, ok := v.(int64)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint64(b, uint64(x)), nil
	case Float32:
		x, ok := v.(float32)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint32(b, math.Float32bits(x)), nil
	case Float64:
		x, ok := v.(float64)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(x)), nil
	case Text:
		x, ok := v.(string)
		if !ok {
			return nil, mismatch(t, v)
		}
		b = appendLEB(b, uint64(len(x)))
		return append(b, x...), nil
	case Principal:
		var raw []byte
		switch p := v.(type) {
		case principal.Principal:
			raw = p.Bytes()
		case *principal.Principal:
			if p == nil {
				return nil, mismatch(t, v)
			}
			raw = p.Bytes()
		default:
			return nil, mismatch(t, v)
		}
		b = append(b, 1)
		b = appendLEB(b, uint64(len(raw)))
		return append(b, raw...), nil
	}
	return nil, fmt.Errorf("unsupported primitive %s", t)
}

func mismatch(t Type, v any) error {
	return fmt.Errorf("cannot encode %T as %s", v, t)
}
