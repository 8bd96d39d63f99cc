package bus

import (
	"encoding/binary"
	"fmt"
)

// Values maps attribute or parameter names to encoded field bytes.
// Integers are 32-bit big-endian, booleans a single byte, and integer lists a
// 32-bit big-endian length followed by the elements.
type Values map[string][]byte

// NewValues returns an empty Values map.
func NewValues() Values {
	return make(Values)
}

// Has reports whether the named field is present.
func (v Values) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// Clone returns a deep copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, b := range v {
		out[k] = append([]byte(nil), b...)
	}
	return out
}

// Merge copies every field of other into v, overwriting existing fields.
func (v Values) Merge(other Values) {
	for k, b := range other {
		v[k] = append([]byte(nil), b...)
	}
}

// SetInt encodes an integer field.
func (v Values) SetInt(name string, x int) Values {
	v[name] = EncodeInt32(int32(x))
	return v
}

// SetBool encodes a boolean field.
func (v Values) SetBool(name string, b bool) Values {
	v[name] = EncodeBool(b)
	return v
}

// SetInts encodes an integer list field.
func (v Values) SetInts(name string, xs []int) Values {
	v[name] = EncodeInt32List(xs)
	return v
}

// Int decodes an integer field. ok is false when the field is absent.
func (v Values) Int(name string) (x int, ok bool, err error) {
	b, present := v[name]
	if !present {
		return 0, false, nil
	}
	n, err := DecodeInt32(b)
	if err != nil {
		return 0, true, fmt.Errorf("field %q: %w", name, err)
	}
	return int(n), true, nil
}

// Bool decodes a boolean field. ok is false when the field is absent.
func (v Values) Bool(name string) (b bool, ok bool, err error) {
	raw, present := v[name]
	if !present {
		return false, false, nil
	}
	b, err = DecodeBool(raw)
	if err != nil {
		return false, true, fmt.Errorf("field %q: %w", name, err)
	}
	return b, true, nil
}

// Ints decodes an integer list field. ok is false when the field is absent.
func (v Values) Ints(name string) (xs []int, ok bool, err error) {
	raw, present := v[name]
	if !present {
		return nil, false, nil
	}
	xs, err = DecodeInt32List(raw)
	if err != nil {
		return nil, true, fmt.Errorf("field %q: %w", name, err)
	}
	return xs, true, nil
}

func EncodeInt32(x int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(x))
	return b
}

func DecodeInt32(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("int32: want 4 bytes, got %d", len(b))
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func EncodeBool(x bool) []byte {
	if x {
		return []byte{1}
	}
	return []byte{0}
}

func DecodeBool(b []byte) (bool, error) {
	if len(b) != 1 {
		return false, fmt.Errorf("bool: want 1 byte, got %d", len(b))
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("bool: invalid byte 0x%02x", b[0])
	}
}

func EncodeInt32List(xs []int) []byte {
	b := make([]byte, 4+4*len(xs))
	binary.BigEndian.PutUint32(b, uint32(len(xs)))
	for i, x := range xs {
		binary.BigEndian.PutUint32(b[4+4*i:], uint32(int32(x)))
	}
	return b
}

func DecodeInt32List(b []byte) ([]int, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("int32 list: want at least 4 bytes, got %d", len(b))
	}
	n := int(binary.BigEndian.Uint32(b))
	if len(b) != 4+4*n {
		return nil, fmt.Errorf("int32 list: header says %d elements, body has %d bytes", n, len(b)-4)
	}
	xs := make([]int, n)
	for i := range xs {
		xs[i] = int(int32(binary.BigEndian.Uint32(b[4+4*i:])))
	}
	return xs, nil
}
