package mdd

import (
	"fmt"
	"hash/fnv"
	"strconv"
)

// Kind tags the dynamic type carried by a Value.
type Kind int

const (
	// KindMissing marks a value absent from the input row.
	KindMissing Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
)

// Value is the opaque, hashable runtime representation of a row
// cell. Applications construct Values with the String/Int/Float/Bool/Missing
// constructors; the zero Value is KindMissing.
//
// Value implements the same Hash/Equal contract the original State
// interface required of application-defined state: consistent hashing
// across calls, and symmetric, transitive equality.
type Value struct {
	kind Kind
	str  string
	i64  int64
	f64  float64
	b    bool
}

// Missing returns the missing-value sentinel.
func Missing() Value { return Value{kind: KindMissing} }

// String constructs a string-valued Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int constructs an integer-valued Value.
func Int(i int64) Value { return Value{kind: KindInt, i64: i} }

// Float constructs a floating-point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f64: f} }

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsMissing reports whether v is the missing sentinel.
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// AsFloat returns v's numeric value and true if v is KindInt or KindFloat.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f64, true
	case KindInt:
		return float64(v.i64), true
	default:
		return 0, false
	}
}

// Raw returns v as a generic Go value, useful for error messages.
func (v Value) Raw() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.i64
	case KindFloat:
		return v.f64
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Label renders v as the canonical arc-label string used to key edges in
// the node table: strings pass through verbatim, numbers use their
// canonical decimal form, and missing values are represented by the
// caller-supplied missing token. Numeric dimensions must be bin-applied
// before calling Label; Label itself performs no binning.
func (v Value) Label(missingToken string) string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.i64, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return missingToken
	}
}

// Equal reports whether v and other denote the same value.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == other.str
	case KindInt:
		return v.i64 == other.i64
	case KindFloat:
		return v.f64 == other.f64
	case KindBool:
		return v.b == other.b
	default:
		return true
	}
}

// Hash returns a hash value for v, consistent across calls and equal for
// equal values.
func (v Value) Hash() uint64 {
	h := fnv.New64a()
	switch v.kind {
	case KindString:
		h.Write([]byte{byte(KindString)})
		h.Write([]byte(v.str))
	case KindInt:
		h.Write([]byte{byte(KindInt)})
		writeUint64(h, uint64(v.i64))
	case KindFloat:
		h.Write([]byte{byte(KindFloat)})
		writeUint64(h, uint64(int64(v.f64*1e6)))
	case KindBool:
		h.Write([]byte{byte(KindBool)})
		if v.b {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	default:
		h.Write([]byte{byte(KindMissing)})
	}
	return h.Sum64()
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])
}

// String implements fmt.Stringer for error messages and debugging.
func (v Value) String() string {
	switch v.kind {
	case KindMissing:
		return "<missing>"
	default:
		return fmt.Sprintf("%v", v.Raw())
	}
}
