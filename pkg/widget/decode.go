package widget

import (
	"fmt"
)

// RangeError indicates a widget addressing outside of the frame. It is a
// schema configuration error and should not be retried.
type RangeError struct {
	Widget string
	// Unit is what Offset counts: "byte", "bit" or "bit index".
	Unit   string
	Offset int
	Limit  int
}

// Error implements error.
func (e *RangeError) Error() string {
	return fmt.Sprintf("widget %q: %s offset %d out of range [0, %d)", e.Widget, e.Unit, e.Offset, e.Limit)
}

// Decode extracts all widgets of the schema from raw, the payload of a data
// frame without end marker. The returned Frame doesn't reference raw.
// Offsets are checked against the actual length of raw; a *RangeError is
// returned for the first widget addressing outside of it.
func Decode(s *Schema, raw []byte) (Frame, error) {
	frame := make(Frame, len(s.Widgets))
	for _, w := range s.Widgets {
		v, err := decodeWidget(w, raw)
		if err != nil {
			return nil, err
		}
		frame[w.Name] = v
	}
	return frame, nil
}

func checkRange(w Spec, unit string, offset, limit int) error {
	if offset < 0 || offset >= limit {
		return &RangeError{Widget: w.Name, Unit: unit, Offset: offset, Limit: limit}
	}
	return nil
}

func decodeWidget(w Spec, raw []byte) (v Value, err error) {
	switch w.Kind {
	case Byte:
		if err = checkRange(w, "byte", w.Offset, len(raw)); err != nil {
			return
		}
		v.Int = byteValue(raw[w.Offset], w.Signed)
	case ByteBit:
		if err = checkRange(w, "byte", w.Offset, len(raw)); err != nil {
			return
		}
		if err = checkRange(w, "bit index", w.Bit, 8); err != nil {
			return
		}
		v.Int = int64(raw[w.Offset]>>uint(w.Bit)) & 1
	case Bytes:
		v.Ints = make([]int64, len(w.Offsets))
		for n, off := range w.Offsets {
			if err = checkRange(w, "byte", off, len(raw)); err != nil {
				return
			}
			v.Ints[n] = byteValue(raw[off], w.Signed)
		}
	case Combined:
		var u uint64
		for n, off := range w.Offsets {
			if err = checkRange(w, "byte", off, len(raw)); err != nil {
				return
			}
			u |= uint64(raw[off]) << uint(8*n)
		}
		v.Int = extend(u, 8*len(w.Offsets), w.Signed)
	case Bits:
		var u uint64
		for _, off := range w.Offsets {
			if err = checkRange(w, "bit", off, 8*len(raw)); err != nil {
				return
			}
			u = (u << 1) | uint64(raw[off/8]>>uint(off%8))&1
		}
		v.Int = int64(u)
	default:
		err = w.Validate()
	}
	return
}

func byteValue(b byte, signed bool) int64 {
	if signed {
		return int64(int8(b))
	}
	return int64(b)
}

// extend interprets the low width bits of u as two's complement when signed.
func extend(u uint64, width int, signed bool) int64 {
	if !signed || width >= 64 {
		return int64(u)
	}
	shift := uint(64 - width)
	return int64(u<<shift) >> shift
}
