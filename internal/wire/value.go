package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/packetflow/reactor/internal/atom"
)

// Value kind tags for the recursive binary value encoding.
const (
	vKindNull   byte = 0
	vKindBool   byte = 1
	vKindInt    byte = 2
	vKindFloat  byte = 3
	vKindString byte = 4
	vKindBytes  byte = 5
	vKindSlice  byte = 6
	vKindMap    byte = 7
)

// appendValue recursively encodes v and appends it to buf.
func appendValue(buf []byte, v atom.Value) []byte {
	switch v.Kind() {
	case atom.KindNull:
		return append(buf, vKindNull)
	case atom.KindBool:
		b, _ := v.Bool()
		bit := byte(0)
		if b {
			bit = 1
		}
		return append(buf, vKindBool, bit)
	case atom.KindInt:
		i, _ := v.Int()
		buf = append(buf, vKindInt)
		return appendVarint(buf, i)
	case atom.KindFloat:
		f, _ := v.Float()
		buf = append(buf, vKindFloat)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
		return append(buf, b[:]...)
	case atom.KindString:
		s, _ := v.String()
		buf = append(buf, vKindString)
		return appendString(buf, s)
	case atom.KindBytes:
		b, _ := v.Bytes()
		buf = append(buf, vKindBytes)
		buf = appendUvarint(buf, uint64(len(b)))
		return append(buf, b...)
	case atom.KindSlice:
		items, _ := v.Slice()
		buf = append(buf, vKindSlice)
		buf = appendUvarint(buf, uint64(len(items)))
		for _, item := range items {
			buf = appendValue(buf, item)
		}
		return buf
	case atom.KindMap:
		m, _ := v.Map()
		buf = append(buf, vKindMap)
		buf = appendUvarint(buf, uint64(len(m)))
		for k, item := range m {
			buf = appendString(buf, k)
			buf = appendValue(buf, item)
		}
		return buf
	default:
		return append(buf, vKindNull)
	}
}

// readValue decodes a value starting at buf[0:] and returns the decoded
// Value plus the number of bytes consumed.
func readValue(buf []byte) (atom.Value, int, error) {
	if len(buf) < 1 {
		return atom.Value{}, 0, fmt.Errorf("wire: truncated value")
	}
	kind := buf[0]
	rest := buf[1:]
	switch kind {
	case vKindNull:
		return atom.Null(), 1, nil
	case vKindBool:
		if len(rest) < 1 {
			return atom.Value{}, 0, fmt.Errorf("wire: truncated bool value")
		}
		return atom.Bool(rest[0] != 0), 2, nil
	case vKindInt:
		i, n, err := readVarint(rest)
		if err != nil {
			return atom.Value{}, 0, err
		}
		return atom.Int(i), 1 + n, nil
	case vKindFloat:
		if len(rest) < 8 {
			return atom.Value{}, 0, fmt.Errorf("wire: truncated float value")
		}
		bits := binary.BigEndian.Uint64(rest[:8])
		return atom.Float(math.Float64frombits(bits)), 9, nil
	case vKindString:
		s, n, err := readString(rest)
		if err != nil {
			return atom.Value{}, 0, err
		}
		return atom.String(s), 1 + n, nil
	case vKindBytes:
		ln, n, err := readUvarint(rest)
		if err != nil {
			return atom.Value{}, 0, err
		}
		rest = rest[n:]
		if uint64(len(rest)) < ln {
			return atom.Value{}, 0, fmt.Errorf("wire: truncated bytes value")
		}
		return atom.Bytes(rest[:ln]), 1 + n + int(ln), nil
	case vKindSlice:
		count, n, err := readUvarint(rest)
		if err != nil {
			return atom.Value{}, 0, err
		}
		consumed := 1 + n
		rest = rest[n:]
		items := make([]atom.Value, 0, count)
		for i := uint64(0); i < count; i++ {
			item, m, err := readValue(rest)
			if err != nil {
				return atom.Value{}, 0, err
			}
			items = append(items, item)
			rest = rest[m:]
			consumed += m
		}
		return atom.Slice(items), consumed, nil
	case vKindMap:
		count, n, err := readUvarint(rest)
		if err != nil {
			return atom.Value{}, 0, err
		}
		consumed := 1 + n
		rest = rest[n:]
		m := make(map[string]atom.Value, count)
		for i := uint64(0); i < count; i++ {
			key, kn, err := readString(rest)
			if err != nil {
				return atom.Value{}, 0, err
			}
			rest = rest[kn:]
			consumed += kn
			val, vn, err := readValue(rest)
			if err != nil {
				return atom.Value{}, 0, err
			}
			rest = rest[vn:]
			consumed += vn
			m[key] = val
		}
		return atom.Map(m), consumed, nil
	default:
		return atom.Value{}, 0, fmt.Errorf("wire: unknown value kind %d", kind)
	}
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, int, error) {
	ln, n, err := readUvarint(buf)
	if err != nil {
		return "", 0, err
	}
	buf = buf[n:]
	if uint64(len(buf)) < ln {
		return "", 0, fmt.Errorf("wire: truncated string")
	}
	return string(buf[:ln]), n + int(ln), nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendVarint(buf []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, fmt.Errorf("wire: malformed uvarint")
	}
	return v, n, nil
}

func readVarint(buf []byte) (int64, int, error) {
	v, n := binary.Varint(buf)
	if n <= 0 {
		return 0, 0, fmt.Errorf("wire: malformed varint")
	}
	return v, n, nil
}
