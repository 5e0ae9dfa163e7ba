package message

import (
	"fmt"
	"streamlog/pkg"
)

// HeaderKind tags the type carried by a HeaderValue, so a header map can
// hold typed values behind one wire representation.
type HeaderKind uint8

const (
	HeaderBool HeaderKind = iota
	HeaderInt32
	HeaderInt64
	HeaderUint32
	HeaderUint64
	HeaderFloat32
	HeaderFloat64
	HeaderString
	HeaderBytes
)

// HeaderValue is a typed header value. Raw holds the little-endian encoded
// payload for numeric/bool kinds, or the UTF-8/opaque bytes for string/bytes
// kinds.
type HeaderValue struct {
	Kind HeaderKind
	Raw  []byte
}

func HeaderFromBool(v bool) HeaderValue {
	b := byte(0)
	if v {
		b = 1
	}
	return HeaderValue{Kind: HeaderBool, Raw: []byte{b}}
}

func HeaderFromInt32(v int32) HeaderValue {
	buf := make([]byte, 4)
	pkg.Enc.PutUint32(buf, uint32(v))
	return HeaderValue{Kind: HeaderInt32, Raw: buf}
}

func HeaderFromInt64(v int64) HeaderValue {
	buf := make([]byte, 8)
	pkg.Enc.PutUint64(buf, uint64(v))
	return HeaderValue{Kind: HeaderInt64, Raw: buf}
}

func HeaderFromUint32(v uint32) HeaderValue {
	buf := make([]byte, 4)
	pkg.Enc.PutUint32(buf, v)
	return HeaderValue{Kind: HeaderUint32, Raw: buf}
}

func HeaderFromUint64(v uint64) HeaderValue {
	buf := make([]byte, 8)
	pkg.Enc.PutUint64(buf, v)
	return HeaderValue{Kind: HeaderUint64, Raw: buf}
}

func HeaderFromString(v string) HeaderValue {
	return HeaderValue{Kind: HeaderString, Raw: []byte(v)}
}

func HeaderFromBytes(v []byte) HeaderValue {
	return HeaderValue{Kind: HeaderBytes, Raw: v}
}

func (h HeaderValue) AsString() (string, error) {
	if h.Kind != HeaderString {
		return "", fmt.Errorf("header value is %d, not string", h.Kind)
	}
	return string(h.Raw), nil
}

func (h HeaderValue) AsInt64() (int64, error) {
	switch h.Kind {
	case HeaderInt64:
		return int64(pkg.Enc.Uint64(h.Raw)), nil
	case HeaderInt32:
		return int64(int32(pkg.Enc.Uint32(h.Raw))), nil
	default:
		return 0, fmt.Errorf("header value is %d, not an int kind", h.Kind)
	}
}

func (h HeaderValue) AsBool() (bool, error) {
	if h.Kind != HeaderBool {
		return false, fmt.Errorf("header value is %d, not bool", h.Kind)
	}
	return h.Raw[0] != 0, nil
}
