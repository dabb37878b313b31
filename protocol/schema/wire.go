// Package schema holds the message types of the device protocol.
//
// The protocol schema is versioned by the device firmware. This package keeps
// the subset of messages the client library speaks and encodes them with the
// protobuf wire format, so payloads stay compatible with the device regardless
// of which fields a given firmware adds. Fields this package does not know
// about are preserved on the messages that are read, modified and written back
// (scan patterns, advanced configuration and frames).
package schema

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtoPackage is the fully qualified package of all schema messages.
const ProtoPackage = "lidar.protocol"

// field is one decoded tag/value pair.
type field struct {
	num protowire.Number
	typ protowire.Type
	val uint64
	buf []byte
	raw []byte
}

func (f field) uint32() uint32 { return uint32(f.val) }
func (f field) uint64() uint64 { return f.val }
func (f field) bool() bool     { return f.val != 0 }

func (f field) float32() float32 {
	if f.typ != protowire.Fixed32Type {
		return 0
	}
	return math.Float32frombits(uint32(f.val))
}

func (f field) float64() float64 {
	if f.typ != protowire.Fixed64Type {
		return 0
	}
	return math.Float64frombits(f.val)
}

func (f field) bytes() []byte {
	if f.typ != protowire.BytesType {
		return nil
	}
	return f.buf
}

func (f field) string() string { return string(f.bytes()) }

// forEachField walks the top-level fields of an encoded message.
// Groups and other unsupported wire types are skipped.
func forEachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		start := b
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("schema: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.val, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.val = uint64(v)
		case protowire.Fixed64Type:
			f.val, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.buf, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("schema: field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		f.raw = start[:len(start)-len(b)]

		if typ == protowire.StartGroupType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendOptUint(b []byte, num protowire.Number, v *uint32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(*v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendOptFloat(b []byte, num protowire.Number, v *float32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(*v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendOptString(b []byte, num protowire.Number, v *string) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *v)
}

// appendBytes writes a bytes field when v is non-nil. An empty but non-nil
// slice is written as a present, zero-length field.
func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendPackedFloats(b []byte, num protowire.Number, v []float32) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(v)))
	for _, f := range v {
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	return b
}

func appendStrings(b []byte, num protowire.Number, v []string) []byte {
	for _, s := range v {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

// appendMessage writes an embedded message. Present-but-empty messages are
// encoded as zero-length fields, which is how one-of arms without payload are
// selected.
func appendMessage(b []byte, num protowire.Number, m marshaler) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.appendTo(nil))
}

type marshaler interface {
	appendTo(b []byte) []byte
}

// floatsFrom decodes a repeated float field in either packed or unpacked form.
func floatsFrom(dst []float32, f field) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, f.float32()), nil
	case protowire.BytesType:
		buf := f.buf
		if len(buf)%4 != 0 {
			return dst, fmt.Errorf("schema: packed float field %d has %d bytes", f.num, len(buf))
		}
		for len(buf) > 0 {
			v, _ := protowire.ConsumeFixed32(buf)
			dst = append(dst, math.Float32frombits(v))
			buf = buf[4:]
		}
		return dst, nil
	}
	return dst, nil
}

// Empty is a message without fields. It selects one-of arms that carry no
// payload, such as a status request.
type Empty struct{}

func (*Empty) appendTo(b []byte) []byte { return b }

func ptr[T any](v T) *T { return &v }
