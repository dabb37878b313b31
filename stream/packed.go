package stream

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

// Columns is a packed frame decoded into typed arrays, one entry per return.
// A column is nil when it was not requested.
type Columns struct {
	Length int

	Cartesian         [][3]float32
	Direction         [][2]float32 // azimuth, elevation
	Range             []float32
	Intensity         []uint32
	AmbientLightLevel []uint32
	StartOffsetNs     []uint64
	PointID           []uint32
	ChannelID         []uint8
	ReturnID          []uint8
}

// ColumnError reports a column buffer whose size does not match the frame
// length, or a requested column the frame does not carry.
type ColumnError struct {
	Column string
	Want   int
	Got    int
}

func (e *ColumnError) Error() string {
	if e.Got < 0 {
		return fmt.Sprintf("stream: column %s missing from packed frame", e.Column)
	}
	return fmt.Sprintf("stream: column %s has %d bytes, want %d", e.Column, e.Got, e.Want)
}

type column struct {
	field Field
	name  string
	width int
	buf   func(*schema.PackedFrame) []byte
	fill  func(c *Columns, b []byte, n int)
}

var columns = []column{
	{FieldCartesian, "cartesian", 12, func(p *schema.PackedFrame) []byte { return p.Cartesian }, func(c *Columns, b []byte, n int) {
		c.Cartesian = make([][3]float32, n)
		for i := range c.Cartesian {
			c.Cartesian[i] = [3]float32{beFloat(b[i*12:]), beFloat(b[i*12+4:]), beFloat(b[i*12+8:])}
		}
	}},
	{FieldDirection, "direction", 8, func(p *schema.PackedFrame) []byte { return p.Direction }, func(c *Columns, b []byte, n int) {
		c.Direction = make([][2]float32, n)
		for i := range c.Direction {
			c.Direction[i] = [2]float32{beFloat(b[i*8:]), beFloat(b[i*8+4:])}
		}
	}},
	{FieldRange, "range", 4, func(p *schema.PackedFrame) []byte { return p.Range }, func(c *Columns, b []byte, n int) {
		c.Range = make([]float32, n)
		for i := range c.Range {
			c.Range[i] = beFloat(b[i*4:])
		}
	}},
	{FieldIntensity, "intensity", 4, func(p *schema.PackedFrame) []byte { return p.Intensity }, func(c *Columns, b []byte, n int) {
		c.Intensity = beUint32s(b, n)
	}},
	{FieldAmbientLight, "ambient_light_level", 4, func(p *schema.PackedFrame) []byte { return p.AmbientLightLevel }, func(c *Columns, b []byte, n int) {
		c.AmbientLightLevel = beUint32s(b, n)
	}},
	{FieldStartOffset, "start_offset_ns", 8, func(p *schema.PackedFrame) []byte { return p.StartOffsetNs }, func(c *Columns, b []byte, n int) {
		c.StartOffsetNs = make([]uint64, n)
		for i := range c.StartOffsetNs {
			c.StartOffsetNs[i] = binary.BigEndian.Uint64(b[i*8:])
		}
	}},
	{FieldPointID, "point_id", 4, func(p *schema.PackedFrame) []byte { return p.PointID }, func(c *Columns, b []byte, n int) {
		c.PointID = beUint32s(b, n)
	}},
	{FieldChannelID, "channel_id", 1, func(p *schema.PackedFrame) []byte { return p.ChannelID }, func(c *Columns, b []byte, n int) {
		c.ChannelID = append([]uint8(nil), b[:n]...)
	}},
	{FieldReturnID, "return_id", 1, func(p *schema.PackedFrame) []byte { return p.ReturnID }, func(c *Columns, b []byte, n int) {
		c.ReturnID = append([]uint8(nil), b[:n]...)
	}},
}

func beFloat(b []byte) float32 { return math.Float32frombits(binary.BigEndian.Uint32(b)) }

func beUint32s(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return out
}

// DecodeColumns decodes the packed buffers of p requested by ref. A zero ref
// decodes every column present.
func DecodeColumns(ref ReferenceFrame, p *schema.PackedFrame) (*Columns, error) {
	if p == nil {
		return nil, fmt.Errorf("stream: frame is not packed")
	}
	n := int(p.Length)
	c := &Columns{Length: n}
	sized := false
	for _, col := range columns {
		b := col.buf(p)
		if ref.Fields != 0 && !ref.Has(col.field) {
			continue
		}
		if b == nil {
			if ref.Fields != 0 {
				return nil, &ColumnError{Column: col.name, Got: -1}
			}
			continue
		}
		if len(b) != n*col.width {
			return nil, &ColumnError{Column: col.name, Want: n * col.width, Got: len(b)}
		}
		col.fill(c, b, n)
		sized = true
	}
	if !sized && n != 0 {
		// the length is only trusted once a column backs it
		return nil, fmt.Errorf("stream: packed frame of %d returns has no columns", n)
	}
	return c, nil
}

// EncodeColumns is the inverse of DecodeColumns. Nil columns stay absent.
func EncodeColumns(c *Columns) *schema.PackedFrame {
	p := &schema.PackedFrame{Length: uint32(c.Length)}
	be := binary.BigEndian
	f32 := func(b []byte, v float32) []byte { return be.AppendUint32(b, math.Float32bits(v)) }
	u32s := func(v []uint32) []byte {
		if v == nil {
			return nil
		}
		b := make([]byte, 0, 4*len(v))
		for _, x := range v {
			b = be.AppendUint32(b, x)
		}
		return b
	}
	if c.Cartesian != nil {
		p.Cartesian = make([]byte, 0, 12*len(c.Cartesian))
		for _, v := range c.Cartesian {
			p.Cartesian = f32(f32(f32(p.Cartesian, v[0]), v[1]), v[2])
		}
	}
	if c.Direction != nil {
		p.Direction = make([]byte, 0, 8*len(c.Direction))
		for _, v := range c.Direction {
			p.Direction = f32(f32(p.Direction, v[0]), v[1])
		}
	}
	if c.Range != nil {
		p.Range = make([]byte, 0, 4*len(c.Range))
		for _, v := range c.Range {
			p.Range = f32(p.Range, v)
		}
	}
	p.Intensity = u32s(c.Intensity)
	p.AmbientLightLevel = u32s(c.AmbientLightLevel)
	if c.StartOffsetNs != nil {
		p.StartOffsetNs = make([]byte, 0, 8*len(c.StartOffsetNs))
		for _, v := range c.StartOffsetNs {
			p.StartOffsetNs = be.AppendUint64(p.StartOffsetNs, v)
		}
	}
	p.PointID = u32s(c.PointID)
	if c.ChannelID != nil {
		p.ChannelID = append([]byte{}, c.ChannelID...)
	}
	if c.ReturnID != nil {
		p.ReturnID = append([]byte{}, c.ReturnID...)
	}
	return p
}

// Unpack converts a packed frame into the nested scanline form. Consecutive
// returns with the same point id become one point; all points are placed in
// a single scanline because the packed form carries no scanline ids.
// Frames that are not packed are returned unchanged.
func Unpack(f *schema.Frame) (*schema.Frame, error) {
	if f.Packed == nil {
		return f, nil
	}
	c, err := DecodeColumns(ReferenceFrame{}, f.Packed)
	if err != nil {
		return nil, err
	}
	out := &schema.Frame{
		ID:                   f.ID,
		ScanPattern:          f.ScanPattern,
		TotalNumberOfPoints:  f.TotalNumberOfPoints,
		TotalNumberOfReturns: f.TotalNumberOfReturns,
		StartTimeNs:          f.StartTimeNs,
	}
	line := &schema.Scanline{}
	var pt *schema.Point
	for i := 0; i < c.Length; i++ {
		if pt == nil || (c.PointID != nil && c.PointID[i] != pt.ID) {
			pt = &schema.Point{}
			if c.PointID != nil {
				pt.ID = c.PointID[i]
			}
			if c.Direction != nil {
				pt.Direction = &schema.Direction{Azimuth: c.Direction[i][0], Elevation: c.Direction[i][1]}
			}
			if c.AmbientLightLevel != nil {
				pt.AmbientLightLevel = c.AmbientLightLevel[i]
			}
			if c.StartOffsetNs != nil {
				pt.StartOffsetNs = c.StartOffsetNs[i]
			}
			if c.ChannelID != nil {
				pt.ChannelID = uint32(c.ChannelID[i])
			}
			line.Points = append(line.Points, pt)
		}
		r := &schema.Return{}
		if c.ReturnID != nil {
			r.ID = uint32(c.ReturnID[i])
		}
		if c.Cartesian != nil {
			r.Cartesian = c.Cartesian[i][:]
		}
		if c.Range != nil {
			r.Range = c.Range[i]
		}
		if c.Intensity != nil {
			r.Intensity = c.Intensity[i]
		}
		pt.Returns = append(pt.Returns, r)
	}
	if len(line.Points) > 0 {
		out.Scanlines = []*schema.Scanline{line}
	}
	return out, nil
}

// SimplePoint is one return with the attributes of its point.
type SimplePoint struct {
	ID                uint32
	X, Y, Z           float32
	Range             float32
	Intensity         uint32
	AmbientLightLevel uint32
}

// Flatten lists every return of f, packed or not.
func Flatten(f *schema.Frame) ([]SimplePoint, error) {
	if f.Packed != nil {
		c, err := DecodeColumns(ReferenceFrame{}, f.Packed)
		if err != nil {
			return nil, err
		}
		out := make([]SimplePoint, c.Length)
		for i := range out {
			p := &out[i]
			if c.PointID != nil {
				p.ID = c.PointID[i]
			}
			if c.Cartesian != nil {
				p.X, p.Y, p.Z = c.Cartesian[i][0], c.Cartesian[i][1], c.Cartesian[i][2]
			}
			if c.Range != nil {
				p.Range = c.Range[i]
			}
			if c.Intensity != nil {
				p.Intensity = c.Intensity[i]
			}
			if c.AmbientLightLevel != nil {
				p.AmbientLightLevel = c.AmbientLightLevel[i]
			}
		}
		return out, nil
	}

	n := 0
	for _, s := range f.Scanlines {
		for _, pt := range s.Points {
			n += len(pt.Returns)
		}
	}
	out := make([]SimplePoint, 0, n)
	for _, s := range f.Scanlines {
		for _, pt := range s.Points {
			for _, r := range pt.Returns {
				sp := SimplePoint{
					ID:                pt.ID,
					Range:             r.Range,
					Intensity:         r.Intensity,
					AmbientLightLevel: pt.AmbientLightLevel,
				}
				if len(r.Cartesian) >= 3 {
					sp.X, sp.Y, sp.Z = r.Cartesian[0], r.Cartesian[1], r.Cartesian[2]
				}
				out = append(out, sp)
			}
		}
	}
	return out, nil
}
