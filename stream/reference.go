package stream

import (
	"strings"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

// Field is one optional attribute of a point cloud frame.
type Field uint32

const (
	FieldFrameID Field = 1 << iota
	FieldStartTime
	FieldScanlineID
	FieldPointID
	FieldDirection
	FieldAmbientLight
	FieldStartOffset
	FieldChannelID
	FieldReturnID
	FieldCartesian
	FieldRange
	FieldIntensity
)

var fieldNames = []struct {
	f    Field
	name string
}{
	{FieldFrameID, "frame_id"},
	{FieldStartTime, "start_time_ns"},
	{FieldScanlineID, "scanline_id"},
	{FieldPointID, "point_id"},
	{FieldDirection, "direction"},
	{FieldAmbientLight, "ambient_light_level"},
	{FieldStartOffset, "start_offset_ns"},
	{FieldChannelID, "channel_id"},
	{FieldReturnID, "return_id"},
	{FieldCartesian, "cartesian"},
	{FieldRange, "range"},
	{FieldIntensity, "intensity"},
}

func (f Field) String() string {
	var parts []string
	for _, n := range fieldNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ReferenceFrame selects which attributes the device populates in each
// frame. With Packed set the returns arrive as big-endian column buffers
// instead of nested scanlines and points.
//
// The zero value requests the device default.
type ReferenceFrame struct {
	Fields Field
	Packed bool
}

// Presets for common field combinations.
var (
	RefFrameXYZ      = ReferenceFrame{Fields: FieldCartesian}
	RefFrameXYZI     = ReferenceFrame{Fields: FieldCartesian | FieldIntensity}
	RefFrameXYZIID   = ReferenceFrame{Fields: FieldCartesian | FieldIntensity | FieldFrameID | FieldScanlineID | FieldPointID | FieldReturnID}
	RefFrameXYZIIDTS = ReferenceFrame{Fields: RefFrameXYZIID.Fields | FieldStartTime | FieldStartOffset}
	RefFrameDepthMap = ReferenceFrame{Fields: FieldAmbientLight | FieldIntensity | FieldRange | FieldFrameID | FieldScanlineID | FieldPointID}
)

// Has reports whether all of f are requested.
func (r ReferenceFrame) Has(f Field) bool { return r.Fields&f == f }

// IsZero reports whether r requests the device default.
func (r ReferenceFrame) IsZero() bool { return r.Fields == 0 && !r.Packed }

// WithPacked returns r requesting column buffers.
func (r ReferenceFrame) WithPacked() ReferenceFrame {
	r.Packed = true
	return r
}

func (r ReferenceFrame) String() string {
	s := r.Fields.String()
	if r.Packed {
		s += " (packed)"
	}
	return s
}

// placeholder values mark a field as requested; the device ignores them.
const (
	markUint  = 1
	markFloat = 1
)

// Template builds the frame sent in a subscription. A field is requested by
// setting it to a non-zero value and a repeated field by adding one element.
func (r ReferenceFrame) Template() *schema.Frame {
	if r.IsZero() {
		return nil
	}
	f := &schema.Frame{}
	if r.Has(FieldFrameID) {
		f.ID = markUint
	}
	if r.Has(FieldStartTime) {
		f.StartTimeNs = markUint
	}
	if r.Packed {
		f.Packed = r.packedTemplate()
		return f
	}

	ret := &schema.Return{}
	if r.Has(FieldReturnID) {
		ret.ID = markUint
	}
	if r.Has(FieldCartesian) {
		ret.Cartesian = []float32{markFloat, markFloat, markFloat}
	}
	if r.Has(FieldRange) {
		ret.Range = markFloat
	}
	if r.Has(FieldIntensity) {
		ret.Intensity = markUint
	}
	p := &schema.Point{Returns: []*schema.Return{ret}}
	if r.Has(FieldPointID) {
		p.ID = markUint
	}
	if r.Has(FieldDirection) {
		p.Direction = &schema.Direction{Azimuth: markFloat, Elevation: markFloat}
	}
	if r.Has(FieldAmbientLight) {
		p.AmbientLightLevel = markUint
	}
	if r.Has(FieldStartOffset) {
		p.StartOffsetNs = markUint
	}
	if r.Has(FieldChannelID) {
		p.ChannelID = markUint
	}
	s := &schema.Scanline{Points: []*schema.Point{p}}
	if r.Has(FieldScanlineID) {
		s.ID = markUint
	}
	f.Scanlines = []*schema.Scanline{s}
	return f
}

func (r ReferenceFrame) packedTemplate() *schema.PackedFrame {
	col := func(want Field) []byte {
		if r.Has(want) {
			return []byte{}
		}
		return nil
	}
	return &schema.PackedFrame{
		Cartesian:         col(FieldCartesian),
		Direction:         col(FieldDirection),
		Range:             col(FieldRange),
		Intensity:         col(FieldIntensity),
		AmbientLightLevel: col(FieldAmbientLight),
		StartOffsetNs:     col(FieldStartOffset),
		PointID:           col(FieldPointID),
		ChannelID:         col(FieldChannelID),
		ReturnID:          col(FieldReturnID),
	}
}

// ReferenceFromTemplate recovers the reference frame from a subscription
// template, such as the one stored in a recording header.
func ReferenceFromTemplate(f *schema.Frame) ReferenceFrame {
	var r ReferenceFrame
	if f == nil {
		return r
	}
	set := func(field Field, ok bool) {
		if ok {
			r.Fields |= field
		}
	}
	set(FieldFrameID, f.ID != 0)
	set(FieldStartTime, f.StartTimeNs != 0)

	if p := f.Packed; p != nil {
		r.Packed = true
		set(FieldCartesian, p.Cartesian != nil)
		set(FieldDirection, p.Direction != nil)
		set(FieldRange, p.Range != nil)
		set(FieldIntensity, p.Intensity != nil)
		set(FieldAmbientLight, p.AmbientLightLevel != nil)
		set(FieldStartOffset, p.StartOffsetNs != nil)
		set(FieldPointID, p.PointID != nil)
		set(FieldChannelID, p.ChannelID != nil)
		set(FieldReturnID, p.ReturnID != nil)
		return r
	}

	for _, s := range f.Scanlines {
		set(FieldScanlineID, s.ID != 0)
		for _, p := range s.Points {
			set(FieldPointID, p.ID != 0)
			set(FieldDirection, p.Direction != nil)
			set(FieldAmbientLight, p.AmbientLightLevel != 0)
			set(FieldStartOffset, p.StartOffsetNs != 0)
			set(FieldChannelID, p.ChannelID != 0)
			for _, ret := range p.Returns {
				set(FieldReturnID, ret.ID != 0)
				set(FieldCartesian, len(ret.Cartesian) > 0)
				set(FieldRange, ret.Range != 0)
				set(FieldIntensity, ret.Intensity != 0)
			}
		}
	}
	return r
}
