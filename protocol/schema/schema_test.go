package schema

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestWithoutPayloadSelectsArm(t *testing.T) {
	req := &Request{Kind: RequestStatus}
	b, err := req.Marshal()
	require.NoError(t, err)
	// tag 2, length-delimited, zero length
	assert.Equal(t, []byte{0x12, 0x00}, b)

	var got Request
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, RequestStatus, got.Kind)
}

func TestRequestKindRequired(t *testing.T) {
	_, err := (&Request{}).Marshal()
	assert.Error(t, err)
}

func TestSubscribeRequestRoundTrip(t *testing.T) {
	req := &Request{
		Kind: RequestSubscribe,
		Subscription: &Subscription{
			Kind: SubscribePointCloud,
			PointCloud: &PointCloudSubscription{
				ReferenceFrame: &Frame{ID: 1, Packed: &PackedFrame{Cartesian: []byte{}, Intensity: []byte{}}},
				Filter:         &ScanPatternFilter{Range: &Range{Minimum: 1, Maximum: 50}},
			},
		},
	}
	b, err := req.Marshal()
	require.NoError(t, err)

	var got Request
	require.NoError(t, got.Unmarshal(b))
	require.NotNil(t, got.Subscription)
	require.NotNil(t, got.Subscription.PointCloud)
	packed := got.Subscription.PointCloud.ReferenceFrame.Packed
	require.NotNil(t, packed)
	assert.NotNil(t, packed.Cartesian, "empty column must survive as present")
	assert.NotNil(t, packed.Intensity)
	assert.Nil(t, packed.Range)
	assert.Equal(t, float32(50), got.Subscription.PointCloud.Filter.Range.Maximum)
}

func TestResponseTimestampOutsideOneOf(t *testing.T) {
	resp := &Response{Kind: ResponseHello, Hello: &Hello{ProtocolVersion: 1}, TimestampNs: 1234567}
	var got Response
	require.NoError(t, got.Unmarshal(resp.Marshal()))
	assert.Equal(t, ResponseHello, got.Kind)
	assert.Equal(t, uint64(1234567), got.TimestampNs)
	assert.Equal(t, uint32(1), got.Hello.ProtocolVersion)
}

func TestResponseErrorVariants(t *testing.T) {
	tests := []struct {
		name   string
		detail ErrorDetail
		num    protowire.Number
		field  string
		want   any
	}{
		{"flag", &ErrorFlag{Code: ErrScannerBusy}, ErrScannerBusy, "", nil},
		{"outdated", &ErrorOutdatedProtocol{Code: ErrOutdatedClientProtocol, RequiredVersion: ptr(uint32(3))}, ErrOutdatedClientProtocol, "required_version", uint32(3)},
		{"range", NewNotInRange("fov", 10, 180, 200, "°"), ErrNotInRange, "maximum", float32(180)},
		{"unsupported", NewErrorText(ErrNotSupported, "no ptp"), ErrNotSupported, "reason", "no ptp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{Kind: ResponseError, Error: &Error{Detail: tt.detail}}
			var got Response
			require.NoError(t, got.Unmarshal(resp.Marshal()))
			require.NotNil(t, got.Error)
			require.NotNil(t, got.Error.Detail)
			assert.Equal(t, tt.num, got.Error.Detail.Number())
			if tt.field == "" {
				return
			}
			v, ok := got.Error.Detail.Lookup(tt.field)
			assert.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestErrorUnsetFieldNotPresent(t *testing.T) {
	d := &ErrorNotInRange{Parameter: ptr("range")}
	var got Error
	require.NoError(t, got.Unmarshal((&Error{Detail: d}).appendTo(nil)))
	_, ok := got.Detail.Lookup("maximum")
	assert.False(t, ok)
	v, ok := got.Detail.Lookup("parameter")
	assert.True(t, ok)
	assert.Equal(t, "range", v)
}

func TestErrorTypeName(t *testing.T) {
	assert.Equal(t, "lidar.protocol.Error.NotInRange", ErrorTypeName(ErrNotInRange))
	assert.Equal(t, "", ErrorTypeName(99))
}

func TestFramePreservesUnknownFields(t *testing.T) {
	f := &Frame{ID: 7, TotalNumberOfPoints: 3}
	b := f.Marshal()
	b = protowire.AppendTag(b, 42, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)

	var got Frame
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, uint64(7), got.ID)
	assert.Equal(t, b, got.Marshal())
}

func TestScanPatternCloneIsDeep(t *testing.T) {
	sp := &ScanPattern{FrameRate: &ScanPatternFrameRate{Target: 10, Maximum: 25}}
	c := sp.Clone()
	c.FrameRate.Target = 20
	assert.Equal(t, 10.0, sp.FrameRate.Target)
	assert.Nil(t, (*ScanPattern)(nil).Clone())
}

func TestFileFooterAndFrameBlocks(t *testing.T) {
	footer := &FileFooter{
		Stats: StreamStats{Frames: 2, Points: 10, Returns: 12},
		Events: []*ScanPatternEvent{
			{FromFrameID: 1, ScanPattern: &ScanPattern{Horizontal: &ScanPatternHorizontal{Fov: 60}}},
		},
	}
	var data FileData
	require.NoError(t, data.Unmarshal((&FileData{Footer: footer}).Marshal()))
	require.NotNil(t, data.Footer)
	assert.Nil(t, data.Frame)
	if diff := cmp.Diff(footer.Stats, data.Footer.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, data.Footer.Events, 1)
	assert.Equal(t, float32(60), data.Footer.Events[0].ScanPattern.Horizontal.Fov)

	require.NoError(t, data.Unmarshal((&FileData{Frame: &Frame{ID: 3}}).Marshal()))
	require.NotNil(t, data.Frame)
	assert.Equal(t, uint64(3), data.Frame.ID)
}

func TestMalformedInput(t *testing.T) {
	var f Frame
	assert.Error(t, f.Unmarshal([]byte{0x0a, 0x05, 0x01}))
}

func TestFloatsFromUnpacked(t *testing.T) {
	var b []byte
	for _, v := range []float32{1, 2, 3} {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	var r Return
	require.NoError(t, r.Unmarshal(b))
	assert.Equal(t, []float32{1, 2, 3}, r.Cartesian)
}
