package stream

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

func packIMU(samples ...*schema.IMUSample) *schema.PackedIMU {
	p := &schema.PackedIMU{Length: uint32(len(samples))}
	be := binary.BigEndian
	for _, s := range samples {
		p.StartOffsetNs = be.AppendUint64(p.StartOffsetNs, s.StartOffsetNs)
		for _, v := range s.Acceleration {
			p.Acceleration = be.AppendUint32(p.Acceleration, math.Float32bits(v))
		}
		for _, v := range s.AngularVelocity {
			p.AngularVelocity = be.AppendUint32(p.AngularVelocity, math.Float32bits(v))
		}
	}
	return p
}

var imuSamples = []*schema.IMUSample{
	{StartOffsetNs: 0, Acceleration: []float32{0, 0, 1}, AngularVelocity: []float32{0.5, 0, 0}},
	{StartOffsetNs: 1000, Acceleration: []float32{0, 0, 3}, AngularVelocity: []float32{1.5, 0, 0}},
}

func TestDecodeIMU(t *testing.T) {
	want := &IMUColumns{
		StartOffsetNs:   []uint64{0, 1000},
		Acceleration:    [][3]float32{{0, 0, 1}, {0, 0, 3}},
		AngularVelocity: [][3]float32{{0.5, 0, 0}, {1.5, 0, 0}},
	}

	t.Run("samples", func(t *testing.T) {
		got, err := DecodeIMU(&schema.IMU{Samples: imuSamples})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("packed", func(t *testing.T) {
		got, err := DecodeIMU(&schema.IMU{Packed: packIMU(imuSamples...)})
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, 2, got.Len())
	})

	t.Run("short column", func(t *testing.T) {
		p := packIMU(imuSamples...)
		p.Acceleration = p.Acceleration[:20]
		_, err := DecodeIMU(&schema.IMU{Packed: p})
		var colErr *ColumnError
		require.True(t, errors.As(err, &colErr))
		assert.Equal(t, "acceleration", colErr.Column)
		assert.Equal(t, 24, colErr.Want)
	})

	t.Run("two axis sample", func(t *testing.T) {
		_, err := DecodeIMU(&schema.IMU{Samples: []*schema.IMUSample{{Acceleration: []float32{0, 1}}}})
		assert.Error(t, err)
	})
}

func TestRotations(t *testing.T) {
	got := Rotations([][3]float32{{0, 0, 1}, {1, 0, 0}})
	require.Len(t, got, 2)

	assert.InDelta(t, 0, got[0].Pitch, 1e-9)
	assert.InDelta(t, 0, got[0].Roll, 1e-9)
	assert.InDelta(t, 45, got[0].Yaw, 1e-9)

	assert.InDelta(t, 90, got[1].Pitch, 1e-9)
	assert.InDelta(t, 0, got[1].Roll, 1e-9)
	assert.InDelta(t, 0, got[1].Yaw, 1e-9)
}

func TestIMUColumns_Stats(t *testing.T) {
	c, err := DecodeIMU(&schema.IMU{Samples: imuSamples})
	require.NoError(t, err)

	st := c.Stats()
	assert.Equal(t, 2, st.Samples)
	assert.InDelta(t, 2, st.Acceleration[2].Mean, 1e-9)
	assert.InDelta(t, math.Sqrt2, st.Acceleration[2].StdDev, 1e-9)
	assert.InDelta(t, 1, st.AngularVelocity[0].Mean, 1e-9)
	assert.Zero(t, st.Acceleration[0].StdDev)

	one := &IMUColumns{StartOffsetNs: []uint64{0}, Acceleration: [][3]float32{{0, 0, 1}}, AngularVelocity: [][3]float32{{}}}
	assert.Zero(t, one.Stats().Acceleration[2].StdDev)
	assert.Equal(t, IMUStats{}, (&IMUColumns{}).Stats())
}

func TestIMU_Live(t *testing.T) {
	sc := newScript(
		&schema.Event{Kind: schema.EventIMU, IMU: &schema.IMU{StartTimeNs: 42, Packed: packIMU(imuSamples...)}},
		&schema.Event{Kind: schema.EventStatus, Status: &schema.Status{}},
	)
	conn := sc.dial(t)

	s, err := SubscribeIMU(testContext(t), conn, true)
	require.NoError(t, err)
	defer s.Stop()

	req := <-sc.requests
	assert.Equal(t, schema.SubscribeIMU, req.Subscription.Kind)
	assert.True(t, req.Subscription.IMU.PackedFormat)

	burst, err := s.Receive(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), burst.StartTimeNs)
	c, err := DecodeIMU(burst)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = s.Receive(testContext(t))
	var unexpected *UnexpectedEventError
	require.True(t, errors.As(err, &unexpected))
	assert.Equal(t, "status", unexpected.Got)
}
