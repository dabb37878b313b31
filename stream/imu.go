package stream

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// IMU is a stream of inertial measurement bursts.
type IMU struct {
	live   *live
	packed bool
}

// SubscribeIMU subscribes to IMU bursts on conn. With packed set the device
// sends column buffers; decode them with IMUColumns.
func SubscribeIMU(ctx context.Context, conn *connection.Conn, packed bool) (*IMU, error) {
	sub := &schema.Subscription{
		Kind: schema.SubscribeIMU,
		IMU:  &schema.IMUSubscription{PackedFormat: packed},
	}
	l, _, err := subscribe(ctx, conn, sub)
	if err != nil {
		return nil, err
	}
	return &IMU{live: l, packed: packed}, nil
}

// Receive returns the next burst.
func (s *IMU) Receive(ctx context.Context) (*schema.IMU, error) {
	ev, err := s.live.receive(ctx)
	if err != nil {
		return nil, err
	}
	if ev.Kind != schema.EventIMU || ev.IMU == nil {
		return nil, &UnexpectedEventError{Want: "imu", Got: eventName(ev)}
	}
	monitoring.Metrics.Frames.WithLabelValues("imu", s.live.conn.Addr()).Inc()
	return ev.IMU, nil
}

// Stop unsubscribes and closes the connection.
func (s *IMU) Stop() error { return s.live.stop() }

// IMUColumns holds a burst as parallel arrays.
type IMUColumns struct {
	StartOffsetNs   []uint64
	Acceleration    [][3]float32 // g
	AngularVelocity [][3]float32 // rad/s
}

// Len is the number of samples.
func (c *IMUColumns) Len() int { return len(c.StartOffsetNs) }

// DecodeIMU converts a burst, packed or not, into columns.
func DecodeIMU(b *schema.IMU) (*IMUColumns, error) {
	if p := b.Packed; p != nil {
		n := int(p.Length)
		if len(p.StartOffsetNs) != 8*n {
			return nil, &ColumnError{Column: "start_offset_ns", Want: 8 * n, Got: len(p.StartOffsetNs)}
		}
		if len(p.Acceleration) != 12*n {
			return nil, &ColumnError{Column: "acceleration", Want: 12 * n, Got: len(p.Acceleration)}
		}
		if len(p.AngularVelocity) != 12*n {
			return nil, &ColumnError{Column: "angular_velocity", Want: 12 * n, Got: len(p.AngularVelocity)}
		}
		c := &IMUColumns{
			StartOffsetNs:   make([]uint64, n),
			Acceleration:    make([][3]float32, n),
			AngularVelocity: make([][3]float32, n),
		}
		for i := 0; i < n; i++ {
			c.StartOffsetNs[i] = binary.BigEndian.Uint64(p.StartOffsetNs[i*8:])
			c.Acceleration[i] = vec3(p.Acceleration[i*12:])
			c.AngularVelocity[i] = vec3(p.AngularVelocity[i*12:])
		}
		return c, nil
	}

	c := &IMUColumns{
		StartOffsetNs:   make([]uint64, len(b.Samples)),
		Acceleration:    make([][3]float32, len(b.Samples)),
		AngularVelocity: make([][3]float32, len(b.Samples)),
	}
	for i, s := range b.Samples {
		if len(s.Acceleration) != 3 || len(s.AngularVelocity) != 3 {
			return nil, fmt.Errorf("stream: imu sample %d is not three-axis", i)
		}
		c.StartOffsetNs[i] = s.StartOffsetNs
		copy(c.Acceleration[i][:], s.Acceleration)
		copy(c.AngularVelocity[i][:], s.AngularVelocity)
	}
	return c, nil
}

func vec3(b []byte) [3]float32 {
	return [3]float32{beFloat(b), beFloat(b[4:]), beFloat(b[8:])}
}

// Rotation is the orientation of the device derived from gravity, in degrees.
type Rotation struct {
	Pitch, Roll, Yaw float64
}

// Rotations derives pitch, roll and yaw from each acceleration sample. The
// device must be at rest for the result to be meaningful.
func Rotations(acc [][3]float32) []Rotation {
	out := make([]Rotation, len(acc))
	deg := func(rad float64) float64 { return rad * 180 / math.Pi }
	for i, a := range acc {
		x, y, z := float64(a[0]), float64(a[1]), float64(a[2])
		out[i] = Rotation{
			Pitch: deg(math.Atan(x / math.Sqrt(y*y+z*z))),
			Roll:  deg(math.Atan(y / math.Sqrt(x*x+z*z))),
			Yaw:   deg(math.Atan(z / math.Sqrt(x*x+z*z))),
		}
	}
	return out
}

// AxisStats is the mean and standard deviation of one axis over a burst.
type AxisStats struct {
	Mean, StdDev float64
}

// IMUStats summarizes a burst per axis.
type IMUStats struct {
	Samples         int
	Acceleration    [3]AxisStats
	AngularVelocity [3]AxisStats
}

// Stats computes per-axis statistics of a burst.
func (c *IMUColumns) Stats() IMUStats {
	st := IMUStats{Samples: c.Len()}
	if st.Samples == 0 {
		return st
	}
	axis := make([]float64, st.Samples)
	summarize := func(src [][3]float32, k int) AxisStats {
		for i, v := range src {
			axis[i] = float64(v[k])
		}
		mean, std := stat.MeanStdDev(axis, nil)
		if st.Samples == 1 {
			std = 0
		}
		return AxisStats{Mean: mean, StdDev: std}
	}
	for k := 0; k < 3; k++ {
		st.Acceleration[k] = summarize(c.Acceleration, k)
		st.AngularVelocity[k] = summarize(c.AngularVelocity, k)
	}
	return st
}
