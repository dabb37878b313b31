package schema

import "fmt"

// Frame is one point cloud sampling cycle. Depending on the subscription the
// device either fills Scanlines or delivers the returns column-wise in Packed.
type Frame struct {
	ID                   uint64
	ScanPattern          *ScanPattern
	Scanlines            []*Scanline
	TotalNumberOfPoints  uint32
	TotalNumberOfReturns uint32
	StartTimeNs          uint64
	Packed               *PackedFrame

	unknown []byte
}

func (m *Frame) String() string {
	return fmt.Sprintf("<Frame %d: %d points, %d returns, %d scanlines>",
		m.ID, m.TotalNumberOfPoints, m.TotalNumberOfReturns, len(m.Scanlines))
}

func (m *Frame) appendTo(b []byte) []byte {
	b = appendUint(b, 1, m.ID)
	if m.ScanPattern != nil {
		b = appendMessage(b, 2, m.ScanPattern)
	}
	for _, s := range m.Scanlines {
		b = appendMessage(b, 3, s)
	}
	b = appendUint(b, 4, uint64(m.TotalNumberOfPoints))
	b = appendUint(b, 5, uint64(m.TotalNumberOfReturns))
	b = appendUint(b, 6, m.StartTimeNs)
	if m.Packed != nil {
		b = appendMessage(b, 7, m.Packed)
	}
	return append(b, m.unknown...)
}

func (m *Frame) Marshal() []byte { return m.appendTo(nil) }

func (m *Frame) Unmarshal(b []byte) error {
	*m = Frame{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.ID = f.uint64()
		case 2:
			m.ScanPattern = &ScanPattern{}
			return m.ScanPattern.Unmarshal(f.bytes())
		case 3:
			s := &Scanline{}
			if err := s.Unmarshal(f.bytes()); err != nil {
				return err
			}
			m.Scanlines = append(m.Scanlines, s)
		case 4:
			m.TotalNumberOfPoints = f.uint32()
		case 5:
			m.TotalNumberOfReturns = f.uint32()
		case 6:
			m.StartTimeNs = f.uint64()
		case 7:
			m.Packed = &PackedFrame{}
			return m.Packed.Unmarshal(f.bytes())
		default:
			m.unknown = append(m.unknown, f.raw...)
		}
		return nil
	})
}

type Scanline struct {
	ID     uint32
	Points []*Point
}

func (m *Scanline) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.ID))
	for _, p := range m.Points {
		b = appendMessage(b, 2, p)
	}
	return b
}

func (m *Scanline) Unmarshal(b []byte) error {
	*m = Scanline{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.ID = f.uint32()
		case 2:
			p := &Point{}
			if err := p.Unmarshal(f.bytes()); err != nil {
				return err
			}
			m.Points = append(m.Points, p)
		}
		return nil
	})
}

type Point struct {
	ID                uint32
	Direction         *Direction
	AmbientLightLevel uint32
	StartOffsetNs     uint64
	Returns           []*Return
	ChannelID         uint32
}

func (m *Point) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.ID))
	if m.Direction != nil {
		b = appendMessage(b, 2, m.Direction)
	}
	b = appendUint(b, 3, uint64(m.AmbientLightLevel))
	b = appendUint(b, 4, m.StartOffsetNs)
	for _, r := range m.Returns {
		b = appendMessage(b, 5, r)
	}
	return appendUint(b, 6, uint64(m.ChannelID))
}

func (m *Point) Unmarshal(b []byte) error {
	*m = Point{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.ID = f.uint32()
		case 2:
			m.Direction = &Direction{}
			return m.Direction.Unmarshal(f.bytes())
		case 3:
			m.AmbientLightLevel = f.uint32()
		case 4:
			m.StartOffsetNs = f.uint64()
		case 5:
			r := &Return{}
			if err := r.Unmarshal(f.bytes()); err != nil {
				return err
			}
			m.Returns = append(m.Returns, r)
		case 6:
			m.ChannelID = f.uint32()
		}
		return nil
	})
}

type Direction struct {
	Azimuth   float32
	Elevation float32
}

func (m *Direction) appendTo(b []byte) []byte {
	b = appendFloat(b, 1, m.Azimuth)
	return appendFloat(b, 2, m.Elevation)
}

func (m *Direction) Unmarshal(b []byte) error {
	*m = Direction{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Azimuth = f.float32()
		case 2:
			m.Elevation = f.float32()
		}
		return nil
	})
}

// Return is one reflected pulse of a point. Cartesian holds x, y, z in meters.
type Return struct {
	ID        uint32
	Cartesian []float32
	Range     float32
	Intensity uint32
}

func (m *Return) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.ID))
	b = appendPackedFloats(b, 2, m.Cartesian)
	b = appendFloat(b, 3, m.Range)
	return appendUint(b, 4, uint64(m.Intensity))
}

func (m *Return) Unmarshal(b []byte) error {
	*m = Return{}
	return forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.ID = f.uint32()
		case 2:
			m.Cartesian, err = floatsFrom(m.Cartesian, f)
		case 3:
			m.Range = f.float32()
		case 4:
			m.Intensity = f.uint32()
		}
		return err
	})
}

// PackedFrame carries a frame as parallel big-endian column buffers with one
// entry per return. A nil column was not requested.
type PackedFrame struct {
	Length            uint32
	Cartesian         []byte
	Direction         []byte
	Range             []byte
	Intensity         []byte
	AmbientLightLevel []byte
	StartOffsetNs     []byte
	PointID           []byte
	ChannelID         []byte
	ReturnID          []byte
}

func (m *PackedFrame) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Length))
	b = appendBytes(b, 2, m.Cartesian)
	b = appendBytes(b, 3, m.Direction)
	b = appendBytes(b, 4, m.Range)
	b = appendBytes(b, 5, m.Intensity)
	b = appendBytes(b, 6, m.AmbientLightLevel)
	b = appendBytes(b, 7, m.StartOffsetNs)
	b = appendBytes(b, 8, m.PointID)
	b = appendBytes(b, 9, m.ChannelID)
	return appendBytes(b, 10, m.ReturnID)
}

func (m *PackedFrame) Unmarshal(b []byte) error {
	*m = PackedFrame{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Length = f.uint32()
		case 2:
			m.Cartesian = f.bytes()
		case 3:
			m.Direction = f.bytes()
		case 4:
			m.Range = f.bytes()
		case 5:
			m.Intensity = f.bytes()
		case 6:
			m.AmbientLightLevel = f.bytes()
		case 7:
			m.StartOffsetNs = f.bytes()
		case 8:
			m.PointID = f.bytes()
		case 9:
			m.ChannelID = f.bytes()
		case 10:
			m.ReturnID = f.bytes()
		}
		return nil
	})
}

// PointCloudHeader describes the device that produced a point cloud stream.
type PointCloudHeader struct {
	SerialNumber    string
	FirmwareVersion string
	Hostname        string
}

func (m *PointCloudHeader) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.SerialNumber)
	b = appendString(b, 2, m.FirmwareVersion)
	return appendString(b, 3, m.Hostname)
}

func (m *PointCloudHeader) Unmarshal(b []byte) error {
	*m = PointCloudHeader{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.SerialNumber = f.string()
		case 2:
			m.FirmwareVersion = f.string()
		case 3:
			m.Hostname = f.string()
		}
		return nil
	})
}

// IMU is one burst of inertial measurements.
type IMU struct {
	StartTimeNs uint64
	Samples     []*IMUSample
	Packed      *PackedIMU
}

func (m *IMU) String() string {
	n := len(m.Samples)
	if m.Packed != nil {
		n = int(m.Packed.Length)
	}
	return fmt.Sprintf("<IMU burst: %d samples, start %d ns>", n, m.StartTimeNs)
}

// IMUSample holds acceleration in g and angular velocity in rad/s, x/y/z.
type IMUSample struct {
	StartOffsetNs   uint64
	Acceleration    []float32
	AngularVelocity []float32
}

// PackedIMU carries a burst as big-endian column buffers: uint64 offsets and
// three float32 per sample for acceleration and angular velocity.
type PackedIMU struct {
	Length          uint32
	StartOffsetNs   []byte
	Acceleration    []byte
	AngularVelocity []byte
}

func (m *IMU) appendTo(b []byte) []byte {
	b = appendUint(b, 1, m.StartTimeNs)
	for _, s := range m.Samples {
		b = appendMessage(b, 2, s)
	}
	if m.Packed != nil {
		b = appendMessage(b, 3, m.Packed)
	}
	return b
}

func (m *IMU) Unmarshal(b []byte) error {
	*m = IMU{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.StartTimeNs = f.uint64()
		case 2:
			s := &IMUSample{}
			if err := s.Unmarshal(f.bytes()); err != nil {
				return err
			}
			m.Samples = append(m.Samples, s)
		case 3:
			m.Packed = &PackedIMU{}
			return m.Packed.Unmarshal(f.bytes())
		}
		return nil
	})
}

func (m *IMUSample) appendTo(b []byte) []byte {
	b = appendUint(b, 1, m.StartOffsetNs)
	b = appendPackedFloats(b, 2, m.Acceleration)
	return appendPackedFloats(b, 3, m.AngularVelocity)
}

func (m *IMUSample) Unmarshal(b []byte) error {
	*m = IMUSample{}
	return forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.StartOffsetNs = f.uint64()
		case 2:
			m.Acceleration, err = floatsFrom(m.Acceleration, f)
		case 3:
			m.AngularVelocity, err = floatsFrom(m.AngularVelocity, f)
		}
		return err
	})
}

func (m *PackedIMU) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Length))
	b = appendBytes(b, 2, m.StartOffsetNs)
	b = appendBytes(b, 3, m.Acceleration)
	return appendBytes(b, 4, m.AngularVelocity)
}

func (m *PackedIMU) Unmarshal(b []byte) error {
	*m = PackedIMU{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Length = f.uint32()
		case 2:
			m.StartOffsetNs = f.bytes()
		case 3:
			m.Acceleration = f.bytes()
		case 4:
			m.AngularVelocity = f.bytes()
		}
		return nil
	})
}

// ScannerState is the operating state reported in Status.
type ScannerState uint32

const (
	ScannerStateUnknown ScannerState = iota
	ScannerStateInitializing
	ScannerStateReady
	ScannerStateStarting
	ScannerStateRunning
	ScannerStateStopping
	ScannerStateError
	ScannerStateSelfTesting
)

var scannerStateNames = map[ScannerState]string{
	ScannerStateUnknown:      "UNKNOWN",
	ScannerStateInitializing: "INITIALIZING",
	ScannerStateReady:        "READY",
	ScannerStateStarting:     "STARTING",
	ScannerStateRunning:      "RUNNING",
	ScannerStateStopping:     "STOPPING",
	ScannerStateError:        "ERRORED",
	ScannerStateSelfTesting:  "SELF_TESTING",
}

func (s ScannerState) String() string {
	if n, ok := scannerStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ScannerState(%d)", uint32(s))
}

// TimeSyncState is the state of NTP or PTP synchronization on the device.
type TimeSyncState uint32

const (
	TimeSyncStateUnknown TimeSyncState = iota
	TimeSyncStateStopped
	TimeSyncStateInitializing
	TimeSyncStateSynced
	TimeSyncStateFailed
)

var timeSyncStateNames = map[TimeSyncState]string{
	TimeSyncStateUnknown:      "UNKNOWN",
	TimeSyncStateStopped:      "STOPPED",
	TimeSyncStateInitializing: "INITIALIZING",
	TimeSyncStateSynced:       "SYNCED",
	TimeSyncStateFailed:       "FAILED",
}

func (s TimeSyncState) String() string {
	if n, ok := timeSyncStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("TimeSyncState(%d)", uint32(s))
}

// Status is a snapshot of the device state.
type Status struct {
	State               ScannerState
	TimeSynchronization *TimeSynchronizationStatus
	Temperature         float32
	ErrorDescription    string
}

type TimeSynchronizationStatus struct {
	State    TimeSyncState
	Kind     string
	OffsetNs int64
}

func (m *Status) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.State))
	if m.TimeSynchronization != nil {
		b = appendMessage(b, 2, m.TimeSynchronization)
	}
	b = appendFloat(b, 3, m.Temperature)
	return appendString(b, 4, m.ErrorDescription)
}

func (m *Status) Unmarshal(b []byte) error {
	*m = Status{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.State = ScannerState(f.uint32())
		case 2:
			m.TimeSynchronization = &TimeSynchronizationStatus{}
			return m.TimeSynchronization.Unmarshal(f.bytes())
		case 3:
			m.Temperature = f.float32()
		case 4:
			m.ErrorDescription = f.string()
		}
		return nil
	})
}

func (m *TimeSynchronizationStatus) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.State))
	b = appendString(b, 2, m.Kind)
	return appendUint(b, 3, uint64(m.OffsetNs))
}

func (m *TimeSynchronizationStatus) Unmarshal(b []byte) error {
	*m = TimeSynchronizationStatus{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.State = TimeSyncState(f.uint32())
		case 2:
			m.Kind = f.string()
		case 3:
			m.OffsetNs = int64(f.uint64())
		}
		return nil
	})
}
