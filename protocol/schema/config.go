package schema

// FrameMode selects how up- and down-scanlines are combined into frames.
type FrameMode uint32

const (
	FrameModeNone FrameMode = iota
	FrameModeOnlyUp
	FrameModeOnlyDown
	FrameModeSeparate
	FrameModeCombineUpDown
)

// ScanPattern is the scan configuration of a device.
type ScanPattern struct {
	Horizontal *ScanPatternHorizontal
	Vertical   *ScanPatternVertical
	Pulse      *ScanPatternPulse
	FrameRate  *ScanPatternFrameRate
	Filter     *ScanPatternFilter

	unknown []byte
}

type ScanPatternHorizontal struct {
	Fov float32
}

type ScanPatternVertical struct {
	Fov           float32
	ScanlinesUp   uint32
	ScanlinesDown uint32
}

type ScanPatternPulse struct {
	AngleSpacing         float32
	FrameMode            FrameMode
	DistortionCorrection bool
}

// ScanPatternFrameRate holds the requested frame rate and the maximum the
// device can reach with the remaining scan pattern parameters, in Hz.
type ScanPatternFrameRate struct {
	Target  float64
	Maximum float64
}

// ScanPatternFilter restricts which points and returns the device sends.
type ScanPatternFilter struct {
	Range                      *Range
	MaxNumberOfReturnsPerPoint uint32
	DeletePointsWithoutReturns bool
}

type Range struct {
	Minimum float32
	Maximum float32
}

func (m *ScanPattern) appendTo(b []byte) []byte {
	if m.Horizontal != nil {
		b = appendMessage(b, 1, m.Horizontal)
	}
	if m.Vertical != nil {
		b = appendMessage(b, 2, m.Vertical)
	}
	if m.Pulse != nil {
		b = appendMessage(b, 3, m.Pulse)
	}
	if m.FrameRate != nil {
		b = appendMessage(b, 4, m.FrameRate)
	}
	if m.Filter != nil {
		b = appendMessage(b, 5, m.Filter)
	}
	return append(b, m.unknown...)
}

// Marshal encodes the scan pattern. Encoding is deterministic, so two equal
// scan patterns always produce equal bytes.
func (m *ScanPattern) Marshal() []byte { return m.appendTo(nil) }

func (m *ScanPattern) Unmarshal(b []byte) error {
	*m = ScanPattern{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Horizontal = &ScanPatternHorizontal{}
			return m.Horizontal.Unmarshal(f.bytes())
		case 2:
			m.Vertical = &ScanPatternVertical{}
			return m.Vertical.Unmarshal(f.bytes())
		case 3:
			m.Pulse = &ScanPatternPulse{}
			return m.Pulse.Unmarshal(f.bytes())
		case 4:
			m.FrameRate = &ScanPatternFrameRate{}
			return m.FrameRate.Unmarshal(f.bytes())
		case 5:
			m.Filter = &ScanPatternFilter{}
			return m.Filter.Unmarshal(f.bytes())
		default:
			m.unknown = append(m.unknown, f.raw...)
		}
		return nil
	})
}

// Clone returns a deep copy of the scan pattern.
func (m *ScanPattern) Clone() *ScanPattern {
	if m == nil {
		return nil
	}
	c := &ScanPattern{}
	// A freshly marshalled message always decodes.
	_ = c.Unmarshal(m.Marshal())
	return c
}

func (m *ScanPatternHorizontal) appendTo(b []byte) []byte {
	return appendFloat(b, 1, m.Fov)
}

func (m *ScanPatternHorizontal) Unmarshal(b []byte) error {
	*m = ScanPatternHorizontal{}
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			m.Fov = f.float32()
		}
		return nil
	})
}

func (m *ScanPatternVertical) appendTo(b []byte) []byte {
	b = appendFloat(b, 1, m.Fov)
	b = appendUint(b, 2, uint64(m.ScanlinesUp))
	return appendUint(b, 3, uint64(m.ScanlinesDown))
}

func (m *ScanPatternVertical) Unmarshal(b []byte) error {
	*m = ScanPatternVertical{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Fov = f.float32()
		case 2:
			m.ScanlinesUp = f.uint32()
		case 3:
			m.ScanlinesDown = f.uint32()
		}
		return nil
	})
}

func (m *ScanPatternPulse) appendTo(b []byte) []byte {
	b = appendFloat(b, 1, m.AngleSpacing)
	b = appendUint(b, 2, uint64(m.FrameMode))
	return appendBool(b, 3, m.DistortionCorrection)
}

func (m *ScanPatternPulse) Unmarshal(b []byte) error {
	*m = ScanPatternPulse{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.AngleSpacing = f.float32()
		case 2:
			m.FrameMode = FrameMode(f.uint32())
		case 3:
			m.DistortionCorrection = f.bool()
		}
		return nil
	})
}

func (m *ScanPatternFrameRate) appendTo(b []byte) []byte {
	b = appendDouble(b, 1, m.Target)
	return appendDouble(b, 2, m.Maximum)
}

func (m *ScanPatternFrameRate) Unmarshal(b []byte) error {
	*m = ScanPatternFrameRate{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Target = f.float64()
		case 2:
			m.Maximum = f.float64()
		}
		return nil
	})
}

func (m *ScanPatternFilter) appendTo(b []byte) []byte {
	if m.Range != nil {
		b = appendMessage(b, 1, m.Range)
	}
	b = appendUint(b, 2, uint64(m.MaxNumberOfReturnsPerPoint))
	return appendBool(b, 3, m.DeletePointsWithoutReturns)
}

func (m *ScanPatternFilter) Unmarshal(b []byte) error {
	*m = ScanPatternFilter{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Range = &Range{}
			return m.Range.Unmarshal(f.bytes())
		case 2:
			m.MaxNumberOfReturnsPerPoint = f.uint32()
		case 3:
			m.DeletePointsWithoutReturns = f.bool()
		}
		return nil
	})
}

func (m *Range) appendTo(b []byte) []byte {
	b = appendFloat(b, 1, m.Minimum)
	return appendFloat(b, 2, m.Maximum)
}

func (m *Range) Unmarshal(b []byte) error {
	*m = Range{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Minimum = f.float32()
		case 2:
			m.Maximum = f.float32()
		}
		return nil
	})
}

// NamedScanPattern is a scan pattern stored on the device under a name.
// Built-in patterns are read only.
type NamedScanPattern struct {
	Name     string
	Config   *ScanPattern
	ReadOnly bool
}

func (m *NamedScanPattern) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.Name)
	if m.Config != nil {
		b = appendMessage(b, 2, m.Config)
	}
	return appendBool(b, 3, m.ReadOnly)
}

func (m *NamedScanPattern) Unmarshal(b []byte) error {
	*m = NamedScanPattern{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Name = f.string()
		case 2:
			m.Config = &ScanPattern{}
			return m.Config.Unmarshal(f.bytes())
		case 3:
			m.ReadOnly = f.bool()
		}
		return nil
	})
}

// AdvancedConfig carries device tuning parameters outside the scan pattern.
type AdvancedConfig struct {
	Processing          *AdvancedProcessing
	Detector            *AdvancedDetector
	TimeSynchronization *TimeSynchronization

	unknown []byte
}

type AdvancedProcessing struct {
	// ImuStaticRotationOffset is a row-major 3x3 rotation matrix, or empty.
	ImuStaticRotationOffset []float32
	RangeOffset             float32
}

type AdvancedDetector struct {
	Sensitivity float32
}

func (m *AdvancedConfig) appendTo(b []byte) []byte {
	if m.Processing != nil {
		b = appendMessage(b, 1, m.Processing)
	}
	if m.Detector != nil {
		b = appendMessage(b, 2, m.Detector)
	}
	if m.TimeSynchronization != nil {
		b = appendMessage(b, 3, m.TimeSynchronization)
	}
	return append(b, m.unknown...)
}

func (m *AdvancedConfig) Marshal() []byte { return m.appendTo(nil) }

func (m *AdvancedConfig) Unmarshal(b []byte) error {
	*m = AdvancedConfig{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Processing = &AdvancedProcessing{}
			return m.Processing.Unmarshal(f.bytes())
		case 2:
			m.Detector = &AdvancedDetector{}
			return m.Detector.Unmarshal(f.bytes())
		case 3:
			m.TimeSynchronization = &TimeSynchronization{}
			return m.TimeSynchronization.Unmarshal(f.bytes())
		default:
			m.unknown = append(m.unknown, f.raw...)
		}
		return nil
	})
}

func (m *AdvancedProcessing) appendTo(b []byte) []byte {
	b = appendPackedFloats(b, 1, m.ImuStaticRotationOffset)
	return appendFloat(b, 2, m.RangeOffset)
}

func (m *AdvancedProcessing) Unmarshal(b []byte) error {
	*m = AdvancedProcessing{}
	return forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.ImuStaticRotationOffset, err = floatsFrom(m.ImuStaticRotationOffset, f)
		case 2:
			m.RangeOffset = f.float32()
		}
		return err
	})
}

func (m *AdvancedDetector) appendTo(b []byte) []byte {
	return appendFloat(b, 1, m.Sensitivity)
}

func (m *AdvancedDetector) Unmarshal(b []byte) error {
	*m = AdvancedDetector{}
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			m.Sensitivity = f.float32()
		}
		return nil
	})
}

// TimeSynchronization configures NTP or PTP on the device.
type TimeSynchronization struct {
	NTP *NTPConfig
	PTP *PTPConfig
}

type NTPConfig struct {
	Servers []string
}

type PTPConfig struct {
	Domain              uint32
	UnicastDestinations []string
}

func (m *TimeSynchronization) appendTo(b []byte) []byte {
	if m.NTP != nil {
		b = appendMessage(b, 1, m.NTP)
	}
	if m.PTP != nil {
		b = appendMessage(b, 2, m.PTP)
	}
	return b
}

func (m *TimeSynchronization) Unmarshal(b []byte) error {
	*m = TimeSynchronization{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.NTP = &NTPConfig{}
			return m.NTP.Unmarshal(f.bytes())
		case 2:
			m.PTP = &PTPConfig{}
			return m.PTP.Unmarshal(f.bytes())
		}
		return nil
	})
}

func (m *NTPConfig) appendTo(b []byte) []byte {
	return appendStrings(b, 1, m.Servers)
}

func (m *NTPConfig) Unmarshal(b []byte) error {
	*m = NTPConfig{}
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			m.Servers = append(m.Servers, f.string())
		}
		return nil
	})
}

func (m *PTPConfig) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Domain))
	return appendStrings(b, 2, m.UnicastDestinations)
}

func (m *PTPConfig) Unmarshal(b []byte) error {
	*m = PTPConfig{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Domain = f.uint32()
		case 2:
			m.UnicastDestinations = append(m.UnicastDestinations, f.string())
		}
		return nil
	})
}
