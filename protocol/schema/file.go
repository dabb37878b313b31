package schema

import "google.golang.org/protobuf/encoding/protowire"

// FileHeader is the first block of a recording.
type FileHeader struct {
	Device *PointCloudHeader
	Client *ClientInfo
	// Subscription is the request that produced the recorded stream. Its
	// reference frame is needed to decode packed frames on replay.
	Subscription *Subscription
}

// ClientInfo records which client wrote a file.
type ClientInfo struct {
	LibraryVersion string
	FileTimeNs     uint64
	Language       string
	SessionID      string
}

func (m *FileHeader) appendTo(b []byte) []byte {
	if m.Device != nil {
		b = appendMessage(b, 1, m.Device)
	}
	if m.Client != nil {
		b = appendMessage(b, 2, m.Client)
	}
	if m.Subscription != nil {
		b = appendMessage(b, 3, m.Subscription)
	}
	return b
}

func (m *FileHeader) Marshal() []byte { return m.appendTo(nil) }

func (m *FileHeader) Unmarshal(b []byte) error {
	*m = FileHeader{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Device = &PointCloudHeader{}
			return m.Device.Unmarshal(f.bytes())
		case 2:
			m.Client = &ClientInfo{}
			return m.Client.Unmarshal(f.bytes())
		case 3:
			m.Subscription = &Subscription{}
			return m.Subscription.Unmarshal(f.bytes())
		}
		return nil
	})
}

func (m *ClientInfo) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.LibraryVersion)
	b = appendUint(b, 2, m.FileTimeNs)
	b = appendString(b, 3, m.Language)
	return appendString(b, 4, m.SessionID)
}

func (m *ClientInfo) Unmarshal(b []byte) error {
	*m = ClientInfo{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.LibraryVersion = f.string()
		case 2:
			m.FileTimeNs = f.uint64()
		case 3:
			m.Language = f.string()
		case 4:
			m.SessionID = f.string()
		}
		return nil
	})
}

// FileFooter summarizes a recording so replays can report statistics
// without reading every frame.
type FileFooter struct {
	Stats  StreamStats
	Events []*ScanPatternEvent
}

// StreamStats counts what was recorded.
type StreamStats struct {
	Frames  uint64
	Points  uint64
	Returns uint64
}

// ScanPatternEvent marks the first frame recorded with a new scan pattern.
type ScanPatternEvent struct {
	FromFrameID uint64
	ScanPattern *ScanPattern
}

func (m *FileFooter) appendTo(b []byte) []byte {
	b = appendMessage(b, 1, &m.Stats)
	for _, e := range m.Events {
		b = appendMessage(b, 2, e)
	}
	return b
}

func (m *FileFooter) Unmarshal(b []byte) error {
	*m = FileFooter{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			return m.Stats.Unmarshal(f.bytes())
		case 2:
			e := &ScanPatternEvent{}
			if err := e.Unmarshal(f.bytes()); err != nil {
				return err
			}
			m.Events = append(m.Events, e)
		}
		return nil
	})
}

func (m *StreamStats) appendTo(b []byte) []byte {
	b = appendUint(b, 1, m.Frames)
	b = appendUint(b, 2, m.Points)
	return appendUint(b, 3, m.Returns)
}

func (m *StreamStats) Unmarshal(b []byte) error {
	*m = StreamStats{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Frames = f.uint64()
		case 2:
			m.Points = f.uint64()
		case 3:
			m.Returns = f.uint64()
		}
		return nil
	})
}

func (m *ScanPatternEvent) appendTo(b []byte) []byte {
	b = appendUint(b, 1, m.FromFrameID)
	if m.ScanPattern != nil {
		b = appendMessage(b, 2, m.ScanPattern)
	}
	return b
}

func (m *ScanPatternEvent) Unmarshal(b []byte) error {
	*m = ScanPatternEvent{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.FromFrameID = f.uint64()
		case 2:
			m.ScanPattern = &ScanPattern{}
			return m.ScanPattern.Unmarshal(f.bytes())
		}
		return nil
	})
}

// FileData is every block after the header: a frame, or the footer as the
// very last block.
type FileData struct {
	Frame  *Frame
	Footer *FileFooter
}

const (
	fileDataFrame  protowire.Number = 1
	fileDataFooter protowire.Number = 2
)

func (m *FileData) Marshal() []byte {
	switch {
	case m.Frame != nil:
		return appendMessage(nil, fileDataFrame, m.Frame)
	case m.Footer != nil:
		return appendMessage(nil, fileDataFooter, m.Footer)
	}
	return nil
}

func (m *FileData) Unmarshal(b []byte) error {
	*m = FileData{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case fileDataFrame:
			m.Frame = &Frame{}
			return m.Frame.Unmarshal(f.bytes())
		case fileDataFooter:
			m.Footer = &FileFooter{}
			return m.Footer.Unmarshal(f.bytes())
		}
		return nil
	})
}
