package schema

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RequestKind is the one-of discriminant of a Request.
type RequestKind protowire.Number

const (
	RequestHello                  RequestKind = 1
	RequestStatus                 RequestKind = 2
	RequestGetScanPattern         RequestKind = 3
	RequestSetScanPattern         RequestKind = 4
	RequestFillScanPattern        RequestKind = 5
	RequestSubscribe              RequestKind = 6
	RequestUnsubscribe            RequestKind = 7
	RequestRunSelfTest            RequestKind = 8
	RequestAttemptErrorRecovery   RequestKind = 9
	RequestGetNamedScanPatterns   RequestKind = 10
	RequestStoreNamedScanPattern  RequestKind = 11
	RequestDeleteNamedScanPattern RequestKind = 12
	RequestGetAdvancedConfig      RequestKind = 13
	RequestSetAdvancedConfig      RequestKind = 14
	RequestSetTimeSynchronization RequestKind = 15
)

// Request is a message sent from client to device. Kind selects which of the
// payload fields is meaningful; request kinds without a payload carry none.
type Request struct {
	Kind RequestKind

	Hello                  *Hello
	SetScanPattern         *SetScanPattern
	FillScanPattern        *FillScanPattern
	Subscription           *Subscription // subscribe and unsubscribe
	StoreNamedScanPattern  *NamedScanPattern
	DeleteNamedScanPattern *DeleteNamedScanPattern
	SetAdvancedConfig      *SetAdvancedConfig
	SetTimeSynchronization *SetTimeSynchronization
}

// Hello is the version handshake.
type Hello struct {
	ProtocolVersion uint32
	LibraryVersion  string
	Language        string
}

type SetScanPattern struct {
	Config  *ScanPattern
	Persist bool
	// Name selects a stored named scan pattern instead of Config.
	Name string
}

type FillScanPattern struct {
	Config *ScanPattern
}

type DeleteNamedScanPattern struct {
	Name string
}

type SetAdvancedConfig struct {
	Config  *AdvancedConfig
	Persist bool
}

type SetTimeSynchronization struct {
	Config  *TimeSynchronization
	Persist bool
}

func (m *Request) payload() marshaler {
	switch m.Kind {
	case RequestHello:
		return orEmpty(m.Hello)
	case RequestSetScanPattern:
		return orEmpty(m.SetScanPattern)
	case RequestFillScanPattern:
		return orEmpty(m.FillScanPattern)
	case RequestSubscribe, RequestUnsubscribe:
		return orEmpty(m.Subscription)
	case RequestStoreNamedScanPattern:
		return orEmpty(m.StoreNamedScanPattern)
	case RequestDeleteNamedScanPattern:
		return orEmpty(m.DeleteNamedScanPattern)
	case RequestSetAdvancedConfig:
		return orEmpty(m.SetAdvancedConfig)
	case RequestSetTimeSynchronization:
		return orEmpty(m.SetTimeSynchronization)
	}
	return &Empty{}
}

// orEmpty keeps a nil payload pointer from being dereferenced while still
// selecting the one-of arm.
func orEmpty[T any, P interface {
	*T
	marshaler
}](p P) marshaler {
	if p == nil {
		return &Empty{}
	}
	return p
}

func (m *Request) Marshal() ([]byte, error) {
	if m.Kind == 0 {
		return nil, fmt.Errorf("schema: request kind not set")
	}
	return appendMessage(nil, protowire.Number(m.Kind), m.payload()), nil
}

func (m *Request) Unmarshal(b []byte) error {
	*m = Request{}
	return forEachField(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		m.Kind = RequestKind(f.num)
		buf := f.bytes()
		switch m.Kind {
		case RequestHello:
			m.Hello = &Hello{}
			return m.Hello.Unmarshal(buf)
		case RequestSetScanPattern:
			m.SetScanPattern = &SetScanPattern{}
			return m.SetScanPattern.Unmarshal(buf)
		case RequestFillScanPattern:
			m.FillScanPattern = &FillScanPattern{}
			return m.FillScanPattern.Unmarshal(buf)
		case RequestSubscribe, RequestUnsubscribe:
			m.Subscription = &Subscription{}
			return m.Subscription.Unmarshal(buf)
		case RequestStoreNamedScanPattern:
			m.StoreNamedScanPattern = &NamedScanPattern{}
			return m.StoreNamedScanPattern.Unmarshal(buf)
		case RequestDeleteNamedScanPattern:
			m.DeleteNamedScanPattern = &DeleteNamedScanPattern{}
			return m.DeleteNamedScanPattern.Unmarshal(buf)
		case RequestSetAdvancedConfig:
			m.SetAdvancedConfig = &SetAdvancedConfig{}
			return m.SetAdvancedConfig.Unmarshal(buf)
		case RequestSetTimeSynchronization:
			m.SetTimeSynchronization = &SetTimeSynchronization{}
			return m.SetTimeSynchronization.Unmarshal(buf)
		}
		return nil
	})
}

func (m *Hello) appendTo(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.ProtocolVersion))
	b = appendString(b, 2, m.LibraryVersion)
	return appendString(b, 3, m.Language)
}

func (m *Hello) Unmarshal(b []byte) error {
	*m = Hello{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.ProtocolVersion = f.uint32()
		case 2:
			m.LibraryVersion = f.string()
		case 3:
			m.Language = f.string()
		}
		return nil
	})
}

func (m *SetScanPattern) appendTo(b []byte) []byte {
	if m.Config != nil {
		b = appendMessage(b, 1, m.Config)
	}
	b = appendBool(b, 2, m.Persist)
	return appendString(b, 3, m.Name)
}

func (m *SetScanPattern) Unmarshal(b []byte) error {
	*m = SetScanPattern{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Config = &ScanPattern{}
			return m.Config.Unmarshal(f.bytes())
		case 2:
			m.Persist = f.bool()
		case 3:
			m.Name = f.string()
		}
		return nil
	})
}

func (m *FillScanPattern) appendTo(b []byte) []byte {
	if m.Config != nil {
		b = appendMessage(b, 1, m.Config)
	}
	return b
}

func (m *FillScanPattern) Unmarshal(b []byte) error {
	*m = FillScanPattern{}
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			m.Config = &ScanPattern{}
			return m.Config.Unmarshal(f.bytes())
		}
		return nil
	})
}

func (m *DeleteNamedScanPattern) appendTo(b []byte) []byte {
	return appendString(b, 1, m.Name)
}

func (m *DeleteNamedScanPattern) Unmarshal(b []byte) error {
	*m = DeleteNamedScanPattern{}
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			m.Name = f.string()
		}
		return nil
	})
}

func (m *SetAdvancedConfig) appendTo(b []byte) []byte {
	if m.Config != nil {
		b = appendMessage(b, 1, m.Config)
	}
	return appendBool(b, 2, m.Persist)
}

func (m *SetAdvancedConfig) Unmarshal(b []byte) error {
	*m = SetAdvancedConfig{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Config = &AdvancedConfig{}
			return m.Config.Unmarshal(f.bytes())
		case 2:
			m.Persist = f.bool()
		}
		return nil
	})
}

func (m *SetTimeSynchronization) appendTo(b []byte) []byte {
	if m.Config != nil {
		b = appendMessage(b, 1, m.Config)
	}
	return appendBool(b, 2, m.Persist)
}

func (m *SetTimeSynchronization) Unmarshal(b []byte) error {
	*m = SetTimeSynchronization{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Config = &TimeSynchronization{}
			return m.Config.Unmarshal(f.bytes())
		case 2:
			m.Persist = f.bool()
		}
		return nil
	})
}

// SubscriptionKind is the one-of discriminant of a Subscription.
type SubscriptionKind protowire.Number

const (
	SubscribePointCloud SubscriptionKind = 1
	SubscribeStatus     SubscriptionKind = 2
	SubscribeIMU        SubscriptionKind = 3
	SubscribeRawFile    SubscriptionKind = 4
)

func (k SubscriptionKind) String() string {
	switch k {
	case SubscribePointCloud:
		return "point_cloud"
	case SubscribeStatus:
		return "status"
	case SubscribeIMU:
		return "imu"
	case SubscribeRawFile:
		return "raw_file"
	}
	return fmt.Sprintf("subscription(%d)", int(k))
}

// Subscription selects an event stream.
type Subscription struct {
	Kind SubscriptionKind

	PointCloud *PointCloudSubscription
	IMU        *IMUSubscription
	RawFile    *RawFileSubscription
}

// PointCloudSubscription asks for frames shaped like ReferenceFrame: fields
// set to a non-zero value in the template are populated by the device.
type PointCloudSubscription struct {
	ReferenceFrame *Frame
	Filter         *ScanPatternFilter
}

type IMUSubscription struct {
	PackedFormat bool
}

type RawFileSubscription struct {
	PointCloud *PointCloudSubscription
	IMU        *IMUSubscription
}

func (m *Subscription) appendTo(b []byte) []byte {
	var p marshaler = &Empty{}
	switch m.Kind {
	case SubscribePointCloud:
		p = orEmpty(m.PointCloud)
	case SubscribeIMU:
		p = orEmpty(m.IMU)
	case SubscribeRawFile:
		p = orEmpty(m.RawFile)
	case 0:
		return b
	}
	return appendMessage(b, protowire.Number(m.Kind), p)
}

func (m *Subscription) Marshal() []byte { return m.appendTo(nil) }

func (m *Subscription) Unmarshal(b []byte) error {
	*m = Subscription{}
	return forEachField(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		m.Kind = SubscriptionKind(f.num)
		switch m.Kind {
		case SubscribePointCloud:
			m.PointCloud = &PointCloudSubscription{}
			return m.PointCloud.Unmarshal(f.bytes())
		case SubscribeIMU:
			m.IMU = &IMUSubscription{}
			return m.IMU.Unmarshal(f.bytes())
		case SubscribeRawFile:
			m.RawFile = &RawFileSubscription{}
			return m.RawFile.Unmarshal(f.bytes())
		}
		return nil
	})
}

func (m *PointCloudSubscription) appendTo(b []byte) []byte {
	if m.ReferenceFrame != nil {
		b = appendMessage(b, 1, m.ReferenceFrame)
	}
	if m.Filter != nil {
		b = appendMessage(b, 2, m.Filter)
	}
	return b
}

func (m *PointCloudSubscription) Unmarshal(b []byte) error {
	*m = PointCloudSubscription{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.ReferenceFrame = &Frame{}
			return m.ReferenceFrame.Unmarshal(f.bytes())
		case 2:
			m.Filter = &ScanPatternFilter{}
			return m.Filter.Unmarshal(f.bytes())
		}
		return nil
	})
}

func (m *IMUSubscription) appendTo(b []byte) []byte {
	return appendBool(b, 1, m.PackedFormat)
}

func (m *IMUSubscription) Unmarshal(b []byte) error {
	*m = IMUSubscription{}
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			m.PackedFormat = f.bool()
		}
		return nil
	})
}

func (m *RawFileSubscription) appendTo(b []byte) []byte {
	if m.PointCloud != nil {
		b = appendMessage(b, 1, m.PointCloud)
	}
	if m.IMU != nil {
		b = appendMessage(b, 2, m.IMU)
	}
	return b
}

func (m *RawFileSubscription) Unmarshal(b []byte) error {
	*m = RawFileSubscription{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.PointCloud = &PointCloudSubscription{}
			return m.PointCloud.Unmarshal(f.bytes())
		case 2:
			m.IMU = &IMUSubscription{}
			return m.IMU.Unmarshal(f.bytes())
		}
		return nil
	})
}

// ResponseKind is the one-of discriminant of a Response.
type ResponseKind protowire.Number

const (
	ResponseError                  ResponseKind = 1
	ResponseEvent                  ResponseKind = 2
	ResponseHello                  ResponseKind = 3
	ResponseStatus                 ResponseKind = 4
	ResponseGetScanPattern         ResponseKind = 5
	ResponseSetScanPattern         ResponseKind = 6
	ResponseFillScanPattern        ResponseKind = 7
	ResponseRunSelfTest            ResponseKind = 8
	ResponseAttemptErrorRecovery   ResponseKind = 9
	ResponseGetNamedScanPatterns   ResponseKind = 10
	ResponseStoreNamedScanPattern  ResponseKind = 11
	ResponseDeleteNamedScanPattern ResponseKind = 12
	ResponseGetAdvancedConfig      ResponseKind = 13
	ResponseSetAdvancedConfig      ResponseKind = 14
	ResponseSetTimeSynchronization ResponseKind = 15
)

// fieldTimestampNs is outside the one-of.
const fieldTimestampNs protowire.Number = 100

// Response is a message sent from device to client: either a reply to the
// last request, an error, or a pushed event.
type Response struct {
	Kind ResponseKind

	Error             *Error
	Event             *Event
	Hello             *Hello
	Status            *Status
	ScanPattern       *ScanPattern // get and fill scan pattern
	SelfTest          *SelfTestResult
	NamedScanPatterns []*NamedScanPattern
	AdvancedConfig    *AdvancedConfig

	// TimestampNs is the device clock when the response was created.
	TimestampNs uint64
}

// SelfTestResult is the outcome of a device self test.
type SelfTestResult struct {
	Success bool
	Report  string
}

func (m *Response) appendTo(b []byte) []byte {
	num := protowire.Number(m.Kind)
	switch m.Kind {
	case ResponseError:
		b = appendMessage(b, num, orEmpty(m.Error))
	case ResponseEvent:
		b = appendMessage(b, num, orEmpty(m.Event))
	case ResponseHello:
		b = appendMessage(b, num, orEmpty(m.Hello))
	case ResponseStatus:
		b = appendMessage(b, num, orEmpty(m.Status))
	case ResponseGetScanPattern, ResponseFillScanPattern:
		b = appendMessage(b, num, &scanPatternReply{Config: m.ScanPattern})
	case ResponseRunSelfTest:
		b = appendMessage(b, num, orEmpty(m.SelfTest))
	case ResponseGetNamedScanPatterns:
		b = appendMessage(b, num, &namedScanPatternsReply{Configs: m.NamedScanPatterns})
	case ResponseGetAdvancedConfig:
		b = appendMessage(b, num, &advancedConfigReply{Config: m.AdvancedConfig})
	case 0:
	default:
		b = appendMessage(b, num, &Empty{})
	}
	return appendUint(b, fieldTimestampNs, m.TimestampNs)
}

func (m *Response) Marshal() []byte { return m.appendTo(nil) }

func (m *Response) Unmarshal(b []byte) error {
	*m = Response{}
	return forEachField(b, func(f field) error {
		if f.num == fieldTimestampNs {
			m.TimestampNs = f.uint64()
			return nil
		}
		if f.typ != protowire.BytesType {
			return nil
		}
		m.Kind = ResponseKind(f.num)
		buf := f.bytes()
		switch m.Kind {
		case ResponseError:
			m.Error = &Error{}
			return m.Error.Unmarshal(buf)
		case ResponseEvent:
			m.Event = &Event{}
			return m.Event.Unmarshal(buf)
		case ResponseHello:
			m.Hello = &Hello{}
			return m.Hello.Unmarshal(buf)
		case ResponseStatus:
			m.Status = &Status{}
			return m.Status.Unmarshal(buf)
		case ResponseGetScanPattern, ResponseFillScanPattern:
			r := &scanPatternReply{}
			if err := r.Unmarshal(buf); err != nil {
				return err
			}
			m.ScanPattern = r.Config
		case ResponseRunSelfTest:
			m.SelfTest = &SelfTestResult{}
			return m.SelfTest.Unmarshal(buf)
		case ResponseGetNamedScanPatterns:
			r := &namedScanPatternsReply{}
			if err := r.Unmarshal(buf); err != nil {
				return err
			}
			m.NamedScanPatterns = r.Configs
		case ResponseGetAdvancedConfig:
			r := &advancedConfigReply{}
			if err := r.Unmarshal(buf); err != nil {
				return err
			}
			m.AdvancedConfig = r.Config
		}
		return nil
	})
}

func (m *SelfTestResult) appendTo(b []byte) []byte {
	b = appendBool(b, 1, m.Success)
	return appendString(b, 2, m.Report)
}

func (m *SelfTestResult) Unmarshal(b []byte) error {
	*m = SelfTestResult{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Success = f.bool()
		case 2:
			m.Report = f.string()
		}
		return nil
	})
}

type scanPatternReply struct{ Config *ScanPattern }

func (m *scanPatternReply) appendTo(b []byte) []byte {
	if m.Config != nil {
		b = appendMessage(b, 1, m.Config)
	}
	return b
}

func (m *scanPatternReply) Unmarshal(b []byte) error {
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			m.Config = &ScanPattern{}
			return m.Config.Unmarshal(f.bytes())
		}
		return nil
	})
}

type namedScanPatternsReply struct{ Configs []*NamedScanPattern }

func (m *namedScanPatternsReply) appendTo(b []byte) []byte {
	for _, c := range m.Configs {
		b = appendMessage(b, 1, c)
	}
	return b
}

func (m *namedScanPatternsReply) Unmarshal(b []byte) error {
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			c := &NamedScanPattern{}
			if err := c.Unmarshal(f.bytes()); err != nil {
				return err
			}
			m.Configs = append(m.Configs, c)
		}
		return nil
	})
}

type advancedConfigReply struct{ Config *AdvancedConfig }

func (m *advancedConfigReply) appendTo(b []byte) []byte {
	if m.Config != nil {
		b = appendMessage(b, 1, m.Config)
	}
	return b
}

func (m *advancedConfigReply) Unmarshal(b []byte) error {
	return forEachField(b, func(f field) error {
		if f.num == 1 {
			m.Config = &AdvancedConfig{}
			return m.Config.Unmarshal(f.bytes())
		}
		return nil
	})
}

// EventKind is the one-of discriminant of an Event.
type EventKind protowire.Number

const (
	EventPointCloud  EventKind = 1
	EventStatus      EventKind = 2
	EventIMU         EventKind = 3
	EventRawFile     EventKind = 4
	EventEndOfStream EventKind = 5
)

// Event is a message pushed by the device on a subscribed connection.
type Event struct {
	Kind EventKind

	PointCloud *PointCloudEvent
	Status     *Status
	IMU        *IMU
	RawFile    []byte
}

// PointCloudEvent carries one frame. The reply to a point cloud subscription
// is a PointCloudEvent with only Header set.
type PointCloudEvent struct {
	Header *PointCloudHeader
	Frame  *Frame
}

func (m *Event) appendTo(b []byte) []byte {
	num := protowire.Number(m.Kind)
	switch m.Kind {
	case EventPointCloud:
		return appendMessage(b, num, orEmpty(m.PointCloud))
	case EventStatus:
		return appendMessage(b, num, orEmpty(m.Status))
	case EventIMU:
		return appendMessage(b, num, orEmpty(m.IMU))
	case EventRawFile:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, m.RawFile)
	case EventEndOfStream:
		return appendMessage(b, num, &Empty{})
	}
	return b
}

func (m *Event) Unmarshal(b []byte) error {
	*m = Event{}
	return forEachField(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		m.Kind = EventKind(f.num)
		switch m.Kind {
		case EventPointCloud:
			m.PointCloud = &PointCloudEvent{}
			return m.PointCloud.Unmarshal(f.bytes())
		case EventStatus:
			m.Status = &Status{}
			return m.Status.Unmarshal(f.bytes())
		case EventIMU:
			m.IMU = &IMU{}
			return m.IMU.Unmarshal(f.bytes())
		case EventRawFile:
			m.RawFile = append([]byte{}, f.bytes()...)
		}
		return nil
	})
}

func (m *PointCloudEvent) appendTo(b []byte) []byte {
	if m.Header != nil {
		b = appendMessage(b, 1, m.Header)
	}
	if m.Frame != nil {
		b = appendMessage(b, 2, m.Frame)
	}
	return b
}

func (m *PointCloudEvent) Unmarshal(b []byte) error {
	*m = PointCloudEvent{}
	return forEachField(b, func(f field) error {
		switch f.num {
		case 1:
			m.Header = &PointCloudHeader{}
			return m.Header.Unmarshal(f.bytes())
		case 2:
			m.Frame = &Frame{}
			return m.Frame.Unmarshal(f.bytes())
		}
		return nil
	})
}
