package schema

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Error is the error arm of a Response. Exactly one Detail is populated; its
// Number is the tag of the one-of field that carried it.
type Error struct {
	Detail ErrorDetail
}

// ErrorDetail is one variant of the error one-of.
type ErrorDetail interface {
	// Number is the field number of the variant within Error.
	Number() protowire.Number
	// TypeName is the fully qualified message name of the variant, or ""
	// when the number is not part of this schema version.
	TypeName() string
	// Lookup returns the value of a payload field and whether it is set.
	Lookup(name string) (any, bool)

	marshaler
}

// Error variant numbers.
const (
	ErrUnknown                protowire.Number = 1
	ErrNotImplemented         protowire.Number = 2
	ErrEmpty                  protowire.Number = 3
	ErrServerImplementation   protowire.Number = 4
	ErrInvalidRequest         protowire.Number = 5
	ErrConnectionClosed       protowire.Number = 6
	ErrOutdatedServerProtocol protowire.Number = 11
	ErrOutdatedClientProtocol protowire.Number = 12
	ErrScannerBusy            protowire.Number = 13
	ErrWrongOperationMode     protowire.Number = 14
	ErrNotAllowed             protowire.Number = 15
	ErrHardwareError          protowire.Number = 16
	ErrSystemStop             protowire.Number = 17
	ErrNotFound               protowire.Number = 18
	ErrUnknownErrorCode       protowire.Number = 21
	ErrNotInRange             protowire.Number = 22
	ErrTimeSyncFailed         protowire.Number = 23
	ErrNoDeviceDiscovered     protowire.Number = 24
	ErrNotSupported           protowire.Number = 25
)

var errorVariantNames = map[protowire.Number]string{
	ErrUnknown:                "Unknown",
	ErrNotImplemented:         "NotImplemented",
	ErrEmpty:                  "Empty",
	ErrServerImplementation:   "ServerImplementation",
	ErrInvalidRequest:         "InvalidRequest",
	ErrConnectionClosed:       "ConnectionClosed",
	ErrOutdatedServerProtocol: "OutdatedServerProtocol",
	ErrOutdatedClientProtocol: "OutdatedClientProtocol",
	ErrScannerBusy:            "ScannerBusy",
	ErrWrongOperationMode:     "WrongOperationMode",
	ErrNotAllowed:             "NotAllowed",
	ErrHardwareError:          "HardwareError",
	ErrSystemStop:             "SystemStop",
	ErrNotFound:               "NotFound",
	ErrUnknownErrorCode:       "UnknownErrorCode",
	ErrNotInRange:             "NotInRange",
	ErrTimeSyncFailed:         "TimeSyncFailed",
	ErrNoDeviceDiscovered:     "NoDeviceDiscovered",
	ErrNotSupported:           "NotSupported",
}

// ErrorTypeName returns the fully qualified message name of an error variant.
func ErrorTypeName(num protowire.Number) string {
	n, ok := errorVariantNames[num]
	if !ok {
		return ""
	}
	return ProtoPackage + ".Error." + n
}

// ErrorFlag is a variant without payload fields.
type ErrorFlag struct {
	Code protowire.Number
}

func (e *ErrorFlag) Number() protowire.Number  { return e.Code }
func (e *ErrorFlag) TypeName() string          { return ErrorTypeName(e.Code) }
func (e *ErrorFlag) Lookup(string) (any, bool) { return nil, false }
func (e *ErrorFlag) appendTo(b []byte) []byte  { return b }

// ErrorOutdatedProtocol is reported when client and device disagree on the
// protocol version. Code is ErrOutdatedServerProtocol or ErrOutdatedClientProtocol.
type ErrorOutdatedProtocol struct {
	Code            protowire.Number
	RequiredVersion *uint32
}

func (e *ErrorOutdatedProtocol) Number() protowire.Number { return e.Code }
func (e *ErrorOutdatedProtocol) TypeName() string         { return ErrorTypeName(e.Code) }

func (e *ErrorOutdatedProtocol) Lookup(name string) (any, bool) {
	if name == "required_version" && e.RequiredVersion != nil {
		return *e.RequiredVersion, true
	}
	return nil, false
}

func (e *ErrorOutdatedProtocol) appendTo(b []byte) []byte {
	return appendOptUint(b, 1, e.RequiredVersion)
}

type ErrorUnknownErrorCode struct {
	ErrorCode *uint32
}

func (e *ErrorUnknownErrorCode) Number() protowire.Number { return ErrUnknownErrorCode }
func (e *ErrorUnknownErrorCode) TypeName() string         { return ErrorTypeName(ErrUnknownErrorCode) }

func (e *ErrorUnknownErrorCode) Lookup(name string) (any, bool) {
	if name == "error_code" && e.ErrorCode != nil {
		return *e.ErrorCode, true
	}
	return nil, false
}

func (e *ErrorUnknownErrorCode) appendTo(b []byte) []byte {
	return appendOptUint(b, 1, e.ErrorCode)
}

// ErrorNotInRange is reported when a requested parameter is outside the
// range the device supports.
type ErrorNotInRange struct {
	Parameter *string
	Minimum   *float32
	Maximum   *float32
	Requested *float32
	Unit      *string
}

func (e *ErrorNotInRange) Number() protowire.Number { return ErrNotInRange }
func (e *ErrorNotInRange) TypeName() string         { return ErrorTypeName(ErrNotInRange) }

func (e *ErrorNotInRange) Lookup(name string) (any, bool) {
	switch {
	case name == "parameter" && e.Parameter != nil:
		return *e.Parameter, true
	case name == "minimum" && e.Minimum != nil:
		return *e.Minimum, true
	case name == "maximum" && e.Maximum != nil:
		return *e.Maximum, true
	case name == "requested" && e.Requested != nil:
		return *e.Requested, true
	case name == "unit" && e.Unit != nil:
		return *e.Unit, true
	}
	return nil, false
}

func (e *ErrorNotInRange) appendTo(b []byte) []byte {
	b = appendOptString(b, 1, e.Parameter)
	b = appendOptFloat(b, 2, e.Minimum)
	b = appendOptFloat(b, 3, e.Maximum)
	b = appendOptFloat(b, 4, e.Requested)
	return appendOptString(b, 5, e.Unit)
}

// ErrorText is a variant whose only payload is one string field: the
// description of Unknown, the reason of NotImplemented and NotSupported, the
// validation error of InvalidRequest and the daemon log of TimeSyncFailed.
type ErrorText struct {
	Code protowire.Number
	Text *string
}

var errorTextFields = map[protowire.Number]string{
	ErrUnknown:        "description",
	ErrNotImplemented: "reason",
	ErrInvalidRequest: "validation_error",
	ErrTimeSyncFailed: "ntp_daemon_log",
	ErrNotSupported:   "reason",
}

// FieldName is the schema name of the text field.
func (e *ErrorText) FieldName() string { return errorTextFields[e.Code] }

func (e *ErrorText) Number() protowire.Number { return e.Code }
func (e *ErrorText) TypeName() string         { return ErrorTypeName(e.Code) }

func (e *ErrorText) Lookup(name string) (any, bool) {
	if e.Text != nil && name == e.FieldName() {
		return *e.Text, true
	}
	return nil, false
}

func (e *ErrorText) appendTo(b []byte) []byte {
	return appendOptString(b, 1, e.Text)
}

// NewErrorText builds a text variant. code must be one of the variants with a
// single text field.
func NewErrorText(code protowire.Number, text string) *ErrorText {
	return &ErrorText{Code: code, Text: ptr(text)}
}

// NewNotInRange builds a NotInRange variant with all fields set.
func NewNotInRange(parameter string, minimum, maximum, requested float32, unit string) *ErrorNotInRange {
	return &ErrorNotInRange{
		Parameter: ptr(parameter),
		Minimum:   ptr(minimum),
		Maximum:   ptr(maximum),
		Requested: ptr(requested),
		Unit:      ptr(unit),
	}
}

// NewUnknownErrorCode builds an UnknownErrorCode variant for code.
func NewUnknownErrorCode(code uint32) *ErrorUnknownErrorCode {
	return &ErrorUnknownErrorCode{ErrorCode: ptr(code)}
}

func (m *Error) appendTo(b []byte) []byte {
	if m.Detail == nil {
		return b
	}
	b = protowire.AppendTag(b, m.Detail.Number(), protowire.BytesType)
	return protowire.AppendBytes(b, m.Detail.appendTo(nil))
}

func (m *Error) Unmarshal(b []byte) error {
	*m = Error{}
	return forEachField(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		d, err := decodeErrorDetail(f.num, f.buf)
		if err != nil {
			return err
		}
		m.Detail = d
		return nil
	})
}

func decodeErrorDetail(num protowire.Number, b []byte) (ErrorDetail, error) {
	switch num {
	case ErrOutdatedServerProtocol, ErrOutdatedClientProtocol:
		d := &ErrorOutdatedProtocol{Code: num}
		return d, forEachField(b, func(f field) error {
			if f.num == 1 {
				d.RequiredVersion = ptr(f.uint32())
			}
			return nil
		})
	case ErrUnknownErrorCode:
		d := &ErrorUnknownErrorCode{}
		return d, forEachField(b, func(f field) error {
			if f.num == 1 {
				d.ErrorCode = ptr(f.uint32())
			}
			return nil
		})
	case ErrNotInRange:
		d := &ErrorNotInRange{}
		return d, forEachField(b, func(f field) error {
			switch f.num {
			case 1:
				d.Parameter = ptr(f.string())
			case 2:
				d.Minimum = ptr(f.float32())
			case 3:
				d.Maximum = ptr(f.float32())
			case 4:
				d.Requested = ptr(f.float32())
			case 5:
				d.Unit = ptr(f.string())
			}
			return nil
		})
	case ErrUnknown, ErrNotImplemented, ErrInvalidRequest, ErrTimeSyncFailed, ErrNotSupported:
		d := &ErrorText{Code: num}
		return d, forEachField(b, func(f field) error {
			if f.num == 1 {
				d.Text = ptr(f.string())
			}
			return nil
		})
	}
	return &ErrorFlag{Code: num}, nil
}
