// Package protocol turns device-reported errors into Go errors.
//
// A device answers a failing request with the error arm of a Response. The
// populated variant decides the numeric code and the symbolic name, and each
// variant carries a description template whose {field:format} placeholders
// are filled from the variant's payload.
package protocol

import (
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

// DescriptionSource returns the description template of an error variant.
type DescriptionSource interface {
	Description(typeName string) string
}

// Error is a device-reported error. It is immutable once constructed.
type Error struct {
	code   int
	name   string
	desc   string
	detail schema.ErrorDetail
}

// NewError decodes the error arm of a response using the built-in templates.
func NewError(e *schema.Error) *Error {
	return NewErrorWithSource(e, DefaultDescriptions)
}

// NewErrorWithSource decodes e with templates taken from src. Variants that
// are unset or not part of the schema become UnknownErrorCode with the
// original number as payload.
func NewErrorWithSource(e *schema.Error, src DescriptionSource) *Error {
	var d schema.ErrorDetail
	if e != nil {
		d = e.Detail
	}
	if d == nil {
		d = schema.NewUnknownErrorCode(0)
	} else if d.TypeName() == "" {
		d = schema.NewUnknownErrorCode(uint32(d.Number()))
	}

	name := d.TypeName()
	return &Error{
		code:   int(d.Number()),
		name:   name,
		desc:   Format(src.Description(name), d),
		detail: d,
	}
}

// Code is the field number of the populated error variant.
func (e *Error) Code() int { return e.code }

// Name is the fully qualified type name of the populated error variant.
func (e *Error) Name() string { return e.name }

// Description is the filled description template.
func (e *Error) Description() string { return e.desc }

// Detail is the decoded error variant.
func (e *Error) Detail() schema.ErrorDetail { return e.detail }

func (e *Error) Error() string {
	return fmt.Sprintf("%s: (errno: %d)\n\t%s", e.name, e.code, e.desc)
}

// Is reports whether target is a protocol error with the same code, so
// callers can match against sentinels such as ErrScannerBusy.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

func sentinel(num protowire.Number) *Error {
	return &Error{code: int(num), name: schema.ErrorTypeName(num)}
}

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrUnknown                = sentinel(schema.ErrUnknown)
	ErrNotImplemented         = sentinel(schema.ErrNotImplemented)
	ErrInvalidRequest         = sentinel(schema.ErrInvalidRequest)
	ErrConnectionClosed       = sentinel(schema.ErrConnectionClosed)
	ErrOutdatedServerProtocol = sentinel(schema.ErrOutdatedServerProtocol)
	ErrOutdatedClientProtocol = sentinel(schema.ErrOutdatedClientProtocol)
	ErrScannerBusy            = sentinel(schema.ErrScannerBusy)
	ErrWrongOperationMode     = sentinel(schema.ErrWrongOperationMode)
	ErrNotAllowed             = sentinel(schema.ErrNotAllowed)
	ErrHardwareError          = sentinel(schema.ErrHardwareError)
	ErrNotFound               = sentinel(schema.ErrNotFound)
	ErrUnknownErrorCode       = sentinel(schema.ErrUnknownErrorCode)
	ErrNotInRange             = sentinel(schema.ErrNotInRange)
	ErrTimeSyncFailed         = sentinel(schema.ErrTimeSyncFailed)
	ErrNotSupported           = sentinel(schema.ErrNotSupported)
)

var placeholder = regexp.MustCompile(`\{([a-z_]+):(%\d*\.*\d*[fsdu])\}`)

// FieldSource resolves payload fields by schema name.
type FieldSource interface {
	Lookup(name string) (any, bool)
}

// Format fills every {field:format} placeholder of tmpl with the value of
// the named field. Placeholders of fields that are not set are left as they
// are.
func Format(tmpl string, fields FieldSource) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		v, ok := fields.Lookup(sub[1])
		if !ok {
			return m
		}
		return formatValue(sub[2], v)
	})
}

func formatValue(verb string, v any) string {
	c := verb[len(verb)-1]
	if c == 'u' {
		verb = verb[:len(verb)-1] + "d"
		c = 'd'
	}
	switch c {
	case 'd':
		switch n := v.(type) {
		case float32:
			v = int64(n)
		case float64:
			v = int64(n)
		}
	case 'f':
		switch n := v.(type) {
		case uint32:
			v = float64(n)
		case int32:
			v = float64(n)
		case uint64:
			v = float64(n)
		case int64:
			v = float64(n)
		}
	case 's':
		if _, ok := v.(string); !ok {
			v = fmt.Sprint(v)
		}
	}
	return fmt.Sprintf(verb, v)
}

// Descriptions maps fully qualified error type names to templates.
type Descriptions map[string]string

func (d Descriptions) Description(typeName string) string {
	if s, ok := d[typeName]; ok {
		return s
	}
	return "No description available."
}

func tn(num protowire.Number) string { return schema.ErrorTypeName(num) }

// DefaultDescriptions are the templates of the current schema.
var DefaultDescriptions = Descriptions{
	tn(schema.ErrUnknown):                "An unknown error occurred: {description:%s}",
	tn(schema.ErrNotImplemented):         "The requested function is not implemented. {reason:%s}",
	tn(schema.ErrEmpty):                  "The request was empty.",
	tn(schema.ErrServerImplementation):   "The device was not able to handle the request. Please report this to the device vendor.",
	tn(schema.ErrInvalidRequest):         "The request is invalid: {validation_error:%s}",
	tn(schema.ErrConnectionClosed):       "The connection was closed by the device.",
	tn(schema.ErrOutdatedServerProtocol): "The device firmware is outdated. Protocol version {required_version:%u} is required. Please update the firmware.",
	tn(schema.ErrOutdatedClientProtocol): "The client library is outdated. Protocol version {required_version:%u} is required. Please update the library.",
	tn(schema.ErrScannerBusy):            "The device is busy with another request. Please retry later.",
	tn(schema.ErrWrongOperationMode):     "The request is not possible in the current operation mode of the device.",
	tn(schema.ErrNotAllowed):             "The request is not allowed.",
	tn(schema.ErrHardwareError):          "A hardware error occurred. Check the device status for details.",
	tn(schema.ErrSystemStop):             "The device is shutting down.",
	tn(schema.ErrNotFound):               "The requested item was not found.",
	tn(schema.ErrUnknownErrorCode):       "The device reported an unknown error code {error_code:%u}. Please update the client library.",
	tn(schema.ErrNotInRange):             "The parameter '{parameter:%s}' is out of range. Requested {requested:%.2f}{unit:%s}, allowed range is {minimum:%.2f}{unit:%s} to {maximum:%.2f}{unit:%s}.",
	tn(schema.ErrTimeSyncFailed):         "Time synchronization failed. Daemon log:\n{ntp_daemon_log:%s}",
	tn(schema.ErrNoDeviceDiscovered):     "No device was discovered on the network.",
	tn(schema.ErrNotSupported):           "The requested function is not supported by this device. {reason:%s}",
}

// Summary returns the first line of the description, for log output.
func (e *Error) Summary() string {
	s, _, _ := strings.Cut(e.desc, "\n")
	return s
}
