package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

type fields map[string]any

func (f fields) Lookup(name string) (any, bool) {
	v, ok := f[name]
	return v, ok
}

type staticSource string

func (s staticSource) Description(string) string { return string(s) }

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		tmpl   string
		fields fields
		want   string
	}{
		{"int", "range must be below {max:%d}", fields{"max": 50}, "range must be below 50"},
		{"unset", "range must be below {max:%d}", fields{}, "range must be below {max:%d}"},
		{"unsigned", "version {v:%u} required", fields{"v": uint32(3)}, "version 3 required"},
		{"float", "{x:%.2f}m", fields{"x": float32(1.5)}, "1.50m"},
		{"int as float", "{x:%.1f}", fields{"x": uint32(2)}, "2.0"},
		{"float as int", "{x:%d}", fields{"x": float32(7.9)}, "7"},
		{"string", "'{p:%s}'", fields{"p": "fov"}, "'fov'"},
		{"width", "[{p:%5s}]", fields{"p": "ab"}, "[   ab]"},
		{"not a placeholder", "{Max:%d} {max}", fields{"Max": 1, "max": 2}, "{Max:%d} {max}"},
		{"repeated", "{u:%s}-{u:%s}", fields{"u": "m"}, "m-m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.tmpl, tt.fields))
		})
	}
}

func TestNewErrorWithMockedDescription(t *testing.T) {
	src := staticSource("range must be below {maximum:%d}")
	e := NewErrorWithSource(&schema.Error{Detail: &schema.ErrorNotInRange{Maximum: ptr(float32(50))}}, src)
	assert.Equal(t, "range must be below 50", e.Description())

	e = NewErrorWithSource(&schema.Error{Detail: &schema.ErrorNotInRange{}}, src)
	assert.Equal(t, "range must be below {maximum:%d}", e.Description())
}

func ptr[T any](v T) *T { return &v }

func TestNewErrorCodeAndName(t *testing.T) {
	e := NewError(&schema.Error{Detail: schema.NewNotInRange("fov", 10, 180, 200, "°")})
	assert.Equal(t, 22, e.Code())
	assert.Equal(t, "lidar.protocol.Error.NotInRange", e.Name())
	assert.Equal(t, "The parameter 'fov' is out of range. Requested 200.00°, allowed range is 10.00° to 180.00°.", e.Description())
	assert.Equal(t,
		"lidar.protocol.Error.NotInRange: (errno: 22)\n\t"+e.Description(),
		e.Error())
}

func TestUnknownVariantBecomesUnknownErrorCode(t *testing.T) {
	e := NewError(&schema.Error{Detail: &schema.ErrorFlag{Code: 99}})
	assert.Equal(t, 21, e.Code())
	assert.Contains(t, e.Description(), "unknown error code 99")

	e = NewError(&schema.Error{})
	assert.Equal(t, 21, e.Code())
	assert.Contains(t, e.Description(), "unknown error code 0")
}

func TestErrorsIs(t *testing.T) {
	var err error = NewError(&schema.Error{Detail: &schema.ErrorFlag{Code: schema.ErrScannerBusy}})
	wrapped := fmt.Errorf("set scan pattern: %w", err)
	assert.True(t, errors.Is(wrapped, ErrScannerBusy))
	assert.False(t, errors.Is(wrapped, ErrNotAllowed))

	var pe *Error
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, "The device is busy with another request. Please retry later.", pe.Summary())
}

func TestDefaultDescriptionsCoverAllVariants(t *testing.T) {
	for _, num := range []int{1, 2, 3, 4, 5, 6, 11, 12, 13, 14, 15, 16, 17, 18, 21, 22, 23, 24, 25} {
		name := schema.ErrorTypeName(protowire.Number(num))
		require.NotEmpty(t, name, "code %d", num)
		_, ok := DefaultDescriptions[name]
		assert.True(t, ok, "no description for %s", name)
	}
}
