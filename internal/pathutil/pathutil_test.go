package pathutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SN-1234", "SN-1234"},
		{"lidar 1/front", "lidar_1_front"},
		{"../../etc", "etc"},
		{"a  ::  b", "a_b"},
		{"", "unknown"},
		{"___", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), "input %q", tt.in)
	}
	assert.Len(t, SanitizeName(strings.Repeat("x", 300)), maxNameLen)
}

func TestRecordingName(t *testing.T) {
	at := time.Date(2026, 1, 15, 11, 15, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "SN_7_20260115T101500Z.bfpc", RecordingName("SN 7", at))
}

func TestWithinDir(t *testing.T) {
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "safe")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "a.bfpc"), false},
		{"nested new file", filepath.Join(safe, "day", "a.bfpc"), false},
		{"dot dot", filepath.Join(safe, "..", "a.bfpc"), true},
		{"absolute elsewhere", "/etc/passwd", true},
		{"through symlink", filepath.Join(safe, "link", "a.bfpc"), true},
		{"new file under symlink", filepath.Join(safe, "link", "new", "a.bfpc"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, safe)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, WithinDir("a.bfpc", filepath.Join(tmp, "missing")))
}
