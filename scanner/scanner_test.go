package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarlink/internal/config"
	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/mockup"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/testutil"
	"github.com/banshee-data/lidarlink/internal/timeutil"
	"github.com/banshee-data/lidarlink/protocol"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

func init() {
	monitoring.SetLogger(nil)
}

func startMockup(t *testing.T, opts mockup.Options) *mockup.Server {
	t.Helper()
	srv, err := mockup.Start("127.0.0.1:0", opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func openScanner(t *testing.T, srv *mockup.Server, opts Options) *Scanner {
	t.Helper()
	s, err := Open(context.Background(), srv.Host(), srv.Port(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var patternOpts = cmpopts.IgnoreUnexported(schema.ScanPattern{}, schema.AdvancedConfig{})

func TestScanner_Hello(t *testing.T) {
	srv := startMockup(t, mockup.Options{})
	s := openScanner(t, srv, Options{})

	h, err := s.Hello(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, uint32(config.DefaultProtocolVersion), h.ProtocolVersion)
	assert.Contains(t, h.LibraryVersion, "mockup")
	assert.Equal(t, "<scanner "+s.Addr()+">", s.String())
}

func TestScanner_DeviceTime(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	srv := startMockup(t, mockup.Options{Clock: clock, ClockOffset: 250 * time.Millisecond})
	s := openScanner(t, srv, Options{})

	got, err := s.DeviceTime(testContext(t))
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Unix(1_700_000_000, 250_000_000)), "got %v", got)
}

func TestScanner_ScanPattern(t *testing.T) {
	srv := startMockup(t, mockup.Options{MaxFrameRate: 12})
	s := openScanner(t, srv, Options{})
	ctx := testContext(t)

	partial := &schema.ScanPattern{Horizontal: &schema.ScanPatternHorizontal{Fov: 40}}
	filled, err := s.FillScanPattern(ctx, partial)
	require.NoError(t, err)
	assert.Equal(t, float32(40), filled.Horizontal.Fov)
	require.NotNil(t, filled.Vertical)
	assert.Equal(t, 12.0, filled.FrameRate.Maximum)

	filled.FrameRate.Target = 5
	require.NoError(t, s.SetScanPattern(ctx, filled, false))

	active, err := s.ScanPattern(ctx)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(filled, active, patternOpts))

	filled.FrameRate.Target = 20
	err = s.SetScanPattern(ctx, filled, false)
	assert.ErrorIs(t, err, protocol.ErrNotInRange)
	var perr *protocol.Error
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Description(), "frame_rate.target")

	assert.Error(t, s.SetScanPattern(ctx, nil, false))
}

func TestScanner_NamedScanPatterns(t *testing.T) {
	srv := startMockup(t, mockup.Options{})
	s := openScanner(t, srv, Options{})
	ctx := testContext(t)

	sp := &schema.ScanPattern{Vertical: &schema.ScanPatternVertical{Fov: 20, ScanlinesUp: 100, ScanlinesDown: 100}}
	require.NoError(t, s.StoreNamedScanPattern(ctx, "dense", sp))

	named, err := s.NamedScanPatterns(ctx)
	require.NoError(t, err)
	var names []string
	for _, n := range named {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{mockup.DefaultPatternName, "dense"}, names)
	assert.True(t, named[0].ReadOnly)
	assert.False(t, named[1].ReadOnly)

	require.NoError(t, s.SetScanPatternByName(ctx, "dense", false))
	active, err := s.ScanPattern(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), active.Vertical.ScanlinesUp)

	assert.ErrorIs(t, s.StoreNamedScanPattern(ctx, mockup.DefaultPatternName, sp), protocol.ErrNotAllowed)
	assert.ErrorIs(t, s.DeleteNamedScanPattern(ctx, mockup.DefaultPatternName), protocol.ErrNotAllowed)
	require.NoError(t, s.DeleteNamedScanPattern(ctx, "dense"))
	assert.ErrorIs(t, s.DeleteNamedScanPattern(ctx, "dense"), protocol.ErrNotFound)
	assert.ErrorIs(t, s.SetScanPatternByName(ctx, "dense", false), protocol.ErrNotFound)
	assert.Error(t, s.SetScanPatternByName(ctx, "", false))
}

func TestScanner_AdvancedConfig(t *testing.T) {
	srv := startMockup(t, mockup.Options{})
	s := openScanner(t, srv, Options{})
	ctx := testContext(t)

	want := &schema.AdvancedConfig{
		Processing: &schema.AdvancedProcessing{RangeOffset: 0.25},
		Detector:   &schema.AdvancedDetector{Sensitivity: 1.5},
	}
	require.NoError(t, s.SetAdvancedConfig(ctx, want, true))

	got, err := s.AdvancedConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got, patternOpts))
}

func TestScanner_SelfTestAndRecovery(t *testing.T) {
	srv := startMockup(t, mockup.Options{FailSelfTest: true})
	s := openScanner(t, srv, Options{})
	ctx := testContext(t)

	res, err := s.RunSelfTest(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Report)

	assert.ErrorIs(t, s.AttemptErrorRecovery(ctx), protocol.ErrWrongOperationMode)

	srv.SetState(schema.ScannerStateError)
	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.ScannerStateError, st.State)

	require.NoError(t, s.AttemptErrorRecovery(ctx))
	st, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.ScannerStateReady, st.State)
}

func TestScanner_UnexpectedResponse(t *testing.T) {
	dev := testutil.NewFakeDevice(t, testutil.Serve(func(*schema.Request) *schema.Response {
		return &schema.Response{Kind: schema.ResponseStatus, Status: &schema.Status{}}
	}))
	s, err := Open(testContext(t), dev.Host(), dev.Port(), Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Hello(testContext(t))
	var unexpected *UnexpectedResponseError
	require.True(t, errors.As(err, &unexpected))
	assert.Equal(t, schema.ResponseHello, unexpected.Want)
	assert.Equal(t, schema.ResponseStatus, unexpected.Got)
}

func TestScanner_StatusStream(t *testing.T) {
	srv := startMockup(t, mockup.Options{StatusInterval: 10 * time.Millisecond})
	s := openScanner(t, srv, Options{})

	st, err := s.StatusStream(testContext(t))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		status, err := st.Receive(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, schema.ScannerStateReady, status.State)
	}
	require.NoError(t, st.Stop())

	// the primary connection is independent of the stream
	_, err = s.Status(testContext(t))
	require.NoError(t, err)
}

func TestOpenConfig(t *testing.T) {
	srv := startMockup(t, mockup.Options{})
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/client.toml", []byte("protocol_version = 1\ntime_sync_timeout = \"5s\"\n"), 0o644))
	cfg, err := config.LoadClientConfig(fsys, "/client.toml")
	require.NoError(t, err)

	s, err := OpenConfig(testContext(t), fsys, cfg, srv.Addr())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 5*time.Second, s.opts.TimeSyncTimeout)

	_, err = s.Hello(testContext(t))
	require.NoError(t, err)

	_, err = OpenConfig(testContext(t), fsys, &config.ClientConfig{}, "")
	assert.Error(t, err)
}
