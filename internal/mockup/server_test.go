package mockup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/testutil"
	"github.com/banshee-data/lidarlink/protocol"
	"github.com/banshee-data/lidarlink/protocol/schema"
	"github.com/banshee-data/lidarlink/stream"
)

func init() {
	monitoring.SetLogger(nil)
}

func frame(id uint64) *schema.Frame {
	return &schema.Frame{
		ID:                   id,
		StartTimeNs:          id * uint64(100*time.Millisecond),
		TotalNumberOfPoints:  1,
		TotalNumberOfReturns: 1,
		Scanlines: []*schema.Scanline{{Points: []*schema.Point{{
			ID:      1,
			Returns: []*schema.Return{{Cartesian: []float32{1, 2, 3}, Intensity: 9}},
		}}}},
	}
}

// record captures n frames pushed by a scripted device into path, the way a
// client records a live stream.
func record(t *testing.T, fsys fsutil.FileSystem, path string, n int) {
	t.Helper()
	dev := testutil.NewFakeDevice(t, func(c *testutil.DeviceConn) {
		if _, err := c.ReadRequest(); err != nil {
			return
		}
		c.WriteEvent(&schema.Event{
			Kind:       schema.EventPointCloud,
			PointCloud: &schema.PointCloudEvent{Header: &schema.PointCloudHeader{SerialNumber: "MOCK-1"}},
		})
		for i := 1; i <= n; i++ {
			c.WriteEvent(&schema.Event{Kind: schema.EventPointCloud, PointCloud: &schema.PointCloudEvent{Frame: frame(uint64(i))}})
		}
		if _, err := c.ReadRequest(); err == nil {
			c.WriteEvent(&schema.Event{Kind: schema.EventEndOfStream})
		}
	})
	conn, err := connection.Dial(context.Background(), dev.Host(), dev.Port(), nil)
	require.NoError(t, err)

	pc, err := stream.SubscribePointCloud(testContext(t), conn, stream.PointCloudOptions{})
	require.NoError(t, err)
	require.NoError(t, pc.RecordTo(fsys, path, stream.RecordOptions{}))
	for i := 0; i < n; i++ {
		_, err := pc.Receive(testContext(t))
		require.NoError(t, err)
	}
	require.NoError(t, pc.Stop())
}

func start(t *testing.T, opts Options) *Server {
	t.Helper()
	srv, err := Start("127.0.0.1:0", opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *Server) *connection.Conn {
	t.Helper()
	conn, err := connection.Dial(context.Background(), srv.Host(), srv.Port(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_ReplaysRecording(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	record(t, fsys, "/rec.bfpc", 4)
	srv := start(t, Options{FS: fsys, Recording: "/rec.bfpc"})

	pc, err := stream.SubscribePointCloud(testContext(t), dial(t, srv), stream.PointCloudOptions{FailOnLostFrames: true})
	require.NoError(t, err)
	assert.Equal(t, "MOCK-1", pc.Metadata().Header.Device.SerialNumber)

	var ids []uint64
	err = pc.Subscribe(testContext(t), func(f *schema.Frame) error {
		ids = append(ids, f.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, ids)
}

func TestServer_LoopUntilUnsubscribed(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	record(t, fsys, "/rec.bfpc", 2)
	srv := start(t, Options{FS: fsys, Recording: "/rec.bfpc", Loop: true})

	pc, err := stream.SubscribePointCloud(testContext(t), dial(t, srv), stream.PointCloudOptions{})
	require.NoError(t, err)

	var ids []uint64
	for i := 0; i < 5; i++ {
		f, err := pc.Receive(testContext(t))
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []uint64{1, 2, 1, 2, 1}, ids)
	require.NoError(t, pc.Stop())
	require.NoError(t, pc.Stop())
}

func TestServer_NoRecording(t *testing.T) {
	srv := start(t, Options{})
	_, err := stream.SubscribePointCloud(testContext(t), dial(t, srv), stream.PointCloudOptions{})
	assert.ErrorIs(t, err, protocol.ErrNotSupported)

	_, err = stream.SubscribeIMU(testContext(t), dial(t, srv), false)
	assert.ErrorIs(t, err, protocol.ErrNotSupported)
}

func TestServer_DoubleSubscribe(t *testing.T) {
	srv := start(t, Options{StatusInterval: time.Hour})
	conn := dial(t, srv)

	sub := &schema.Request{Kind: schema.RequestSubscribe, Subscription: &schema.Subscription{Kind: schema.SubscribeStatus}}
	_, err := conn.SendRequest(testContext(t), sub)
	require.NoError(t, err)
	_, err = conn.SendRequest(testContext(t), sub)
	assert.ErrorIs(t, err, protocol.ErrScannerBusy)
}

func TestServer_Requests(t *testing.T) {
	srv := start(t, Options{MaxFrameRate: 8})
	conn := dial(t, srv)
	ctx := testContext(t)

	resp, err := conn.SendRequest(ctx, &schema.Request{Kind: schema.RequestGetScanPattern})
	require.NoError(t, err)
	assert.Equal(t, 8.0, resp.ScanPattern.FrameRate.Maximum)
	assert.Equal(t, 8.0, resp.ScanPattern.FrameRate.Target)
	assert.NotZero(t, resp.TimestampNs)

	_, err = conn.SendRequest(ctx, &schema.Request{Kind: schema.RequestHello, Hello: &schema.Hello{}})
	assert.ErrorIs(t, err, protocol.ErrInvalidRequest)

	_, err = conn.SendRequest(ctx, &schema.Request{Kind: schema.RequestSetScanPattern, SetScanPattern: &schema.SetScanPattern{}})
	var perr *protocol.Error
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Description(), "scan pattern is missing")

	_, err = conn.SendRequest(ctx, &schema.Request{Kind: schema.RequestSetTimeSynchronization, SetTimeSynchronization: &schema.SetTimeSynchronization{}})
	assert.ErrorIs(t, err, protocol.ErrInvalidRequest)
}

func TestServer_CloseEndsSessions(t *testing.T) {
	srv, err := Start("127.0.0.1:0", Options{})
	require.NoError(t, err)
	conn := dial(t, srv)
	_, err = conn.SendRequest(testContext(t), &schema.Request{Kind: schema.RequestStatus})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Sessions())

	require.NoError(t, srv.Close())
	assert.Equal(t, 0, srv.Sessions())
	_, err = conn.SendRequest(testContext(t), &schema.Request{Kind: schema.RequestStatus})
	assert.True(t, connection.IsKind(err, connection.KindConnectionLost), "got %v", err)
}

func TestServer_MutualTLS(t *testing.T) {
	serverCert, serverKey := testutil.SelfSignedPEM(t, "mockup")
	clientCert, clientKey := testutil.SelfSignedPEM(t, "client")
	srv := start(t, Options{TLS: testutil.ServerTLSConfig(t, serverCert, serverKey, clientCert)})

	creds, err := connection.NewCredentials(clientCert, clientKey)
	require.NoError(t, err)
	creds.CAPEM = serverCert

	conn, err := connection.Dial(context.Background(), srv.Host(), srv.Port(), creds)
	require.NoError(t, err)
	defer conn.Close()
	resp, err := conn.SendRequest(testContext(t), &schema.Request{Kind: schema.RequestStatus})
	require.NoError(t, err)
	assert.Equal(t, schema.ScannerStateReady, resp.Status.State)

	// a plain client gets no usable reply from a TLS listener
	plain, err := connection.Dial(context.Background(), srv.Host(), srv.Port(), nil)
	require.NoError(t, err)
	defer plain.Close()
	ctx, cancel := context.WithTimeout(testContext(t), time.Second)
	defer cancel()
	_, err = plain.SendRequest(ctx, &schema.Request{Kind: schema.RequestStatus})
	assert.Error(t, err)
}
