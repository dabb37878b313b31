package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/testutil"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

func init() {
	monitoring.SetLogger(nil)
}

// script is a device that acknowledges one subscription, pushes events and
// answers an unsubscribe with the tail events and the end of stream.
type script struct {
	header *schema.PointCloudHeader
	events []*schema.Event
	tail   []*schema.Event

	requests chan *schema.Request
}

func newScript(events ...*schema.Event) *script {
	return &script{
		header:   &schema.PointCloudHeader{SerialNumber: "XA-1", FirmwareVersion: "1.2.3", Hostname: "lidar"},
		events:   events,
		requests: make(chan *schema.Request, 16),
	}
}

func (sc *script) handle(c *testutil.DeviceConn) {
	req, err := c.ReadRequest()
	if err != nil {
		return
	}
	sc.requests <- req
	err = c.WriteEvent(&schema.Event{
		Kind:       schema.EventPointCloud,
		PointCloud: &schema.PointCloudEvent{Header: sc.header},
	})
	if err != nil {
		return
	}
	for _, ev := range sc.events {
		if err := c.WriteEvent(ev); err != nil {
			return
		}
	}
	for {
		req, err := c.ReadRequest()
		if err != nil {
			return
		}
		sc.requests <- req
		if req.Kind != schema.RequestUnsubscribe {
			continue
		}
		for _, ev := range sc.tail {
			c.WriteEvent(ev)
		}
		c.WriteEvent(&schema.Event{Kind: schema.EventEndOfStream})
	}
}

func (sc *script) dial(t *testing.T) *connection.Conn {
	t.Helper()
	dev := testutil.NewFakeDevice(t, sc.handle)
	conn, err := connection.Dial(context.Background(), dev.Host(), dev.Port(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testFrame(id uint64, fov float32) *schema.Frame {
	return &schema.Frame{
		ID:                   id,
		ScanPattern:          &schema.ScanPattern{Horizontal: &schema.ScanPatternHorizontal{Fov: fov}},
		TotalNumberOfPoints:  2,
		TotalNumberOfReturns: 3,
		StartTimeNs:          1_000_000 * id,
		Scanlines: []*schema.Scanline{{
			ID: 1,
			Points: []*schema.Point{{
				ID:                7,
				AmbientLightLevel: 12,
				Returns: []*schema.Return{
					{ID: 1, Cartesian: []float32{1, 2, 3}, Range: 3.7, Intensity: 50},
					{ID: 2, Cartesian: []float32{2, 4, 6}, Range: 7.4, Intensity: 20},
				},
			}},
		}},
	}
}

func frameEvent(f *schema.Frame) *schema.Event {
	return &schema.Event{Kind: schema.EventPointCloud, PointCloud: &schema.PointCloudEvent{Frame: f}}
}

// writeRecording records frames through the recording worker, like a live
// stream would.
func writeRecording(t *testing.T, fsys fsutil.FileSystem, path string, ref ReferenceFrame, frames ...*schema.Frame) {
	t.Helper()
	header := &schema.FileHeader{
		Device: &schema.PointCloudHeader{SerialNumber: "XA-1"},
		Client: &schema.ClientInfo{LibraryVersion: "test", Language: "go"},
		Subscription: &schema.Subscription{
			Kind:       schema.SubscribePointCloud,
			PointCloud: &schema.PointCloudSubscription{ReferenceFrame: ref.Template()},
		},
	}
	rec, err := startRecorder(fsys, path, header, RecordOptions{}, []string{"point_cloud", "test"})
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, rec.record(f))
	}
	_, err = rec.stop()
	require.NoError(t, err)
}
