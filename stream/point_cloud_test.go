package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/version"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

var ignoreUnknown = cmpopts.IgnoreUnexported(schema.Frame{}, schema.ScanPattern{})

func TestPointCloud_RecordAndReplay(t *testing.T) {
	frames := []*schema.Frame{testFrame(1, 1), testFrame(2, 1), testFrame(3, 2)}
	sc := newScript(frameEvent(frames[0]), frameEvent(frames[1]), frameEvent(frames[2]))
	conn := sc.dial(t)
	ctx := context.Background()

	s, err := SubscribePointCloud(ctx, conn, PointCloudOptions{Reference: RefFrameXYZI})
	require.NoError(t, err)
	assert.True(t, s.Live())
	assert.Equal(t, "XA-1", s.Metadata().Header.Device.SerialNumber)
	assert.Equal(t, version.Language, s.Metadata().Header.Client.Language)
	assert.NotEmpty(t, s.Metadata().Header.Client.SessionID)

	req := <-sc.requests
	assert.Equal(t, schema.RequestSubscribe, req.Kind)
	assert.Equal(t, RefFrameXYZI, ReferenceFromTemplate(req.Subscription.PointCloud.ReferenceFrame))

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, s.RecordTo(fsys, "/rec/out.bfpc", RecordOptions{}))
	assert.ErrorIs(t, s.RecordTo(fsys, "/rec/other.bfpc", RecordOptions{}), ErrRecording)

	for _, want := range frames {
		got, err := s.Receive(ctx)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got, ignoreUnknown))
	}
	require.NoError(t, s.Stop())

	unsub := <-sc.requests
	assert.Equal(t, schema.RequestUnsubscribe, unsub.Kind)
	assert.Equal(t, schema.SubscribePointCloud, unsub.Subscription.Kind)

	live := s.Metadata().Footer
	assert.Equal(t, schema.StreamStats{Frames: 3, Points: 6, Returns: 9}, live.Stats)

	replay, err := OpenPointCloud(fsys, "/rec/out.bfpc", PointCloudOptions{})
	require.NoError(t, err)
	defer replay.Stop()
	assert.False(t, replay.Live())
	assert.Equal(t, RefFrameXYZI, replay.Reference(), "reference frame comes from the header")

	meta := replay.Metadata()
	assert.Equal(t, "XA-1", meta.Header.Device.SerialNumber)
	assert.Equal(t, schema.StreamStats{Frames: 3, Points: 6, Returns: 9}, meta.Footer.Stats)
	require.Len(t, meta.Footer.Events, 2)
	assert.Equal(t, uint64(1), meta.Footer.Events[0].FromFrameID)
	assert.Equal(t, uint64(3), meta.Footer.Events[1].FromFrameID)
	assert.Equal(t, float32(2), meta.Footer.Events[1].ScanPattern.Horizontal.Fov)

	for _, want := range frames {
		eos, err := replay.EndOfStream()
		require.NoError(t, err)
		require.False(t, eos)
		got, err := replay.Receive(ctx)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got, ignoreUnknown))
	}
	eos, err := replay.EndOfStream()
	require.NoError(t, err)
	assert.True(t, eos, "footer is not a frame")
	_, err = replay.Receive(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)

	require.NoError(t, replay.JumpToFirstFrame())
	got, err := replay.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.ID)
}

func TestPointCloud_LostFrames(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeRecording(t, fsys, "/gap.bfpc", ReferenceFrame{}, testFrame(1, 1), testFrame(2, 1), testFrame(4, 1))
	ctx := context.Background()

	t.Run("fail", func(t *testing.T) {
		s, err := OpenPointCloud(fsys, "/gap.bfpc", PointCloudOptions{FailOnLostFrames: true})
		require.NoError(t, err)
		defer s.Stop()

		for _, id := range []uint64{1, 2} {
			f, err := s.Receive(ctx)
			require.NoError(t, err)
			assert.Equal(t, id, f.ID)
		}
		f, err := s.Receive(ctx)
		var seq *SequenceError
		require.True(t, errors.As(err, &seq), "got %v", err)
		assert.Equal(t, uint64(2), seq.LastID)
		assert.Equal(t, uint64(4), seq.ID)
		assert.Equal(t, uint64(1), seq.Lost())
		assert.Contains(t, seq.Error(), "4")
		assert.Contains(t, seq.Error(), "2")
		require.NotNil(t, f)
		assert.Equal(t, uint64(4), f.ID)
	})

	t.Run("ignore", func(t *testing.T) {
		s, err := OpenPointCloud(fsys, "/gap.bfpc", PointCloudOptions{})
		require.NoError(t, err)
		defer s.Stop()

		for i := 0; i < 3; i++ {
			_, err := s.Receive(ctx)
			require.NoError(t, err)
		}
	})

	t.Run("rewind resets the sequence", func(t *testing.T) {
		s, err := OpenPointCloud(fsys, "/gap.bfpc", PointCloudOptions{FailOnLostFrames: true})
		require.NoError(t, err)
		defer s.Stop()

		_, err = s.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, s.JumpToFirstFrame())
		_, err = s.Receive(ctx)
		assert.NoError(t, err)
	})
}

func TestPointCloud_LiveEndOfStream(t *testing.T) {
	sc := newScript(frameEvent(testFrame(1, 1)), &schema.Event{Kind: schema.EventEndOfStream})
	s, err := SubscribePointCloud(context.Background(), sc.dial(t), PointCloudOptions{})
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.Receive(context.Background())
	require.NoError(t, err)
	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)

	_, err = s.EndOfStream()
	assert.ErrorIs(t, err, ErrLiveStream)
	assert.ErrorIs(t, s.JumpToFirstFrame(), ErrLiveStream)
}

func TestPointCloud_CancelClosesStream(t *testing.T) {
	sc := newScript()
	s, err := SubscribePointCloud(context.Background(), sc.dial(t), PointCloudOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosedUngracefully)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, s.Stop())
}

func TestReplay_StopWhileReceiving(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	frames := make([]*schema.Frame, 500)
	for i := range frames {
		frames[i] = testFrame(uint64(i+1), 1)
	}
	writeRecording(t, fsys, "/long.bfpc", RefFrameXYZ, frames...)

	s, err := OpenPointCloud(fsys, "/long.bfpc", PointCloudOptions{})
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		for n := 0; ; n++ {
			if n == 1 {
				close(started)
			}
			if _, err := s.Receive(context.Background()); err != nil {
				done <- err
				return
			}
		}
	}()
	<-started
	require.NoError(t, s.Stop())

	select {
	case err := <-done:
		if !errors.Is(err, ErrEndOfStream) {
			assert.ErrorIs(t, err, ErrStopped)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not end after Stop")
	}
	eos, err := s.EndOfStream()
	require.NoError(t, err)
	assert.True(t, eos)
	assert.ErrorIs(t, s.JumpToFirstFrame(), ErrStopped)
}

func TestReplay_JumpToFirstFrameMissingFile(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeRecording(t, fsys, "/gone.bfpc", RefFrameXYZ, testFrame(1, 1), testFrame(2, 1))
	s, err := OpenPointCloud(fsys, "/gone.bfpc", PointCloudOptions{})
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, fsys.Remove("/gone.bfpc"))
	assert.Error(t, s.JumpToFirstFrame())

	// the open reader is kept, so the replay carries on where it was
	f, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.ID)
}

func TestPointCloud_StopTwice(t *testing.T) {
	sc := newScript()
	s, err := SubscribePointCloud(context.Background(), sc.dial(t), PointCloudOptions{})
	require.NoError(t, err)
	require.NoError(t, s.RecordTo(fsutil.NewMemoryFileSystem(), "/x.bfpc", RecordOptions{}))

	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
	footer, err := s.StopRecording()
	assert.NoError(t, err)
	assert.Nil(t, footer)
}

func TestPointCloud_NoDeviceHeader(t *testing.T) {
	sc := newScript()
	sc.header = nil
	conn := sc.dial(t)
	s, err := SubscribePointCloud(context.Background(), conn, PointCloudOptions{})
	require.NoError(t, err)
	defer s.Stop()
	assert.Contains(t, s.String(), conn.Addr())
}

func TestPointCloud_Subscribe(t *testing.T) {
	sc := newScript(
		frameEvent(testFrame(5, 1)),
		frameEvent(testFrame(6, 1)),
		&schema.Event{Kind: schema.EventEndOfStream},
	)
	s, err := SubscribePointCloud(context.Background(), sc.dial(t), PointCloudOptions{})
	require.NoError(t, err)

	var ids []uint64
	err = s.Subscribe(context.Background(), func(f *schema.Frame) error {
		ids = append(ids, f.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6}, ids)
}

func TestPointCloud_TruncatedRecording(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	f, err := fsys.Create("/cut.bfpc")
	require.NoError(t, err)
	w, err := newBlockWriter(f, 1)
	require.NoError(t, err)
	_, err = w.writeBlock((&schema.FileHeader{Device: &schema.PointCloudHeader{SerialNumber: "XA-1"}}).Marshal())
	require.NoError(t, err)
	for id := uint64(1); id <= 3; id++ {
		_, err = w.writeBlock((&schema.FileData{Frame: testFrame(id, 1)}).Marshal())
		require.NoError(t, err)
	}
	// the writer is never closed, as if the recording process died
	require.NoError(t, w.flush())

	s, err := OpenPointCloud(fsys, "/cut.bfpc", PointCloudOptions{})
	require.NoError(t, err)
	assert.Zero(t, s.Metadata().Footer.Stats.Frames, "no footer")

	n := 0
	for {
		_, err := s.Receive(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)
	require.NoError(t, s.Stop())

	data, err := fsys.ReadFile("/cut.bfpc")
	require.NoError(t, err)
	require.NoError(t, fsys.Truncate("/cut.bfpc", int64(len(data)-12)))

	s, err = OpenPointCloud(fsys, "/cut.bfpc", PointCloudOptions{})
	require.NoError(t, err)
	defer s.Stop()
	n = 0
	for {
		_, err := s.Receive(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Less(t, n, 3)
}

func TestOpenPointCloud_Errors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	_, err := OpenPointCloud(fsys, "/missing.bfpc", PointCloudOptions{})
	assert.Error(t, err)

	require.NoError(t, fsys.WriteFile("/plain.txt", []byte("not gzip"), 0o644))
	_, err = OpenPointCloud(fsys, "/plain.txt", PointCloudOptions{})
	assert.Error(t, err)
}

func TestRecordTo_InvalidLevel(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeRecording(t, fsys, "/in.bfpc", ReferenceFrame{}, testFrame(1, 1))
	s, err := OpenPointCloud(fsys, "/in.bfpc", PointCloudOptions{})
	require.NoError(t, err)
	defer s.Stop()

	level := 42
	assert.Error(t, s.RecordTo(fsys, "/out.bfpc", RecordOptions{CompressionLevel: &level}))
}

func TestReplay_ReRecord(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	writeRecording(t, fsys, "/in.bfpc", RefFrameXYZ, testFrame(1, 1), testFrame(2, 3))

	s, err := OpenPointCloud(fsys, "/in.bfpc", PointCloudOptions{})
	require.NoError(t, err)
	level := 9
	require.NoError(t, s.RecordTo(fsys, "/copy.bfpc", RecordOptions{CompressionLevel: &level}))
	for {
		if _, err := s.Receive(context.Background()); err != nil {
			require.ErrorIs(t, err, ErrEndOfStream)
			break
		}
	}
	footer, err := s.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), footer.Stats.Frames)
	require.NoError(t, s.Stop())

	cp, err := OpenPointCloud(fsys, "/copy.bfpc", PointCloudOptions{})
	require.NoError(t, err)
	defer cp.Stop()
	assert.Equal(t, RefFrameXYZ, cp.Reference())
	assert.Len(t, cp.Metadata().Footer.Events, 2)
	assert.NotEqual(t, "test", cp.Metadata().Header.Client.LibraryVersion)
}
