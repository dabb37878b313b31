package stream

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/version"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// Metadata describes a point cloud stream: who produced it, and for
// recordings the counters and scan pattern changes stored in the footer.
type Metadata struct {
	Header schema.FileHeader
	Footer schema.FileFooter
}

// PointCloudOptions configures a point cloud subscription.
type PointCloudOptions struct {
	// Reference selects the frame attributes. The zero value requests the
	// device default.
	Reference ReferenceFrame
	// Filter restricts points and returns on the device.
	Filter *schema.ScanPatternFilter
	// FailOnLostFrames makes Receive fail with a *SequenceError when a frame
	// id is skipped.
	FailOnLostFrames bool
}

// source is where a point cloud stream reads frames from: a subscribed
// connection (liveFrames) or a recording (*recordingFile).
type source interface {
	// next blocks for the next frame. A done ctx yields an error wrapping
	// ErrClosedUngracefully.
	next(ctx context.Context) (*schema.Frame, error)
	// close releases the connection or the file. It may run while next is
	// blocked in another goroutine, and makes it return.
	close() error
}

type liveFrames struct{ *live }

func (l liveFrames) next(ctx context.Context) (*schema.Frame, error) {
	ev, err := l.receive(ctx)
	if err != nil {
		return nil, err
	}
	if ev.Kind != schema.EventPointCloud || ev.PointCloud == nil || ev.PointCloud.Frame == nil {
		return nil, &UnexpectedEventError{Want: "point cloud", Got: eventName(ev)}
	}
	return ev.PointCloud.Frame, nil
}

func (l liveFrames) close() error { return l.stop() }

// PointCloud is a stream of frames from a device or a recording.
type PointCloud struct {
	src  source
	name string // device serial number or file name, for logs and metrics

	ref  ReferenceFrame
	opts PointCloudOptions

	mu      sync.Mutex
	meta    Metadata
	lastID  uint64
	started bool
	rec     *recorder
	stopped bool
}

// SubscribePointCloud subscribes to frames on conn. The stream takes
// ownership of conn.
func SubscribePointCloud(ctx context.Context, conn *connection.Conn, opts PointCloudOptions) (*PointCloud, error) {
	sub := &schema.Subscription{
		Kind: schema.SubscribePointCloud,
		PointCloud: &schema.PointCloudSubscription{
			ReferenceFrame: opts.Reference.Template(),
			Filter:         opts.Filter,
		},
	}
	l, resp, err := subscribe(ctx, conn, sub)
	if err != nil {
		return nil, err
	}

	s := &PointCloud{src: liveFrames{l}, ref: opts.Reference, opts: opts}
	s.meta.Header = schema.FileHeader{
		Client: &schema.ClientInfo{
			LibraryVersion: version.Version,
			FileTimeNs:     uint64(time.Now().UnixNano()),
			Language:       version.Language,
			SessionID:      uuid.NewString(),
		},
		Subscription: sub,
	}
	if ev := resp.Event; ev != nil && ev.PointCloud != nil && ev.PointCloud.Header != nil {
		s.meta.Header.Device = ev.PointCloud.Header
	} else {
		s.meta.Header.Device = &schema.PointCloudHeader{}
	}
	s.name = s.meta.Header.Device.SerialNumber
	if s.name == "" {
		s.name = conn.Addr()
	}
	return s, nil
}

// OpenPointCloud replays a recording. The reference frame stored in the
// header is used to decode packed frames.
func OpenPointCloud(fsys fsutil.FileSystem, path string, opts PointCloudOptions) (*PointCloud, error) {
	rf, err := openRecording(fsys, path)
	if err != nil {
		return nil, err
	}
	s := &PointCloud{src: rf, name: filepath.Base(path), opts: opts}
	s.meta.Header = rf.header
	if rf.footer != nil {
		s.meta.Footer = *rf.footer
	}
	s.ref = opts.Reference
	if s.ref.IsZero() {
		if sub := rf.header.Subscription; sub != nil && sub.PointCloud != nil {
			s.ref = ReferenceFromTemplate(sub.PointCloud.ReferenceFrame)
		}
	}
	monitoring.Logf("[stream] replaying %s: %d frames", path, s.meta.Footer.Stats.Frames)
	return s, nil
}

// Live reports whether the stream reads from a connection.
func (s *PointCloud) Live() bool {
	_, ok := s.src.(liveFrames)
	return ok
}

// recording returns the replay source, or ErrLiveStream.
func (s *PointCloud) recording() (*recordingFile, error) {
	rf, ok := s.src.(*recordingFile)
	if !ok {
		return nil, ErrLiveStream
	}
	return rf, nil
}

// Reference is the reference frame used for decoding.
func (s *PointCloud) Reference() ReferenceFrame { return s.ref }

// Metadata returns the header and the footer. For live streams that are
// being recorded, the footer counters reflect the frames recorded so far.
func (s *PointCloud) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.meta
	if s.rec != nil {
		m.Footer.Stats = s.rec.stats()
	}
	return m
}

func (s *PointCloud) String() string {
	m := s.Metadata()
	src := "file '" + s.name + "'"
	if s.Live() {
		src = "device '" + s.name + "'"
	}
	return fmt.Sprintf("<point cloud stream: %d frames, %d returns, %s>",
		m.Footer.Stats.Frames, m.Footer.Stats.Returns, src)
}

func (s *PointCloud) labels() []string { return []string{"point_cloud", s.name} }

// Receive returns the next frame. On a live stream it blocks until the
// device sends one; cancelling ctx stops the stream and returns an error
// wrapping ErrClosedUngracefully. At the end of a recording, or when the
// device ends the stream, it returns ErrEndOfStream.
//
// A skipped frame id is reported as a *SequenceError together with the frame
// when FailOnLostFrames is set; the next frame is checked against it.
func (s *PointCloud) Receive(ctx context.Context) (*schema.Frame, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}

	f, err := s.src.next(ctx)
	if err != nil {
		if errors.Is(err, ErrClosedUngracefully) {
			s.Stop()
		}
		return nil, err
	}
	return f, s.accept(f)
}

// accept runs loss detection, metrics and recording for a received frame.
func (s *PointCloud) accept(f *schema.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seqErr error
	if s.started && f.ID != s.lastID+1 {
		e := &SequenceError{LastID: s.lastID, ID: f.ID}
		monitoring.Metrics.LostFrames.WithLabelValues(s.labels()...).Add(float64(e.Lost()))
		if s.opts.FailOnLostFrames {
			seqErr = e
		}
	}
	s.lastID, s.started = f.ID, true

	monitoring.Metrics.Frames.WithLabelValues(s.labels()...).Inc()
	monitoring.Metrics.Returns.WithLabelValues(s.labels()...).Add(float64(f.TotalNumberOfReturns))

	if s.rec != nil {
		if err := s.rec.record(f); err != nil {
			return fmt.Errorf("record frame %d: %w", f.ID, err)
		}
	}
	return seqErr
}

// Columns decodes the packed buffers of f with the stream's reference frame.
func (s *PointCloud) Columns(f *schema.Frame) (*Columns, error) {
	return DecodeColumns(s.ref, f.Packed)
}

// EndOfStream reports whether a recording has no frames left.
func (s *PointCloud) EndOfStream() (bool, error) {
	rf, err := s.recording()
	if err != nil {
		return false, err
	}
	done, err := rf.exhausted()
	if errors.Is(err, ErrStopped) {
		return true, nil
	}
	return done, err
}

// JumpToFirstFrame restarts a replay at the first frame.
func (s *PointCloud) JumpToFirstFrame() error {
	rf, err := s.recording()
	if err != nil {
		return err
	}
	if err := rf.rewind(); err != nil {
		return err
	}
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// RecordTo starts recording every received frame to path. The file gets
// the stream header; the footer is written by StopRecording or Stop.
func (s *PointCloud) RecordTo(fsys fsutil.FileSystem, path string, opts RecordOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.rec != nil {
		return ErrRecording
	}
	header := s.meta.Header
	if header.Client == nil || !s.Live() {
		// replays are re-recorded under a new client session
		header.Client = &schema.ClientInfo{
			LibraryVersion: version.Version,
			FileTimeNs:     uint64(time.Now().UnixNano()),
			Language:       version.Language,
			SessionID:      uuid.NewString(),
		}
	}
	rec, err := startRecorder(fsys, path, &header, opts, s.labels())
	if err != nil {
		return err
	}
	s.rec = rec
	return nil
}

// StopRecording finishes the recording and returns its footer. It is a
// no-op returning nil when nothing is being recorded.
func (s *PointCloud) StopRecording() (*schema.FileFooter, error) {
	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()
	if rec == nil {
		return nil, nil
	}
	footer, err := rec.stop()
	if s.Live() && footer != nil {
		s.mu.Lock()
		s.meta.Footer = *footer
		s.mu.Unlock()
	}
	return footer, err
}

// Stop finishes any recording, then unsubscribes and closes the connection
// or the file. Calling Stop again does nothing.
func (s *PointCloud) Stop() error {
	_, recErr := s.StopRecording()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return recErr
	}
	s.stopped = true
	s.mu.Unlock()

	err := s.src.close()
	if recErr != nil {
		return recErr
	}
	return err
}

// Subscribe calls fn for every frame until ctx is done, the stream ends or
// fn returns an error. The stream is stopped on return. The end of the
// stream and cancellation are not reported as errors.
func (s *PointCloud) Subscribe(ctx context.Context, fn func(*schema.Frame) error) error {
	defer s.Stop()
	for {
		f, err := s.Receive(ctx)
		switch {
		case errors.Is(err, ErrEndOfStream), errors.Is(err, ErrClosedUngracefully):
			return nil
		case err != nil:
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}
