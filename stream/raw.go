package stream

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// Raw is a stream of recording bytes produced by the device. The bytes are
// not decoded; written to a file in order they form a recording that
// OpenPointCloud can replay.
type Raw struct {
	live *live
	out  io.WriteCloser
	done bool
}

// SubscribeRaw subscribes to raw recording bytes. When out is not nil every
// received chunk is written to it, and it is closed by Stop.
func SubscribeRaw(ctx context.Context, conn *connection.Conn, sub *schema.RawFileSubscription, out io.WriteCloser) (*Raw, error) {
	if sub == nil {
		sub = &schema.RawFileSubscription{PointCloud: &schema.PointCloudSubscription{}}
	}
	l, _, err := subscribe(ctx, conn, &schema.Subscription{Kind: schema.SubscribeRawFile, RawFile: sub})
	if err != nil {
		return nil, err
	}
	return &Raw{live: l, out: out}, nil
}

// Receive returns the next chunk of bytes. It returns ErrEndOfStream once
// the device signalled the end of the stream. Cancelling ctx closes the
// stream and out without waiting for the tail.
func (s *Raw) Receive(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, ErrEndOfStream
	}
	ev, err := s.live.receive(ctx)
	switch {
	case errors.Is(err, ErrEndOfStream):
		s.done = true
	case errors.Is(err, ErrClosedUngracefully):
		s.done = true
		s.closeOut()
		s.live.stop()
	}
	if err != nil {
		return nil, err
	}
	if ev.Kind != schema.EventRawFile {
		return nil, &UnexpectedEventError{Want: "raw file", Got: eventName(ev)}
	}
	if s.out != nil {
		if _, err := s.out.Write(ev.RawFile); err != nil {
			return nil, err
		}
	}
	monitoring.Metrics.Recorded.WithLabelValues("raw", s.live.conn.Addr()).Add(float64(len(ev.RawFile)))
	return ev.RawFile, nil
}

// Stop unsubscribes, then keeps receiving until the device ends the stream
// so the tail of the recording is not lost. It returns the bytes received
// after unsubscribing.
func (s *Raw) Stop(ctx context.Context) ([]byte, error) {
	var rest bytes.Buffer
	var err error
	if !s.done {
		if err = s.live.unsubscribe(); err == nil {
			for {
				var b []byte
				b, err = s.Receive(ctx)
				if err != nil {
					break
				}
				rest.Write(b)
			}
			if errors.Is(err, ErrEndOfStream) {
				err = nil
			}
		}
		if errors.Is(err, connection.ErrClosed) {
			// nothing more can arrive
			err = nil
		}
		s.done = true
	}
	if cerr := s.closeOut(); err == nil {
		err = cerr
	}
	if cerr := s.live.stop(); err == nil {
		err = cerr
	}
	return rest.Bytes(), err
}

func (s *Raw) closeOut() error {
	if s.out == nil {
		return nil
	}
	err := s.out.Close()
	s.out = nil
	return err
}
