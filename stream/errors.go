package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfStream is returned when the device ended the stream or a
	// replayed file has no frames left.
	ErrEndOfStream = errors.New("stream: end of stream")

	// ErrClosedUngracefully is returned when a receive was cancelled. The
	// stream is stopped; the returned error also wraps the context error.
	ErrClosedUngracefully = errors.New("stream: closed while receiving")

	// ErrStopped is returned by operations on a stopped stream.
	ErrStopped = errors.New("stream: stopped")

	// ErrLiveStream is returned by replay-only operations on a live stream.
	ErrLiveStream = errors.New("stream: not available on a live connection")

	// ErrRecording is returned when a recording is started twice.
	ErrRecording = errors.New("stream: already recording")
)

// SequenceError reports a gap in frame ids.
type SequenceError struct {
	LastID uint64
	ID     uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("stream: lost frames: received frame %d after frame %d", e.ID, e.LastID)
}

// Lost is the number of frames missing between LastID and ID.
func (e *SequenceError) Lost() uint64 {
	if e.ID <= e.LastID {
		return 0
	}
	return e.ID - e.LastID - 1
}

// UnexpectedEventError is returned when a subscribed connection delivers an
// event of another stream kind.
type UnexpectedEventError struct {
	Want, Got string
}

func (e *UnexpectedEventError) Error() string {
	return fmt.Sprintf("stream: expected %s event, got %s", e.Want, e.Got)
}
