package stream

import (
	"context"
	"errors"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// Status is a stream of device status updates.
type Status struct {
	live *live
}

// SubscribeStatus subscribes to status updates on conn.
func SubscribeStatus(ctx context.Context, conn *connection.Conn) (*Status, error) {
	l, _, err := subscribe(ctx, conn, &schema.Subscription{Kind: schema.SubscribeStatus})
	if err != nil {
		return nil, err
	}
	return &Status{live: l}, nil
}

// Receive returns the next status update.
func (s *Status) Receive(ctx context.Context) (*schema.Status, error) {
	ev, err := s.live.receive(ctx)
	if err != nil {
		return nil, err
	}
	if ev.Kind != schema.EventStatus || ev.Status == nil {
		return nil, &UnexpectedEventError{Want: "status", Got: eventName(ev)}
	}
	return ev.Status, nil
}

// Subscribe calls fn for every update until ctx is done, the device ends the
// stream or fn returns an error. The stream is stopped on return.
func (s *Status) Subscribe(ctx context.Context, fn func(*schema.Status) error) error {
	defer s.Stop()
	for {
		st, err := s.Receive(ctx)
		switch {
		case errors.Is(err, ErrEndOfStream), errors.Is(err, ErrClosedUngracefully):
			return nil
		case err != nil:
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
	}
}

// Stop unsubscribes and closes the connection.
func (s *Status) Stop() error { return s.live.stop() }
