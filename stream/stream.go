// Package stream implements subscriptions to device event streams: point
// clouds, IMU bursts, raw recording bytes and status updates.
//
// A point cloud stream reads either from a subscribed connection or from a
// recording, and can record what it receives to a new file at the same time.
// A stream owns its connection or file; Stop releases it and is safe to call
// more than once.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// live is the connection side shared by every stream kind.
type live struct {
	conn *connection.Conn
	sub  *schema.Subscription

	stopOnce sync.Once
	stopErr  error
}

// subscribe performs the subscription handshake on conn.
func subscribe(ctx context.Context, conn *connection.Conn, sub *schema.Subscription) (*live, *schema.Response, error) {
	resp, err := conn.SendRequest(ctx, &schema.Request{Kind: schema.RequestSubscribe, Subscription: sub})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", sub.Kind, err)
	}
	monitoring.Logf("[stream] subscribed to %s on %s", sub.Kind, conn.Addr())
	return &live{conn: conn, sub: sub}, resp, nil
}

// receive reads the next event. A cancelled context stops the stream.
func (l *live) receive(ctx context.Context) (*schema.Event, error) {
	resp, err := l.conn.ReceiveResponse(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			l.conn.Close()
			return nil, fmt.Errorf("%w: %w", ErrClosedUngracefully, ctxErr)
		}
		if errors.Is(err, io.EOF) {
			return nil, &connection.TransportError{Kind: connection.KindConnectionLost, Addr: l.conn.Addr(), Err: io.ErrUnexpectedEOF}
		}
		return nil, err
	}
	if resp.Kind != schema.ResponseEvent || resp.Event == nil {
		return nil, &UnexpectedEventError{Want: "event", Got: fmt.Sprintf("response(%d)", resp.Kind)}
	}
	if resp.Event.Kind == schema.EventEndOfStream {
		return nil, ErrEndOfStream
	}
	return resp.Event, nil
}

// unsubscribe tells the device to stop sending. No reply is expected.
func (l *live) unsubscribe() error {
	return l.conn.SendEvent(&schema.Request{Kind: schema.RequestUnsubscribe, Subscription: l.sub})
}

// stop unsubscribes and closes the connection once.
func (l *live) stop() error {
	l.stopOnce.Do(func() {
		if err := l.unsubscribe(); err != nil && !errors.Is(err, connection.ErrClosed) {
			monitoring.Logf("[stream] unsubscribe %s: %v", l.sub.Kind, err)
		}
		l.stopErr = l.conn.Close()
		monitoring.Logf("[stream] stopped %s stream on %s", l.sub.Kind, l.conn.Addr())
	})
	return l.stopErr
}

func eventName(ev *schema.Event) string {
	switch ev.Kind {
	case schema.EventPointCloud:
		return "point cloud"
	case schema.EventStatus:
		return "status"
	case schema.EventIMU:
		return "imu"
	case schema.EventRawFile:
		return "raw file"
	}
	return fmt.Sprintf("event(%d)", ev.Kind)
}
