package connection

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/protocol"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// SendRequest sends req and waits for the reply. An error reply from the
// device is returned as a *protocol.Error; the response is still returned so
// callers can inspect its timestamp.
//
// Requests on one connection never overlap. Concurrent callers are queued.
// When ctx is done before the reply arrives the connection is closed, and
// later requests fail with ErrClosed.
func (c *Conn) SendRequest(ctx context.Context, req *schema.Request) (*schema.Response, error) {
	payload, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	b, err := c.ReceiveContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// the reply may still arrive and would answer the next request
			c.Close()
			monitoring.Logf("[connection] %s: request abandoned, connection closed", c.Addr())
			return nil, err
		}
		if errors.Is(err, io.EOF) {
			return nil, &TransportError{Kind: KindConnectionLost, Addr: c.Addr(), Err: io.ErrUnexpectedEOF}
		}
		return nil, err
	}

	resp := &schema.Response{}
	if err := resp.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Kind == schema.ResponseError {
		perr := protocol.NewError(resp.Error)
		monitoring.Metrics.Errors.WithLabelValues(perr.Name()).Inc()
		monitoring.Logf("[connection] %s replied %s", c.Addr(), perr.Summary())
		return resp, perr
	}
	return resp, nil
}

// SendEvent writes req without waiting for a reply. It is used on subscribed
// connections, where the device answers with pushed events only.
func (c *Conn) SendEvent(req *schema.Request) error {
	payload, err := req.Marshal()
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// ReceiveResponse reads and decodes one pushed message.
func (c *Conn) ReceiveResponse(ctx context.Context) (*schema.Response, error) {
	b, err := c.ReceiveContext(ctx)
	if err != nil {
		return nil, err
	}
	resp := &schema.Response{}
	if err := resp.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Kind == schema.ResponseError {
		perr := protocol.NewError(resp.Error)
		monitoring.Metrics.Errors.WithLabelValues(perr.Name()).Inc()
		return resp, perr
	}
	return resp, nil
}
