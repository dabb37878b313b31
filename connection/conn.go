// Package connection implements the framed transport to a device and the
// request/response correlation on top of it.
//
// Every message in either direction is a 4-byte little-endian length
// followed by that many bytes of serialized payload. A connection carries
// one request at a time: the reply to a request is the next message
// received. Subscribed connections switch to receiving pushed events.
package connection

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/lidarlink/internal/config"
	"github.com/banshee-data/lidarlink/internal/monitoring"
)

// MaxMessageSize bounds the length prefix accepted from a peer.
const MaxMessageSize = 256 << 20

// Conn is one socket to a device, optionally wrapped in mutual TLS. It is
// safe for concurrent use, but requests are serialized.
type Conn struct {
	host  string
	port  int
	creds *Credentials

	nc net.Conn

	reqMu  sync.Mutex // held for a whole request/response exchange
	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Dial connects to host. host may carry a port ("lidar:8000"); otherwise port
// is used, and a zero port selects the plain or TLS default. A nil creds
// dials without TLS.
func Dial(ctx context.Context, host string, port int, creds *Credentials) (*Conn, error) {
	if h, p, err := net.SplitHostPort(host); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("connection: invalid port in %q", host)
		}
		host, port = h, n
	}
	if port == 0 {
		port = config.DefaultPort
		if creds != nil {
			port = config.DefaultTLSPort
		}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	if creds != nil {
		cfg, err := creds.TLSConfig(host)
		if err != nil {
			nc.Close()
			return nil, &TransportError{Kind: KindTLSHandshake, Addr: addr, Err: err}
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, &TransportError{Kind: KindTLSHandshake, Addr: addr, Err: err}
		}
		nc = tc
	}

	monitoring.Logf("[connection] connected to %s (tls=%v)", addr, creds != nil)
	return &Conn{
		host:   host,
		port:   port,
		creds:  creds,
		nc:     nc,
		closed: make(chan struct{}),
	}, nil
}

// Accept wraps a socket accepted by a server, such as a simulated device.
// The peer address becomes the connection address. TLS, if any, is already
// terminated by nc.
func Accept(nc net.Conn) *Conn {
	c := &Conn{nc: nc, closed: make(chan struct{})}
	if a, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		c.host, c.port = a.IP.String(), a.Port
	}
	return c
}

// Overrides replaces parts of the endpoint when cloning a connection. Zero
// values keep the original setting.
type Overrides struct {
	Host        string
	Port        int
	Credentials *Credentials
}

// Clone opens an independent connection to the same device, or to the
// endpoint given by o. Credentials are reused unless overridden.
func (c *Conn) Clone(ctx context.Context, o Overrides) (*Conn, error) {
	host, port, creds := c.host, c.port, c.creds
	if o.Host != "" {
		host = o.Host
		if o.Port == 0 {
			port = 0
		}
	}
	if o.Port != 0 {
		port = o.Port
	}
	if o.Credentials != nil {
		creds = o.Credentials
	}
	return Dial(ctx, host, port, creds)
}

func (c *Conn) Host() string { return c.host }
func (c *Conn) Port() int    { return c.port }
func (c *Conn) TLS() bool    { return c.creds != nil }

// Addr is host:port of the peer.
func (c *Conn) Addr() string { return net.JoinHostPort(c.host, strconv.Itoa(c.port)) }

func (c *Conn) String() string { return "<connection " + c.Addr() + ">" }

// Send writes one framed message. Short writes are retried by the socket
// layer until the frame is complete or the socket fails.
func (c *Conn) Send(payload []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("connection: message of %d bytes exceeds limit", len(payload))
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	bufs := net.Buffers{prefix[:], payload}
	if _, err := bufs.WriteTo(c.nc); err != nil {
		return c.lost(err)
	}
	return nil
}

// Receive reads one framed message. It returns io.EOF when the peer closed
// the connection cleanly before sending a length prefix.
func (c *Conn) Receive() ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	var prefix [4]byte
	if _, err := io.ReadFull(c.nc, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, c.lost(err)
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n > MaxMessageSize {
		return nil, c.lost(fmt.Errorf("message length %d exceeds limit", n))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.nc, payload); err != nil {
		return nil, c.lost(err)
	}
	return payload, nil
}

// ReceiveContext is Receive that gives up when ctx is done. A receive that
// was interrupted leaves the stream position undefined, so the connection
// should be closed afterwards.
func (c *Conn) ReceiveContext(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetReadDeadline(time.Now())
	})
	b, err := c.Receive()
	if !stop() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	return b, err
}

// Close closes the socket. Calling it again, or on a broken socket, is a
// no-op.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		err := c.nc.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
		monitoring.Logf("[connection] closed %s", c.Addr())
	})
	return c.closeErr
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) lost(err error) error {
	if c.isClosed() {
		return ErrClosed
	}
	return &TransportError{Kind: KindConnectionLost, Addr: c.Addr(), Err: err}
}
