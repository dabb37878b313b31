// Package mockup simulates a device on a TCP socket. It answers the
// configuration requests from an in-memory state and serves point cloud
// subscriptions by replaying a recording.
package mockup

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/timeutil"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// Options configure a Server. Zero values select the defaults.
type Options struct {
	// FS and Recording select the file replayed to point cloud subscribers.
	// Without a recording point cloud subscriptions are rejected.
	FS        fsutil.FileSystem
	Recording string
	// Loop restarts the recording at its end instead of ending the stream.
	Loop bool
	// Rate scales the replay speed by frame timestamps. Zero sends frames
	// as fast as the client reads them.
	Rate float64

	// MaxFrameRate is the highest frame rate any scan pattern reaches, in Hz.
	MaxFrameRate float64
	// ClockOffset is added to the device timestamps.
	ClockOffset time.Duration
	// SyncAfterPolls is the number of status requests after which a time
	// synchronization setup reports SYNCED. Negative never synchronizes.
	SyncAfterPolls int
	// StatusInterval is the period of status stream updates.
	StatusInterval time.Duration
	FailSelfTest   bool

	// TLS terminates TLS on accepted connections when set.
	TLS *tls.Config

	Clock timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	if o.MaxFrameRate <= 0 {
		o.MaxFrameRate = 10
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = time.Second
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Server accepts client connections; each runs as an independent session
// against the shared device state.
type Server struct {
	opts   Options
	ln     net.Listener
	device *device

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// Listen starts a server on addr, such as "127.0.0.1:0". Call Serve to
// accept connections.
func Listen(addr string, opts Options) (*Server, error) {
	opts = opts.withDefaults()
	var ln net.Listener
	var err error
	if opts.TLS != nil {
		ln, err = tls.Listen("tcp", addr, opts.TLS)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("mockup listen %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     opts,
		ln:       ln,
		device:   newDevice(opts),
		ctx:      ctx,
		cancel:   cancel,
		sessions: map[string]*session{},
	}, nil
}

// Start listens on addr and serves in the background.
func Start(addr string, opts Options) (*Server, error) {
	s, err := Listen(addr, opts)
	if err != nil {
		return nil, err
	}
	go s.Serve()
	return s, nil
}

// Addr is the listening address as host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Host is the listening IP.
func (s *Server) Host() string { return s.ln.Addr().(*net.TCPAddr).IP.String() }

// Port is the listening port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *Server) String() string {
	return "<mockup " + net.JoinHostPort(s.Host(), strconv.Itoa(s.Port())) + ">"
}

// SetState changes the reported scanner state.
func (s *Server) SetState(state schema.ScannerState) { s.device.setState(state) }

// Sessions is the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Serve accepts connections until Close. It returns nil after Close.
func (s *Server) Serve() error {
	monitoring.Logf("[mockup] listening on %s", s.Addr())
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		sess := newSession(s, c)
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run(s.ctx)
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
		}()
	}
}

// Close stops accepting, ends every session and waits for them.
func (s *Server) Close() error {
	s.cancel()
	err := s.ln.Close()
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) now() uint64 {
	return uint64(s.opts.Clock.Now().Add(s.opts.ClockOffset).UnixNano())
}
