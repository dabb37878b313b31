// Package scanner is the client side of one device: the request/response
// operations on its primary connection, and stream constructors that open
// their own connections to the same device.
package scanner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/internal/config"
	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/timeutil"
	"github.com/banshee-data/lidarlink/internal/version"
	"github.com/banshee-data/lidarlink/protocol/schema"
	"github.com/banshee-data/lidarlink/stream"
)

// Options tune a Scanner. Zero values select the defaults.
type Options struct {
	// Credentials enable mutual TLS.
	Credentials *connection.Credentials

	ProtocolVersion uint32

	TimeSyncTimeout      time.Duration
	TimeSyncPollInterval time.Duration

	Clock timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.ProtocolVersion == 0 {
		o.ProtocolVersion = config.DefaultProtocolVersion
	}
	if o.TimeSyncTimeout <= 0 {
		o.TimeSyncTimeout = 60 * time.Second
	}
	if o.TimeSyncPollInterval <= 0 {
		o.TimeSyncPollInterval = time.Second
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Scanner is one device. Requests go over a single connection and never
// overlap; streams run on connections of their own.
type Scanner struct {
	conn *connection.Conn
	opts Options
}

// Open connects to the device at host. A zero port selects the default port
// for plain or TLS connections.
func Open(ctx context.Context, host string, port int, opts Options) (*Scanner, error) {
	conn, err := connection.Dial(ctx, host, port, opts.Credentials)
	if err != nil {
		return nil, err
	}
	return New(conn, opts), nil
}

// New wraps an established connection.
func New(conn *connection.Conn, opts Options) *Scanner {
	return &Scanner{conn: conn, opts: opts.withDefaults()}
}

// OpenConfig connects with the settings of a client configuration file.
// host overrides the configured host when not empty.
func OpenConfig(ctx context.Context, fsys fsutil.FileSystem, cfg *config.ClientConfig, host string) (*Scanner, error) {
	if host == "" {
		host = cfg.GetHost()
	}
	if host == "" {
		return nil, fmt.Errorf("no device host configured")
	}
	opts := Options{
		ProtocolVersion:      cfg.GetProtocolVersion(),
		TimeSyncTimeout:      cfg.GetTimeSyncTimeout(),
		TimeSyncPollInterval: cfg.GetTimeSyncPollInterval(),
	}
	if cfg.TLSEnabled() {
		creds, err := connection.LoadCredentials(fsys, *cfg.CertFile, *cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		opts.Credentials = creds
	}
	port := 0
	if cfg.Port != nil {
		port = *cfg.Port
	}
	return Open(ctx, host, port, opts)
}

// Conn is the primary connection.
func (s *Scanner) Conn() *connection.Conn { return s.conn }

// Addr is the device address as host:port.
func (s *Scanner) Addr() string { return s.conn.Addr() }

func (s *Scanner) String() string { return "<scanner " + s.conn.Addr() + ">" }

// Close closes the primary connection. Streams stay open.
func (s *Scanner) Close() error { return s.conn.Close() }

func (s *Scanner) request(ctx context.Context, req *schema.Request, want schema.ResponseKind) (*schema.Response, error) {
	resp, err := s.conn.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Kind != want {
		return nil, &UnexpectedResponseError{Request: req.Kind, Want: want, Got: resp.Kind}
	}
	return resp, nil
}

// Hello performs the version handshake and returns the device's answer.
func (s *Scanner) Hello(ctx context.Context) (*schema.Hello, error) {
	resp, err := s.hello(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Hello == nil {
		return &schema.Hello{}, nil
	}
	return resp.Hello, nil
}

func (s *Scanner) hello(ctx context.Context) (*schema.Response, error) {
	return s.request(ctx, &schema.Request{
		Kind: schema.RequestHello,
		Hello: &schema.Hello{
			ProtocolVersion: s.opts.ProtocolVersion,
			LibraryVersion:  version.Version,
			Language:        version.Language,
		},
	}, schema.ResponseHello)
}

// DeviceTime returns the device clock as reported with a hello reply.
func (s *Scanner) DeviceTime(ctx context.Context) (time.Time, error) {
	resp, err := s.hello(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(resp.TimestampNs)), nil
}

// Status returns the current device status.
func (s *Scanner) Status(ctx context.Context) (*schema.Status, error) {
	resp, err := s.request(ctx, &schema.Request{Kind: schema.RequestStatus}, schema.ResponseStatus)
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return &schema.Status{}, nil
	}
	return resp.Status, nil
}

// RunSelfTest runs the device self test. A failed test is not an error.
func (s *Scanner) RunSelfTest(ctx context.Context) (*schema.SelfTestResult, error) {
	resp, err := s.request(ctx, &schema.Request{Kind: schema.RequestRunSelfTest}, schema.ResponseRunSelfTest)
	if err != nil {
		return nil, err
	}
	if resp.SelfTest == nil {
		return &schema.SelfTestResult{}, nil
	}
	monitoring.Logf("[scanner] self test on %s: success=%v", s.Addr(), resp.SelfTest.Success)
	return resp.SelfTest, nil
}

// AttemptErrorRecovery asks a device in the error state to recover.
func (s *Scanner) AttemptErrorRecovery(ctx context.Context) error {
	_, err := s.request(ctx, &schema.Request{Kind: schema.RequestAttemptErrorRecovery}, schema.ResponseAttemptErrorRecovery)
	return err
}

func (s *Scanner) clone(ctx context.Context) (*connection.Conn, error) {
	return s.conn.Clone(ctx, connection.Overrides{})
}

// StatusStream subscribes to status updates on a new connection.
func (s *Scanner) StatusStream(ctx context.Context) (*stream.Status, error) {
	conn, err := s.clone(ctx)
	if err != nil {
		return nil, err
	}
	st, err := stream.SubscribeStatus(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return st, nil
}

// PointCloudStream subscribes to point cloud frames on a new connection.
func (s *Scanner) PointCloudStream(ctx context.Context, opts stream.PointCloudOptions) (*stream.PointCloud, error) {
	conn, err := s.clone(ctx)
	if err != nil {
		return nil, err
	}
	pc, err := stream.SubscribePointCloud(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return pc, nil
}

// IMUStream subscribes to IMU bursts on a new connection.
func (s *Scanner) IMUStream(ctx context.Context, packed bool) (*stream.IMU, error) {
	conn, err := s.clone(ctx)
	if err != nil {
		return nil, err
	}
	imu, err := stream.SubscribeIMU(ctx, conn, packed)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return imu, nil
}

// RawStream subscribes to raw recording bytes on a new connection. See
// stream.SubscribeRaw for sub and out.
func (s *Scanner) RawStream(ctx context.Context, sub *schema.RawFileSubscription, out io.WriteCloser) (*stream.Raw, error) {
	conn, err := s.clone(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := stream.SubscribeRaw(ctx, conn, sub, out)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return raw, nil
}
