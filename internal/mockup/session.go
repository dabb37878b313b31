package mockup

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarlink/connection"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/version"
	"github.com/banshee-data/lidarlink/protocol/schema"
	"github.com/banshee-data/lidarlink/stream"
)

// session is one client connection. Requests are answered in order; a
// subscription pushes events from its own goroutine until unsubscribed.
type session struct {
	id     string
	server *Server
	conn   *connection.Conn

	mu     sync.Mutex
	subs   map[schema.SubscriptionKind]context.CancelFunc
	subsWG sync.WaitGroup
}

func newSession(s *Server, nc net.Conn) *session {
	return &session{
		id:     uuid.NewString(),
		server: s,
		conn:   connection.Accept(nc),
		subs:   map[schema.SubscriptionKind]context.CancelFunc{},
	}
}

func (ss *session) logf(format string, args ...interface{}) {
	monitoring.Logf("[mockup] [%s %s] "+format, append([]interface{}{ss.conn.Addr(), ss.id[:8]}, args...)...)
}

func (ss *session) run(ctx context.Context) {
	ss.logf("client connected")
	defer func() {
		ss.stopAll()
		ss.conn.Close()
		ss.logf("client disconnected")
	}()

	for {
		b, err := ss.conn.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, connection.ErrClosed) && ctx.Err() == nil {
				ss.logf("receive: %v", err)
			}
			return
		}
		req := &schema.Request{}
		if err := req.Unmarshal(b); err != nil {
			ss.logf("malformed request: %v", err)
			return
		}
		resp := ss.handle(ctx, req)
		if resp == nil {
			continue
		}
		if err := ss.send(resp); err != nil {
			return
		}
	}
}

func (ss *session) send(resp *schema.Response) error {
	resp.TimestampNs = ss.server.now()
	return ss.conn.Send(resp.Marshal())
}

func errorResponse(d schema.ErrorDetail) *schema.Response {
	return &schema.Response{Kind: schema.ResponseError, Error: &schema.Error{Detail: d}}
}

// reply is resp, or the error response when d is set.
func reply(d schema.ErrorDetail, resp *schema.Response) *schema.Response {
	if d != nil {
		return errorResponse(d)
	}
	return resp
}

// handle returns the reply to req, or nil when the request has none.
func (ss *session) handle(ctx context.Context, req *schema.Request) *schema.Response {
	dev := ss.server.device
	switch req.Kind {
	case schema.RequestHello:
		if req.Hello == nil || req.Hello.ProtocolVersion == 0 {
			return errorResponse(schema.NewErrorText(schema.ErrInvalidRequest, "protocol version is missing"))
		}
		ss.logf("hello from %s client %s", req.Hello.Language, req.Hello.LibraryVersion)
		return &schema.Response{Kind: schema.ResponseHello, Hello: &schema.Hello{
			ProtocolVersion: req.Hello.ProtocolVersion,
			LibraryVersion:  "mockup-" + version.Version,
			Language:        version.Language,
		}}
	case schema.RequestStatus:
		return &schema.Response{Kind: schema.ResponseStatus, Status: dev.status()}
	case schema.RequestGetScanPattern:
		return &schema.Response{Kind: schema.ResponseGetScanPattern, ScanPattern: dev.scanPattern()}
	case schema.RequestFillScanPattern:
		var sp *schema.ScanPattern
		if req.FillScanPattern != nil {
			sp = req.FillScanPattern.Config
		}
		return &schema.Response{Kind: schema.ResponseFillScanPattern, ScanPattern: dev.fillPattern(sp)}
	case schema.RequestSetScanPattern:
		if req.SetScanPattern == nil {
			return errorResponse(schema.NewErrorText(schema.ErrInvalidRequest, "scan pattern is missing"))
		}
		return reply(dev.setScanPattern(req.SetScanPattern), &schema.Response{Kind: schema.ResponseSetScanPattern})
	case schema.RequestGetNamedScanPatterns:
		return &schema.Response{Kind: schema.ResponseGetNamedScanPatterns, NamedScanPatterns: dev.namedPatterns()}
	case schema.RequestStoreNamedScanPattern:
		return reply(dev.storeNamed(req.StoreNamedScanPattern), &schema.Response{Kind: schema.ResponseStoreNamedScanPattern})
	case schema.RequestDeleteNamedScanPattern:
		var name string
		if req.DeleteNamedScanPattern != nil {
			name = req.DeleteNamedScanPattern.Name
		}
		return reply(dev.deleteNamed(name), &schema.Response{Kind: schema.ResponseDeleteNamedScanPattern})
	case schema.RequestGetAdvancedConfig:
		return &schema.Response{Kind: schema.ResponseGetAdvancedConfig, AdvancedConfig: dev.advancedConfig()}
	case schema.RequestSetAdvancedConfig:
		var cfg *schema.AdvancedConfig
		if req.SetAdvancedConfig != nil {
			cfg = req.SetAdvancedConfig.Config
		}
		return reply(dev.setAdvancedConfig(cfg), &schema.Response{Kind: schema.ResponseSetAdvancedConfig})
	case schema.RequestSetTimeSynchronization:
		var cfg *schema.TimeSynchronization
		if req.SetTimeSynchronization != nil {
			cfg = req.SetTimeSynchronization.Config
		}
		return reply(dev.setTimeSync(cfg), &schema.Response{Kind: schema.ResponseSetTimeSynchronization})
	case schema.RequestRunSelfTest:
		return &schema.Response{Kind: schema.ResponseRunSelfTest, SelfTest: dev.selfTest()}
	case schema.RequestAttemptErrorRecovery:
		return reply(dev.recover(), &schema.Response{Kind: schema.ResponseAttemptErrorRecovery})
	case schema.RequestSubscribe:
		return ss.subscribe(ctx, req.Subscription)
	case schema.RequestUnsubscribe:
		if req.Subscription != nil {
			ss.unsubscribe(req.Subscription.Kind)
		}
		return nil
	}
	return errorResponse(schema.NewErrorText(schema.ErrNotImplemented, "request is not simulated"))
}

func eventResponse(ev *schema.Event) *schema.Response {
	return &schema.Response{Kind: schema.ResponseEvent, Event: ev}
}

func (ss *session) subscribe(ctx context.Context, sub *schema.Subscription) *schema.Response {
	if sub == nil {
		return errorResponse(schema.NewErrorText(schema.ErrInvalidRequest, "subscription is missing"))
	}
	ss.mu.Lock()
	_, active := ss.subs[sub.Kind]
	ss.mu.Unlock()
	if active {
		return errorResponse(&schema.ErrorFlag{Code: schema.ErrScannerBusy})
	}

	switch sub.Kind {
	case schema.SubscribePointCloud:
		opts := ss.server.opts
		if opts.Recording == "" {
			return errorResponse(schema.NewErrorText(schema.ErrNotSupported, "no recording to replay"))
		}
		pc, err := stream.OpenPointCloud(opts.FS, opts.Recording, stream.PointCloudOptions{})
		if err != nil {
			ss.logf("open recording: %v", err)
			return errorResponse(&schema.ErrorFlag{Code: schema.ErrServerImplementation})
		}
		header := pc.Metadata().Header.Device
		if header == nil {
			header = &schema.PointCloudHeader{}
		}
		if err := ss.send(eventResponse(&schema.Event{
			Kind:       schema.EventPointCloud,
			PointCloud: &schema.PointCloudEvent{Header: header},
		})); err != nil {
			pc.Stop()
			return nil
		}
		ss.start(ctx, sub.Kind, func(ctx context.Context) { ss.replay(ctx, pc) })
		return nil
	case schema.SubscribeStatus:
		if err := ss.send(eventResponse(&schema.Event{Kind: schema.EventStatus, Status: ss.server.device.status()})); err != nil {
			return nil
		}
		ss.start(ctx, sub.Kind, ss.pushStatus)
		return nil
	}
	return errorResponse(schema.NewErrorText(schema.ErrNotSupported, sub.Kind.String()+" is not simulated"))
}

func (ss *session) start(parent context.Context, kind schema.SubscriptionKind, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	ss.mu.Lock()
	ss.subs[kind] = cancel
	ss.mu.Unlock()
	ss.logf("subscribed to %s", kind)

	ss.subsWG.Add(1)
	go func() {
		defer ss.subsWG.Done()
		fn(ctx)
	}()
}

// unsubscribe ends a subscription and confirms with the end of stream. The
// confirmation is sent after the producer has stopped, so it is the last
// event of the stream.
func (ss *session) unsubscribe(kind schema.SubscriptionKind) {
	ss.mu.Lock()
	cancel, ok := ss.subs[kind]
	delete(ss.subs, kind)
	ss.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	ss.subsWG.Wait()
	ss.logf("unsubscribed from %s", kind)
	ss.send(eventResponse(&schema.Event{Kind: schema.EventEndOfStream}))
}

func (ss *session) stopAll() {
	ss.mu.Lock()
	for kind, cancel := range ss.subs {
		cancel()
		delete(ss.subs, kind)
	}
	ss.mu.Unlock()
	ss.subsWG.Wait()
}

// replay sends the frames of the recording, paced by their timestamps when a
// rate is set. At the end of the recording it either loops or ends the
// stream.
func (ss *session) replay(ctx context.Context, pc *stream.PointCloud) {
	defer pc.Stop()
	opts := ss.server.opts
	ss.server.device.setState(schema.ScannerStateRunning)
	defer ss.server.device.setState(schema.ScannerStateReady)

	var lastTs uint64
	for ctx.Err() == nil {
		eos, err := pc.EndOfStream()
		if err != nil {
			return
		}
		if eos {
			if !opts.Loop {
				ss.logf("recording finished")
				ss.send(eventResponse(&schema.Event{Kind: schema.EventEndOfStream}))
				return
			}
			if err := pc.JumpToFirstFrame(); err != nil {
				ss.logf("rewind: %v", err)
				return
			}
			lastTs = 0
		}

		f, err := pc.Receive(ctx)
		if errors.Is(err, stream.ErrEndOfStream) {
			continue
		}
		if err != nil {
			ss.logf("replay: %v", err)
			return
		}
		if opts.Rate > 0 && lastTs > 0 && f.StartTimeNs > lastTs {
			opts.Clock.Sleep(time.Duration(float64(f.StartTimeNs-lastTs) / opts.Rate))
		}
		lastTs = f.StartTimeNs
		if ctx.Err() != nil {
			return
		}
		if err := ss.send(eventResponse(&schema.Event{
			Kind:       schema.EventPointCloud,
			PointCloud: &schema.PointCloudEvent{Frame: f},
		})); err != nil {
			return
		}
	}
}

func (ss *session) pushStatus(ctx context.Context) {
	ticker := ss.server.opts.Clock.NewTicker(ss.server.opts.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := ss.send(eventResponse(&schema.Event{Kind: schema.EventStatus, Status: ss.server.device.status()})); err != nil {
				return
			}
		}
	}
}
