package stream

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/banshee-data/lidarlink/internal/config"
	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/internal/timeutil"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// RecordOptions tunes a recording.
type RecordOptions struct {
	// CompressionLevel is a gzip level, 0 (store) to 9. Nil uses the default.
	CompressionLevel *int
	// FlushInterval bounds how long written frames may sit in the
	// compressor before they reach the file. Zero uses the default.
	FlushInterval time.Duration
	// Clock drives the flush ticker. Nil uses the real clock.
	Clock timeutil.Clock
}

func (o RecordOptions) level() int {
	if o.CompressionLevel == nil {
		return config.DefaultCompressionLevel
	}
	return *o.CompressionLevel
}

// recordItem is a frame serialized by the receiving goroutine, so the caller
// may keep using the frame while the worker writes.
type recordItem struct {
	id      uint64
	points  uint64
	returns uint64
	pattern []byte
	block   []byte
}

// recorder writes frames to a recording from a background goroutine. The
// footer is owned by the worker until it exits.
type recorder struct {
	w      *blockWriter
	path   string
	labels []string

	items  chan recordItem
	doneCh chan struct{}

	mu     sync.Mutex
	footer schema.FileFooter
	prev   []byte
	err    error
}

func startRecorder(fsys fsutil.FileSystem, path string, header *schema.FileHeader, opts RecordOptions, labels []string) (*recorder, error) {
	level := opts.level()
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("stream: invalid compression level %d", level)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	w, err := newBlockWriter(f, level)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := w.writeBlock(header.Marshal()); err != nil {
		w.Close()
		fsys.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	r := &recorder{
		w:      w,
		path:   path,
		labels: labels,
		items:  make(chan recordItem, 64),
		doneCh: make(chan struct{}),
	}
	go r.run(clock.NewTicker(interval))
	monitoring.Logf("[stream] recording to %s", path)
	return r, nil
}

func (r *recorder) run(ticker timeutil.Ticker) {
	defer close(r.doneCh)
	defer ticker.Stop()
	for {
		select {
		case it, ok := <-r.items:
			if !ok {
				return
			}
			r.write(it)
		case <-ticker.C():
			if err := r.w.flush(); err != nil {
				r.fail(err)
			}
		}
	}
}

func (r *recorder) write(it recordItem) {
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return
	}
	if !bytes.Equal(r.prev, it.pattern) {
		sp := &schema.ScanPattern{}
		if err := sp.Unmarshal(it.pattern); err == nil {
			r.footer.Events = append(r.footer.Events, &schema.ScanPatternEvent{FromFrameID: it.id, ScanPattern: sp})
		}
		r.prev = it.pattern
	}
	r.footer.Stats.Frames++
	r.footer.Stats.Points += it.points
	r.footer.Stats.Returns += it.returns
	r.mu.Unlock()

	n, err := r.w.writeBlock(it.block)
	if err != nil {
		r.fail(err)
		return
	}
	monitoring.Metrics.Recorded.WithLabelValues(r.labels...).Add(float64(n))
}

func (r *recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
		monitoring.Logf("[stream] recording to %s failed: %v", r.path, err)
	}
}

// record hands a frame to the worker. It blocks while the queue is full.
func (r *recorder) record(f *schema.Frame) error {
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	var pattern []byte
	if f.ScanPattern != nil {
		pattern = f.ScanPattern.Marshal()
	}
	r.items <- recordItem{
		id:      f.ID,
		points:  uint64(f.TotalNumberOfPoints),
		returns: uint64(f.TotalNumberOfReturns),
		pattern: pattern,
		block:   (&schema.FileData{Frame: f}).Marshal(),
	}
	return nil
}

// stats returns a copy of the footer counters.
func (r *recorder) stats() schema.StreamStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.footer.Stats
}

// stop joins the worker, then appends the footer and closes the file.
func (r *recorder) stop() (*schema.FileFooter, error) {
	close(r.items)
	<-r.doneCh

	r.mu.Lock()
	footer := r.footer
	err := r.err
	r.mu.Unlock()

	if err == nil {
		_, err = r.w.writeBlock((&schema.FileData{Footer: &footer}).Marshal())
	}
	if cerr := r.w.Close(); err == nil {
		err = cerr
	}
	monitoring.Logf("[stream] recording %s closed: %d frames", r.path, footer.Stats.Frames)
	return &footer, err
}
