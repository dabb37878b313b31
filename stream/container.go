package stream

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/lidarlink/internal/fsutil"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// FileExtension is the conventional extension of point cloud recordings.
const FileExtension = ".bfpc"

// maxBlockSize bounds a single block in a recording.
const maxBlockSize = 512 << 20

// A recording is a gzip stream of blocks, each prefixed with its length as a
// protobuf varint. The first block is a FileHeader, every following block a
// FileData. A FileData holding the footer is always last; files that were
// cut short have none.

// blockWriter writes length-prefixed blocks into a gzip stream.
type blockWriter struct {
	w  io.WriteCloser
	gz *gzip.Writer
	n  int64 // uncompressed bytes
}

func newBlockWriter(w io.WriteCloser, level int) (*blockWriter, error) {
	gz, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("compression level %d: %w", level, err)
	}
	return &blockWriter{w: w, gz: gz}, nil
}

func (b *blockWriter) writeBlock(p []byte) (int, error) {
	buf := protowire.AppendVarint(make([]byte, 0, binary.MaxVarintLen64+len(p)), uint64(len(p)))
	buf = append(buf, p...)
	n, err := b.gz.Write(buf)
	b.n += int64(n)
	return n, err
}

// flush pushes buffered data to the file so that a reader sees every block
// written so far.
func (b *blockWriter) flush() error { return b.gz.Flush() }

func (b *blockWriter) Close() error {
	err := b.gz.Close()
	if cerr := b.w.Close(); err == nil {
		err = cerr
	}
	return err
}

// blockReader reads length-prefixed blocks from a gzip stream.
type blockReader struct {
	f  fs.File
	gz *gzip.Reader
	br *bufio.Reader
}

func openBlockReader(fsys fsutil.FileSystem, path string) (*blockReader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: not a recording: %w", path, err)
	}
	return &blockReader{f: f, gz: gz, br: bufio.NewReader(gz)}, nil
}

// next returns the next block. A missing or incomplete block at the end of
// the file is reported as io.EOF.
func (b *blockReader) next() ([]byte, error) {
	n, err := binary.ReadUvarint(b.br)
	if err != nil {
		return nil, truncated(err)
	}
	if n > maxBlockSize {
		return nil, fmt.Errorf("block of %d bytes exceeds limit", n)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(b.br, p); err != nil {
		return nil, truncated(err)
	}
	return p, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

func (b *blockReader) Close() error {
	b.gz.Close()
	return b.f.Close()
}

// recordingFile is a replay source positioned somewhere after the header.
// Its methods may be called from different goroutines; once closed every
// read returns ErrStopped.
type recordingFile struct {
	fsys fsutil.FileSystem
	path string

	header schema.FileHeader
	footer *schema.FileFooter

	mu       sync.Mutex
	r        *blockReader
	buffered *schema.FileData
	eof      bool
}

// openRecording reads the header, scans the file once for the footer and
// positions the reader on the first frame.
func openRecording(fsys fsutil.FileSystem, path string) (*recordingFile, error) {
	rf := &recordingFile{fsys: fsys, path: path}
	if err := rf.reopen(); err != nil {
		return nil, err
	}

	var last []byte
	for {
		b, err := rf.r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rf.r.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		last = b
	}
	if last != nil {
		var d schema.FileData
		if err := d.Unmarshal(last); err == nil && d.Footer != nil {
			rf.footer = d.Footer
		}
	}

	if err := rf.reopen(); err != nil {
		return nil, err
	}
	return rf, nil
}

// reopen opens the file from the start and consumes the header block. The
// previous reader is only replaced once the new one is positioned.
func (rf *recordingFile) reopen() error {
	r, err := openBlockReader(rf.fsys, rf.path)
	if err != nil {
		return err
	}
	b, err := r.next()
	if err != nil {
		r.Close()
		if err == io.EOF {
			return fmt.Errorf("%s: recording has no header", rf.path)
		}
		return fmt.Errorf("%s: %w", rf.path, err)
	}
	if err := rf.header.Unmarshal(b); err != nil {
		r.Close()
		return fmt.Errorf("%s: header: %w", rf.path, err)
	}
	if rf.r != nil {
		rf.r.Close()
	}
	rf.r = r
	rf.buffered = nil
	rf.eof = false
	return nil
}

// rewind restarts at the first frame. A closed file stays closed.
func (rf *recordingFile) rewind() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.r == nil {
		return ErrStopped
	}
	return rf.reopen()
}

// fill buffers the next block unless one is already buffered.
func (rf *recordingFile) fill() error {
	if rf.r == nil {
		return ErrStopped
	}
	if rf.buffered != nil || rf.eof {
		return nil
	}
	b, err := rf.r.next()
	if err == io.EOF {
		rf.eof = true
		return nil
	}
	if err != nil {
		return err
	}
	d := &schema.FileData{}
	if err := d.Unmarshal(b); err != nil {
		return fmt.Errorf("%s: corrupt block: %w", rf.path, err)
	}
	rf.buffered = d
	return nil
}

// frameBuffered reports whether fill left a frame to hand out. The footer
// never counts as a frame.
func (rf *recordingFile) frameBuffered() bool {
	return rf.buffered != nil && rf.buffered.Frame != nil
}

// exhausted reports whether no frame is left.
func (rf *recordingFile) exhausted() (bool, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if err := rf.fill(); err != nil {
		return false, err
	}
	return !rf.frameBuffered(), nil
}

func (rf *recordingFile) next(ctx context.Context) (*schema.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClosedUngracefully, err)
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if err := rf.fill(); err != nil {
		return nil, err
	}
	if !rf.frameBuffered() {
		return nil, ErrEndOfStream
	}
	f := rf.buffered.Frame
	rf.buffered = nil
	return f, nil
}

func (rf *recordingFile) close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.r == nil {
		return nil
	}
	err := rf.r.Close()
	rf.r = nil
	return err
}
