package mojo

import (
	"bufio"
	"errors"
	"io"

	"github.com/profiletools/mojo/internal/frame"
	"github.com/profiletools/mojo/internal/sample"
)

// MOJO event tags. The values are the wire contract and must not change.
const (
	TagReserved byte = iota
	TagMetadata
	TagStack
	TagFrame
	TagFrameInvalid
	TagFrameRef
	TagFrameKernel
	TagGC
	TagIdle
	TagMetricTime
	TagMetricMemory
	TagString
	TagStringRef
)

// Header marker expected at the start of every capture.
var headerMarker = [3]byte{'M', 'O', 'J'}

// recentBytesMax bounds the raw bytes kept around for error reports.
const recentBytesMax = 128

type runningSample struct {
	pid    int64
	iid    *int64
	thread string
	frames []Frame
	time   int64
	memory int64
	gc     bool
	idle   bool
}

// Decoder converts a MOJO byte stream into a forward-only sequence of
// high-level events, one Metadata or Sample per Next call. A decoder is
// single use: after any error other than io.EOF it stays failed, and
// re-reading a capture requires a fresh decoder on a fresh byte source.
//
// Decoding is strictly pull based. Cancellation is the caller's business:
// stop calling Next, or hand the decoder a reader that fails when its
// context is done.
type Decoder struct {
	r io.ByteReader

	version    int
	headerRead bool
	done       bool
	err        error

	strings  *StringTable
	frames   *FrameTable
	metadata map[string]string

	intReader VarintReader
	strReader StringReader

	running *runningSample
	pending []sample.Event

	offset     int64
	eventStart int64
	recent     []byte
}

func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{
		r:        br,
		strings:  NewStringTable(),
		frames:   NewFrameTable(),
		metadata: make(map[string]string),
	}
}

// handlers is the fixed dispatch table, indexed by event tag.
var handlers = [...]func(*Decoder) error{
	TagMetadata:     (*Decoder).parseMetadata,
	TagStack:        (*Decoder).parseStack,
	TagFrame:        (*Decoder).parseFrame,
	TagFrameInvalid: (*Decoder).parseFrameInvalid,
	TagFrameRef:     (*Decoder).parseFrameRef,
	TagFrameKernel:  (*Decoder).parseFrameKernel,
	TagGC:           (*Decoder).parseGC,
	TagIdle:         (*Decoder).parseIdle,
	TagMetricTime:   (*Decoder).parseTimeMetric,
	TagMetricMemory: (*Decoder).parseMemoryMetric,
	TagString:       (*Decoder).parseString,
	TagStringRef:    (*Decoder).parseStringRef,
}

// Next returns the next high-level event. It returns io.EOF once the byte
// source is exhausted and the last running sample has been emitted.
func (d *Decoder) Next() (sample.Event, error) {
	if d.err != nil {
		return nil, d.err
	}
	if !d.headerRead {
		if err := d.readHeader(); err != nil {
			d.err = d.fail(err)
			return nil, d.err
		}
		d.headerRead = true
		d.eventStart = d.offset
	}
	for len(d.pending) == 0 {
		if d.done {
			return nil, io.EOF
		}
		tag, err := d.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Clean end of stream: flush the running sample.
				d.done = true
				d.finalizeRunning()
				continue
			}
			d.err = d.fail(err)
			return nil, d.err
		}
		d.track(tag)
		if int(tag) >= len(handlers) || handlers[tag] == nil {
			d.err = d.fail(&UnknownTagError{Tag: tag})
			return nil, d.err
		}
		if err := handlers[tag](d); err != nil {
			d.err = d.fail(err)
			return nil, d.err
		}
		d.eventStart = d.offset
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev, nil
}

// Version returns the format version from the header, valid after the first
// Next call.
func (d *Decoder) Version() int {
	return d.version
}

// Metadata returns the metadata seen so far. Mid-stream metadata events
// update the same map, so the view grows as decoding progresses.
func (d *Decoder) Metadata() map[string]string {
	return d.metadata
}

func (d *Decoder) readHeader() error {
	for _, want := range headerMarker {
		b, err := d.r.ReadByte()
		if err != nil {
			return ErrBadHeader
		}
		d.track(b)
		if b != want {
			return ErrBadHeader
		}
	}
	v, err := d.readInt()
	if err != nil {
		return err
	}
	d.version = int(v)
	return nil
}

// track accounts for one consumed byte.
func (d *Decoder) track(b byte) {
	d.offset++
	d.recent = append(d.recent, b)
	if len(d.recent) > recentBytesMax {
		d.recent = d.recent[len(d.recent)-recentBytesMax:]
	}
}

// readByte reads one payload byte. End of stream inside an event payload is
// a truncation, unlike end of stream at a tag boundary.
func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, ErrTruncated
		}
		return 0, err
	}
	d.track(b)
	return b, nil
}

func (d *Decoder) readInt() (int64, error) {
	for {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if n, ok := d.intReader.Feed(b); ok {
			return n, nil
		}
	}
}

func (d *Decoder) readString() (string, error) {
	for {
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		if s, ok := d.strReader.Feed(b); ok {
			return s, nil
		}
	}
}

func (d *Decoder) fail(err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	recent := make([]byte, len(d.recent))
	copy(recent, d.recent)
	return &DecodeError{
		Offset:   d.eventStart,
		LastRead: d.offset - d.eventStart,
		Recent:   recent,
		Err:      err,
	}
}

func (d *Decoder) finalizeRunning() {
	if d.running == nil {
		return
	}
	rs := d.running
	d.running = nil

	s := sample.Sample{
		PID:    rs.pid,
		IID:    rs.iid,
		Thread: rs.thread,
		Metrics: sample.Metrics{
			Time:   rs.time,
			Memory: rs.memory,
		},
		GC:   rs.gc,
		Idle: rs.idle,
	}
	if len(rs.frames) > 0 {
		s.Frames = make([]frame.Frame, 0, len(rs.frames))
		for _, f := range rs.frames {
			s.Frames = append(s.Frames, frame.Frame{
				File:      f.Filename.Value,
				Function:  f.Function.Value,
				Line:      f.Line,
				LineEnd:   f.LineEnd,
				Column:    f.Column,
				ColumnEnd: f.ColumnEnd,
			})
		}
	}
	d.pending = append(d.pending, s)
}

func (d *Decoder) parseMetadata() error {
	name, err := d.readString()
	if err != nil {
		return err
	}
	value, err := d.readString()
	if err != nil {
		return err
	}
	d.metadata[name] = value
	d.pending = append(d.pending, sample.Metadata{Name: name, Value: value})
	return nil
}

func (d *Decoder) parseStack() error {
	pid, err := d.readInt()
	if err != nil {
		return err
	}
	var iid *int64
	if d.version >= 3 {
		n, err := d.readInt()
		if err != nil {
			return err
		}
		if n >= 0 {
			iid = &n
		}
	}
	thread, err := d.readString()
	if err != nil {
		return err
	}
	d.finalizeRunning()
	d.running = &runningSample{pid: pid, iid: iid, thread: thread}
	return nil
}

func (d *Decoder) parseFrame() error {
	if d.running == nil {
		return errors.New("frame event outside a stack")
	}
	key, err := d.readInt()
	if err != nil {
		return err
	}
	filenameKey, err := d.readInt()
	if err != nil {
		return err
	}
	functionKey, err := d.readInt()
	if err != nil {
		return err
	}
	line, err := d.readInt()
	if err != nil {
		return err
	}
	var lineEnd, column, columnEnd int64
	if d.version >= 2 {
		if lineEnd, err = d.readInt(); err != nil {
			return err
		}
		if column, err = d.readInt(); err != nil {
			return err
		}
		if columnEnd, err = d.readInt(); err != nil {
			return err
		}
	}
	filename, err := d.strings.Resolve(d.running.pid, filenameKey)
	if err != nil {
		return err
	}
	function, err := d.strings.Resolve(d.running.pid, functionKey)
	if err != nil {
		return err
	}
	d.frames.Register(d.running.pid, Frame{
		Key:       key,
		Filename:  filename,
		Function:  function,
		Line:      line,
		LineEnd:   lineEnd,
		Column:    column,
		ColumnEnd: columnEnd,
	})
	return nil
}

func (d *Decoder) parseFrameInvalid() error {
	// No payload. The sampler emits this when it could not read a frame.
	return nil
}

func (d *Decoder) parseFrameRef() error {
	if d.running == nil {
		return errors.New("frame reference outside a stack")
	}
	key, err := d.readInt()
	if err != nil {
		return err
	}
	f, err := d.frames.Resolve(d.running.pid, key)
	if err != nil {
		return err
	}
	d.running.frames = append(d.running.frames, f)
	return nil
}

func (d *Decoder) parseFrameKernel() error {
	// Kernel frames carry a raw symbol name. They are not attached to the
	// running sample; symbol resolution happens downstream.
	_, err := d.readString()
	return err
}

func (d *Decoder) parseGC() error {
	if d.running == nil {
		return errors.New("gc event outside a stack")
	}
	d.running.gc = true
	return nil
}

func (d *Decoder) parseIdle() error {
	if d.running == nil {
		return errors.New("idle event outside a stack")
	}
	d.running.idle = true
	return nil
}

func (d *Decoder) parseTimeMetric() error {
	if d.running == nil {
		return errors.New("time metric outside a stack")
	}
	n, err := d.readInt()
	if err != nil {
		return err
	}
	d.running.time = n
	return nil
}

func (d *Decoder) parseMemoryMetric() error {
	if d.running == nil {
		return errors.New("memory metric outside a stack")
	}
	n, err := d.readInt()
	if err != nil {
		return err
	}
	d.running.memory = n
	return nil
}

func (d *Decoder) parseString() error {
	if d.running == nil {
		return errors.New("string definition outside a stack")
	}
	key, err := d.readInt()
	if err != nil {
		return err
	}
	value, err := d.readString()
	if err != nil {
		return err
	}
	d.strings.Register(d.running.pid, key, value)
	return nil
}

func (d *Decoder) parseStringRef() error {
	if d.running == nil {
		return errors.New("string reference outside a stack")
	}
	key, err := d.readInt()
	if err != nil {
		return err
	}
	_, err = d.strings.Resolve(d.running.pid, key)
	return err
}
