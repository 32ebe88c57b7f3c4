package mojo

import (
	"fmt"
	"io"

	"github.com/profiletools/mojo/internal/frame"
	"github.com/profiletools/mojo/internal/sample"
)

// DefaultVersion is the format version the encoder writes when none is
// requested.
const DefaultVersion = 3

type frameContent struct {
	filename  string
	function  string
	line      int64
	lineEnd   int64
	column    int64
	columnEnd int64
}

// encode-side interning is content addressed: identical content resolves to
// the same key, and a newly allocated entry queues its definition so it is
// written before the first reference to it.
type procTable struct {
	strings    map[string]String
	frames     map[frameContent]Frame
	nextString int64
	nextFrame  int64
}

func newProcTable() *procTable {
	return &procTable{
		strings: make(map[string]String),
		frames:  make(map[frameContent]Frame),
		// Keys 0 and 1 are reserved for the empty and unknown strings.
		nextString: 2,
		nextFrame:  1,
	}
}

// Encoder writes high-level events back out as a MOJO byte stream. It keeps
// its own interning tables, distinct from any decoder's.
//
// The mode metadata entry governs which metric tags each sample carries for
// the rest of the stream, and a "gc" metadata entry set to "on" makes every
// subsequent sample carry a GC tag. Metrics the sample does not populate
// are written as 0; the format does not distinguish absent from zero.
type Encoder struct {
	w       io.Writer
	version int

	procs map[int64]*procTable
	defs  []byte
	buf   []byte

	mode    sample.Mode
	modeSet bool
	gcOn    bool

	headerWritten bool
}

// NewEncoder returns an encoder emitting the given format version. Version 0
// selects DefaultVersion.
func NewEncoder(w io.Writer, version int) (*Encoder, error) {
	if version == 0 {
		version = DefaultVersion
	}
	if version < 1 || version > 3 {
		return nil, fmt.Errorf("unsupported MOJO version %d", version)
	}
	return &Encoder{
		w:       w,
		version: version,
		procs:   make(map[int64]*procTable),
	}, nil
}

// WriteEvent dispatches to WriteMetadata or WriteSample.
func (e *Encoder) WriteEvent(ev sample.Event) error {
	switch ev := ev.(type) {
	case sample.Metadata:
		return e.WriteMetadata(ev)
	case sample.Sample:
		return e.WriteSample(ev)
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
}

func (e *Encoder) WriteMetadata(m sample.Metadata) error {
	if err := e.writeHeader(); err != nil {
		return err
	}
	switch m.Name {
	case "mode":
		mode, err := sample.ParseMode(m.Value)
		if err != nil {
			return err
		}
		e.mode = mode
		e.modeSet = true
	case "gc":
		e.gcOn = m.Value == "on"
	}
	e.buf = e.buf[:0]
	e.buf = append(e.buf, TagMetadata)
	e.buf = appendString(e.buf, m.Name)
	e.buf = appendString(e.buf, m.Value)
	return e.flush()
}

func (e *Encoder) WriteSample(s sample.Sample) error {
	if err := e.writeHeader(); err != nil {
		return err
	}
	e.buf = e.buf[:0]
	e.buf = append(e.buf, TagStack)
	e.buf = AppendVarint(e.buf, s.PID)
	if e.version >= 3 {
		iid := int64(-1)
		if s.IID != nil {
			iid = *s.IID
		}
		e.buf = AppendVarint(e.buf, iid)
	}
	e.buf = appendString(e.buf, s.Thread)

	// Resolve frames first so that any new string and frame definitions are
	// queued, then flush the definitions before the references needing them.
	refs := make([]int64, 0, len(s.Frames))
	tables := e.proc(s.PID)
	for _, f := range s.Frames {
		refs = append(refs, e.internFrame(tables, f).Key)
	}
	e.buf = append(e.buf, e.defs...)
	e.defs = e.defs[:0]

	for _, key := range refs {
		e.buf = append(e.buf, TagFrameRef)
		e.buf = AppendVarint(e.buf, key)
	}
	if e.gcOn || s.GC {
		e.buf = append(e.buf, TagGC)
	}
	if s.Idle {
		e.buf = append(e.buf, TagIdle)
	}

	mode := e.mode
	if !e.modeSet {
		mode = sample.ModeWall
	}
	switch mode {
	case sample.ModeCPU, sample.ModeWall:
		e.buf = append(e.buf, TagMetricTime)
		e.buf = AppendVarint(e.buf, s.Metrics.Time)
	case sample.ModeMemory:
		e.buf = append(e.buf, TagMetricMemory)
		e.buf = AppendVarint(e.buf, s.Metrics.Memory)
	case sample.ModeFull:
		e.buf = append(e.buf, TagMetricTime)
		e.buf = AppendVarint(e.buf, s.Metrics.Time)
		e.buf = append(e.buf, TagMetricMemory)
		e.buf = AppendVarint(e.buf, s.Metrics.Memory)
	}
	return e.flush()
}

func (e *Encoder) writeHeader() error {
	if e.headerWritten {
		return nil
	}
	e.headerWritten = true
	e.buf = e.buf[:0]
	e.buf = append(e.buf, headerMarker[:]...)
	e.buf = AppendVarint(e.buf, int64(e.version))
	return e.flush()
}

func (e *Encoder) flush() error {
	_, err := e.w.Write(e.buf)
	return err
}

func (e *Encoder) proc(pid int64) *procTable {
	t, ok := e.procs[pid]
	if !ok {
		t = newProcTable()
		e.procs[pid] = t
	}
	return t
}

func (e *Encoder) internString(t *procTable, value string) String {
	if value == Unknown.Value {
		return Unknown
	}
	if s, ok := t.strings[value]; ok {
		return s
	}
	s := String{Key: t.nextString, Value: value}
	t.nextString++
	t.strings[value] = s

	e.defs = append(e.defs, TagString)
	e.defs = AppendVarint(e.defs, s.Key)
	e.defs = appendString(e.defs, s.Value)
	return s
}

func (e *Encoder) internFrame(t *procTable, f frame.Frame) Frame {
	content := frameContent{
		filename:  f.File,
		function:  f.Function,
		line:      f.Line,
		lineEnd:   f.LineEnd,
		column:    f.Column,
		columnEnd: f.ColumnEnd,
	}
	if fr, ok := t.frames[content]; ok {
		return fr
	}
	// String definitions are queued before the frame definition that
	// references them.
	filename := e.internString(t, f.File)
	function := e.internString(t, f.Function)
	fr := Frame{
		Key:       t.nextFrame,
		Filename:  filename,
		Function:  function,
		Line:      f.Line,
		LineEnd:   f.LineEnd,
		Column:    f.Column,
		ColumnEnd: f.ColumnEnd,
	}
	t.nextFrame++
	t.frames[content] = fr

	e.defs = append(e.defs, TagFrame)
	e.defs = AppendVarint(e.defs, fr.Key)
	e.defs = AppendVarint(e.defs, filename.Key)
	e.defs = AppendVarint(e.defs, function.Key)
	e.defs = AppendVarint(e.defs, fr.Line)
	if e.version >= 2 {
		e.defs = AppendVarint(e.defs, fr.LineEnd)
		e.defs = AppendVarint(e.defs, fr.Column)
		e.defs = AppendVarint(e.defs, fr.ColumnEnd)
	}
	return fr
}

func appendString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}
