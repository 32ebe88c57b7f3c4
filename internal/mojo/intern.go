package mojo

type (
	// Ref is a per-process reference key. Numeric references carried by MOJO
	// events are relative to the process that emitted them, so they are
	// always combined with the pid of the last seen stack.
	Ref struct {
		PID int64
		Key int64
	}

	// String is an interned string definition.
	String struct {
		Key   int64
		Value string
	}

	// Frame is an interned frame definition. Filename and Function are
	// resolved string entries, not raw keys.
	Frame struct {
		Key       int64
		Filename  String
		Function  String
		Line      int64
		LineEnd   int64
		Column    int64
		ColumnEnd int64
	}
)

// Reserved string keys. Key 1 resolves without a prior definition.
var (
	Empty   = String{Key: 0, Value: ""}
	Unknown = String{Key: 1, Value: "<unknown>"}
)

// StringTable maps per-process keys to interned strings.
type StringTable struct {
	m map[Ref]String
}

func NewStringTable() *StringTable {
	return &StringTable{m: make(map[Ref]String)}
}

// Register inserts a new entry. Registering a duplicate key overwrites the
// previous entry; well-formed streams never do this, but it must not fail.
func (t *StringTable) Register(pid, key int64, value string) String {
	s := String{Key: key, Value: value}
	t.m[Ref{PID: pid, Key: key}] = s
	return s
}

// Resolve returns the string registered for (pid, key). Key 1 always
// resolves to the Unknown constant.
func (t *StringTable) Resolve(pid, key int64) (String, error) {
	if key == Unknown.Key {
		return Unknown, nil
	}
	s, ok := t.m[Ref{PID: pid, Key: key}]
	if !ok {
		return String{}, &UnresolvedRefError{Kind: "string", PID: pid, Key: key}
	}
	return s, nil
}

// FrameTable maps per-process keys to interned frames. Frames are keyed and
// compared by key only, never by content.
type FrameTable struct {
	m map[Ref]Frame
}

func NewFrameTable() *FrameTable {
	return &FrameTable{m: make(map[Ref]Frame)}
}

func (t *FrameTable) Register(pid int64, f Frame) Frame {
	t.m[Ref{PID: pid, Key: f.Key}] = f
	return f
}

func (t *FrameTable) Resolve(pid, key int64) (Frame, error) {
	f, ok := t.m[Ref{PID: pid, Key: key}]
	if !ok {
		return Frame{}, &UnresolvedRefError{Kind: "frame", PID: pid, Key: key}
	}
	return f, nil
}
