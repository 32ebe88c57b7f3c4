package frame

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
)

type (
	// Frame is a single source location in a call stack. The zero value of
	// LineEnd, Column and ColumnEnd means the information was not present in
	// the capture (format version 1 does not carry it).
	//
	// Frame is a value type and is comparable, so it can be used directly as
	// a map key when aggregating statistics.
	Frame struct {
		File      string `json:"filename"`
		Function  string `json:"function"`
		Line      int64  `json:"lineno"`
		LineEnd   int64  `json:"lineno_end,omitempty"`
		Column    int64  `json:"colno,omitempty"`
		ColumnEnd int64  `json:"colno_end,omitempty"`
	}
)

func (f Frame) ID() string {
	hash := md5.Sum([]byte(fmt.Sprintf("%s:%s:%d", f.File, f.Function, f.Line)))
	return hex.EncodeToString(hash[:])
}

func (f Frame) WriteToHash(h hash.Hash) {
	if f.File == "" && f.Function == "" {
		h.Write([]byte("-"))
		return
	}
	h.Write([]byte(f.File))
	h.Write([]byte(f.Function))
	fmt.Fprintf(h, "%d", f.Line)
}

// String renders the frame in the collapsed stack form used by text dumps.
func (f Frame) String() string {
	return fmt.Sprintf("%s:%s:%d", f.File, f.Function, f.Line)
}
