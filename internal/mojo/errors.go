package mojo

import (
	"errors"
	"fmt"
)

// ErrBadHeader indicates the byte source does not start with the MOJ marker.
var ErrBadHeader = errors.New("not a MOJO stream")

// ErrTruncated indicates the byte source ended in the middle of an event.
var ErrTruncated = errors.New("truncated MOJO stream")

// UnknownTagError indicates an event tag outside the known enumeration.
type UnknownTagError struct {
	Tag byte
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown MOJO event tag 0x%02x", e.Tag)
}

// UnresolvedRefError indicates a string or frame key was referenced before
// its definition was seen.
type UnresolvedRefError struct {
	Kind string
	PID  int64
	Key  int64
}

func (e *UnresolvedRefError) Error() string {
	return fmt.Sprintf("unresolved %s reference %d for pid %d", e.Kind, e.Key, e.PID)
}

// DecodeError wraps any failure raised while decoding an event. It carries
// the byte offset of the failing event, the number of bytes consumed by it,
// and the raw bytes of the most recently parsed events to help diagnose
// malformed captures. Decode errors are fatal for the session: decoding can
// only be retried from a fresh byte source.
type DecodeError struct {
	Offset   int64
	LastRead int64
	Recent   []byte
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid byte sequence at offset %d (last read: %d): %v", e.Offset, e.LastRead, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
