// Package rawmsg edits the header block of a raw RFC 5322 message while leaving
// the body bytes exactly as they came in.
package rawmsg

import (
	"bytes"
	"errors"
)

var (
	ErrNoBoundary      = errors.New("no header/body separator")
	ErrNoSubjectHeader = errors.New("no Subject header")
)

var (
	crlfcrlf = []byte("\r\n\r\n")
	lflf     = []byte("\n\n")
)

// Boundary describes where the header block of a message ends.
// HeaderEnd is the offset of the blank line, BodyStart the first body byte.
type Boundary struct {
	HeaderEnd  int
	BodyStart  int
	LineEnding string
}

// Separator returns the blank-line bytes that sit between HeaderEnd and BodyStart.
func (b Boundary) Separator() []byte {
	if b.LineEnding == "\r\n" {
		return crlfcrlf
	}
	return lflf
}

// Locate finds the first CRLF CRLF in raw, falling back to the first LF LF for
// messages stored with bare line feeds.
func Locate(raw []byte) (Boundary, error) {
	if i := bytes.Index(raw, crlfcrlf); i >= 0 {
		return Boundary{HeaderEnd: i, BodyStart: i + len(crlfcrlf), LineEnding: "\r\n"}, nil
	}
	if i := bytes.Index(raw, lflf); i >= 0 {
		return Boundary{HeaderEnd: i, BodyStart: i + len(lflf), LineEnding: "\n"}, nil
	}
	return Boundary{}, ErrNoBoundary
}
