// Package frame recovers discrete tag-delimited frames from the upstream
// byte stream. The logging program's API has no length prefix: a frame is
// whatever sits between an opening <CMD> and its closing </CMD>, and a single
// TCP read may carry a fragment of one frame or several complete frames.
package frame

import (
	"bytes"
	"errors"
)

var (
	openTag  = []byte("<CMD>")
	closeTag = []byte("</CMD>")
)

// ErrOverflow is returned when the unmatched buffer exceeds its bound
// without resolving to a complete frame. The condition is fatal for current
// connection only; the session reconnects and resets the scanner.
var ErrOverflow = errors.New("frame buffer overflow without a complete frame")

// DefaultMaxBuffer bounds unmatched-buffer growth. A legitimate frame is a
// few hundred bytes; anything approaching this is garbage or a desynced peer.
const DefaultMaxBuffer = 64 * 1024

// Scanner is a restartable frame-boundary scanner over an append-only
// buffer. It never yields a partial frame and never loses a frame split
// across reads. Not safe for concurrent use; the protocol session owns it.
type Scanner struct {
	buf       []byte
	maxBuffer int
}

// NewScanner creates a Scanner with the default buffer bound.
func NewScanner() *Scanner {
	return &Scanner{maxBuffer: DefaultMaxBuffer}
}

// NewScannerSize creates a Scanner with an explicit buffer bound.
func NewScannerSize(maxBuffer int) *Scanner {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Scanner{maxBuffer: maxBuffer}
}

// Frames appends a chunk of raw bytes and returns every complete frame now
// available, in arrival order. Zero, one, or many frames may be returned per
// call. Returns ErrOverflow when the unmatched buffer exceeds its bound; the
// scanner discards its buffer in that case so a caller that chooses to carry
// on does not reparse corrupt data.
func (s *Scanner) Frames(chunk []byte) ([]string, error) {
	s.buf = append(s.buf, chunk...)

	var frames []string
	for {
		rec, ok := s.next()
		if !ok {
			break
		}
		frames = append(frames, rec)
	}

	s.compact()

	if len(s.buf) > s.maxBuffer {
		s.buf = nil
		return frames, ErrOverflow
	}
	return frames, nil
}

// next extracts one complete frame, returning its inner text without the
// delimiting tags. Garbage before the opening tag is skipped, not an error:
// the vendor protocol interleaves content we never asked for.
func (s *Scanner) next() (string, bool) {
	start := bytes.Index(s.buf, openTag)
	if start == -1 {
		return "", false
	}
	end := bytes.Index(s.buf[start:], closeTag)
	if end == -1 {
		return "", false
	}
	end += start

	rec := string(s.buf[start+len(openTag) : end])
	s.buf = s.buf[end+len(closeTag):]
	return rec, true
}

// compact drops unmatchable leading garbage so it cannot trip the overflow
// bound. Bytes that could still be a partial opening tag are kept.
func (s *Scanner) compact() {
	start := bytes.Index(s.buf, openTag)
	if start > 0 {
		s.buf = s.buf[start:]
		return
	}
	if start == -1 && len(s.buf) >= len(openTag) {
		// Keep the longest tail that could be a split "<CMD>" prefix.
		keep := len(openTag) - 1
		for ; keep > 0; keep-- {
			if bytes.Equal(s.buf[len(s.buf)-keep:], openTag[:keep]) {
				break
			}
		}
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-keep:]...)
	}
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (s *Scanner) Pending() int {
	return len(s.buf)
}

// Reset discards buffered bytes. Called on reconnect so a partial frame from
// one connection epoch is never misattributed to the next.
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
}
