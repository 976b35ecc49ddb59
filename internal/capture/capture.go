// Package capture redirects an evaluation's output streams into memory
// for the length of one action.
package capture

import (
	"bytes"
	"io"
	"sync"
	"unicode/utf8"

	"evald/util"
)

// TruncatedMarker is appended when captured output exceeds the limit.
const TruncatedMarker = "\n[output truncated]\n"

// Target is anything whose output writers can be swapped.  The
// previous writers are returned so they can be put back.
type Target interface {
	SetOutput(stdout, stderr io.Writer) (prevOut, prevErr io.Writer)
}

// Scope holds the buffers of one capture.  Close must be called on
// every exit path; it is safe to call more than once.
type Scope struct {
	target  Target
	prevOut io.Writer
	prevErr io.Writer
	stdout  *limitedBuffer
	stderr  *limitedBuffer
	limit   int
	once    sync.Once
	result  string
}

// Open swaps target's writers for fresh buffers.  limit bounds the
// combined length returned by Close; 0 means unlimited.
func Open(target Target, limit int) *Scope {
	s := &Scope{
		target: target,
		stdout: &limitedBuffer{buf: util.GetBuf(), limit: limit},
		stderr: &limitedBuffer{buf: util.GetBuf(), limit: limit},
		limit:  limit,
	}
	s.prevOut, s.prevErr = target.SetOutput(s.stdout, s.stderr)
	return s
}

// Stdout is the writer currently installed as the target's stdout.
func (s *Scope) Stdout() io.Writer { return s.stdout }

// Stderr is the writer currently installed as the target's stderr.
func (s *Scope) Stderr() io.Writer { return s.stderr }

// Close restores the previous writers and returns stdout followed by
// stderr.  Later calls return the same text.
func (s *Scope) Close() string {
	s.once.Do(func() {
		s.target.SetOutput(s.prevOut, s.prevErr)

		out := s.stdout.String() + s.stderr.String()
		truncated := s.stdout.dropped || s.stderr.dropped
		if s.limit > 0 && len(out) > s.limit {
			out = out[:runeBoundary(out, s.limit)]
			truncated = true
		}
		if truncated {
			out += TruncatedMarker
		}
		s.result = out

		s.stdout.release()
		s.stderr.release()
	})
	return s.result
}

// limitedBuffer stops storing once limit bytes are held but keeps
// reporting full writes so scripts never see a short write.
type limitedBuffer struct {
	mu      sync.Mutex
	buf     *bytes.Buffer
	limit   int
	dropped bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf == nil {
		return 0, io.ErrClosedPipe
	}
	n := len(p)
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if b.dropped || room <= 0 {
			b.dropped = true
			return n, nil
		}
		if len(p) > room {
			p = p[:runeBoundary(p, room)]
			b.dropped = true
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf == nil {
		return ""
	}
	return b.buf.String()
}

func (b *limitedBuffer) release() {
	b.mu.Lock()
	util.PutBuf(b.buf)
	b.buf = nil
	b.mu.Unlock()
}

// runeBoundary returns the largest cut at or below n that does not
// split a UTF-8 sequence.
func runeBoundary[T ~string | ~[]byte](s T, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
