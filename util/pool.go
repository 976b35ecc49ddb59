package util

import (
	"bytes"
	"sync"
)

// maxPooledBuf keeps unusually large capture buffers out of the pool so
// one noisy script does not pin memory for the life of the process.
const maxPooledBuf = 1 << 20

// BufPool provides reusable output buffers, reducing GC pressure when
// every evaluation allocates a fresh stdout/stderr pair.
var BufPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuf retrieves an empty buffer from the pool.  Callers must return
// it with [PutBuf] when finished.
func GetBuf() *bytes.Buffer {
	buf := BufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuf {
		return
	}
	BufPool.Put(buf)
}
