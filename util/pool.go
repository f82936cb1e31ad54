package util

import "sync"

// ReadBufSize is the size of the pooled socket read buffers.
const ReadBufSize = 4096

// BufPool provides reusable read buffers for the connection layer; the
// server's listen loop reads from every ready client on each pass.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ReadBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
