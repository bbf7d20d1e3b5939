package util

import "sync"

// BufPool provides reusable byte buffers for file transfer, reducing
// GC pressure on hot paths.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// chunkPool holds RelayChunkSize buffers for proxy relays.
var chunkPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, RelayChunkSize)
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

// GetChunk retrieves a relay-sized buffer.
func GetChunk() *[]byte {
	return chunkPool.Get().(*[]byte)
}

// PutChunk returns a relay-sized buffer.
func PutChunk(buf *[]byte) {
	if buf == nil {
		return
	}
	chunkPool.Put(buf)
}
