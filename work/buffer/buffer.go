package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out reusable byte buffers backed by valyala/bytebufferpool.
// Every buffer it returns has at least bufferSize bytes of capacity.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool creates a pool of buffers with at least bufferSize capacity
func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = 32 << 10
	}
	return &BufferPool{
		bufferSize: bufferSize,
		pool:       &bytebufferpool.Pool{},
	}
}

// Get returns an empty buffer
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, 0, bp.bufferSize)
	}
	return buf
}

// Chunk returns the buffer's full capacity as a scratch slice for io.CopyBuffer
func (bp *BufferPool) Chunk(buf *bytebufferpool.ByteBuffer) []byte {
	return buf.B[:cap(buf.B)]
}

// Put returns buf to the pool. The caller must not touch buf afterwards.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}
