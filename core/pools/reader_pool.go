package pools

import (
	"bufio"
	"io"
	"sync"
)

// ReaderPool recycles fixed-size bufio.Readers across connections.
type ReaderPool struct {
	pool sync.Pool
	size int
}

// NewReaderPool creates a pool of readers with the given buffer size.
func NewReaderPool(size int) *ReaderPool {
	if size < 16 {
		size = 4096
	}
	rp := &ReaderPool{size: size}
	rp.pool.New = func() any {
		return bufio.NewReaderSize(nil, size)
	}
	return rp
}

// Get returns a reader reading from r.
func (rp *ReaderPool) Get(r io.Reader) *bufio.Reader {
	br := rp.pool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

// Put returns br to the pool. br must not be used afterwards.
func (rp *ReaderPool) Put(br *bufio.Reader) {
	br.Reset(nil)
	rp.pool.Put(br)
}

// Size is the buffer size, which is also the longest accepted line.
func (rp *ReaderPool) Size() int {
	return rp.size
}
