// Package bufpool provides pooled byte slices for ByteConn's growable
// input/output buffers. ByteConn's growth rule (spec.md §4.1) is "grow on
// demand, doubling, minimum 128 bytes" with no fixed ceiling, but in
// practice connection buffers settle into a handful of power-of-two size
// classes (a request line rarely exceeds a few hundred bytes; a submission
// body is capped at 64KiB by MaxSubmissionSize). Pooling those classes
// avoids churning the allocator across the lifetime of many short-lived
// connections.
package bufpool

import "sync"

// Size classes, 128B through 128KiB. A request above the top class is
// satisfied with a fresh, unpooled allocation.
const (
	size128  = 128
	size256  = 256
	size512  = 512
	size1k   = 1024
	size2k   = 2048
	size4k   = 4096
	size8k   = 8192
	size16k  = 16384
	size32k  = 32768
	size64k  = 65536
	size128k = 131072
)

var classes = [...]int{size128, size256, size512, size1k, size2k, size4k, size8k, size16k, size32k, size64k, size128k}

var pools = func() map[int]*sync.Pool {
	m := make(map[int]*sync.Pool, len(classes))
	for _, sz := range classes {
		sz := sz
		m[sz] = &sync.Pool{New: func() any { b := make([]byte, sz); return &b }}
	}
	return m
}()

func classFor(n int) int {
	for _, sz := range classes {
		if n <= sz {
			return sz
		}
	}
	return 0
}

// GetBuffer returns a slice of length n, backed by a pooled buffer when n
// fits a known size class, or a fresh allocation otherwise. Callers must
// call PutBuffer when done with the backing array.
func GetBuffer(n int) []byte {
	class := classFor(n)
	if class == 0 {
		return make([]byte, n)
	}
	buf := *(pools[class].Get().(*[]byte))
	return buf[:n]
}

// PutBuffer returns a buffer obtained from GetBuffer to its pool. Buffers
// with a non-standard capacity (never handed out by GetBuffer, or grown
// past the top class) are simply dropped.
func PutBuffer(buf []byte) {
	c := cap(buf)
	pool, ok := pools[c]
	if !ok {
		return
	}
	buf = buf[:c]
	pool.Put(&buf)
}
