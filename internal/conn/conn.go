// Package conn implements ByteConn: one non-blocking bidirectional byte
// stream with growable input/output buffers and half-close tracking, driven
// by a poll(2)-style event loop (internal/pollloop) rather than goroutines.
//
// Grounded on original_source/conn.c (aligrudi/chth's conn_make / conn_poll /
// conn_send / conn_recvall family) and spec.md §4.1.
package conn

import (
	"golang.org/x/sys/unix"

	"github.com/aligrudi/chth/internal/bufpool"
	"github.com/aligrudi/chth/internal/constants"
)

// Conn is one client connection's byte stream.
type Conn struct {
	fd   int
	ibuf []byte
	obuf []byte

	canRecv bool
	canSend bool
}

// New wraps an already-accepted, non-blocking file descriptor.
func New(fd int) *Conn {
	return &Conn{fd: fd, canRecv: true, canSend: true}
}

// Fd returns the underlying file descriptor, or -1 if hung.
func (c *Conn) Fd() int { return c.fd }

// Events returns the poll(2) event bitmask this connection should wait on:
// readable iff it can still receive, writable iff it can still send and has
// buffered output. Error/hangup are reported by poll(2) unconditionally, so
// they are not requested here.
func (c *Conn) Events() int16 {
	if c.fd < 0 {
		return 0
	}
	var ev int16
	if c.canRecv {
		ev |= unix.POLLIN
	}
	if c.canSend && len(c.obuf) > 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

// Poll services one readiness notification. It returns true on a hard
// failure (allocation failure, or an error/hangup condition in revents) —
// the caller should hang the connection in that case.
func (c *Conn) Poll(revents int16) bool {
	if revents&unix.POLLIN != 0 {
		n, err := unix.Read(c.fd, c.growForRead())
		if n > 0 {
			c.ibuf = c.ibuf[:len(c.ibuf)+n]
		}
		if n == 0 && err == nil {
			c.canRecv = false // half-close: peer shut down its write side
		}
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			return true
		}
	}
	if revents&unix.POLLOUT != 0 {
		n, err := unix.Write(c.fd, c.obuf)
		if n > 0 {
			copy(c.obuf, c.obuf[n:])
			c.obuf = c.obuf[:len(c.obuf)-n]
		}
		if n == 0 && err == nil {
			c.canSend = false
		}
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			return true
		}
	}
	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		c.Hang()
		return true
	}
	return false
}

// growForRead ensures ibuf has room for at least one more read and returns
// the free tail to read into. Growth doubles the buffer, with a minimum of
// constants.MinBufSize, matching conn.c's mextend().
func (c *Conn) growForRead() []byte {
	if len(c.ibuf) == cap(c.ibuf) {
		newCap := cap(c.ibuf) * 2
		if newCap < constants.MinBufSize {
			newCap = constants.MinBufSize
		}
		grown := bufpool.GetBuffer(newCap)
		n := copy(grown, c.ibuf)
		c.ibuf = grown[:n]
	}
	return c.ibuf[len(c.ibuf):cap(c.ibuf)]
}

// Send buffers p for output; it never blocks. Growth follows the same
// doubling rule as the input buffer.
func (c *Conn) Send(p []byte) {
	need := len(c.obuf) + len(p)
	cp := cap(c.obuf)
	if cp == 0 {
		cp = constants.MinBufSize
	}
	for cp < need {
		cp *= 2
	}
	if cp > cap(c.obuf) {
		grown := bufpool.GetBuffer(cp)
		n := copy(grown, c.obuf)
		c.obuf = grown[:n]
	}
	c.obuf = c.obuf[:len(c.obuf)+len(p)]
	copy(c.obuf[len(c.obuf)-len(p):], p)
}

// Feed appends p directly to the input buffer without going through a real
// read(2). Used by tests that drive the FSM without a live socket.
func (c *Conn) Feed(p []byte) {
	c.ibuf = append(c.ibuf, p...)
}

// PeekIn returns the unconsumed input without copying or removing it.
func (c *Conn) PeekIn() []byte { return c.ibuf }

// Consume removes the first n bytes of buffered input.
func (c *Conn) Consume(n int) {
	if n > len(c.ibuf) {
		n = len(c.ibuf)
	}
	copy(c.ibuf, c.ibuf[n:])
	c.ibuf = c.ibuf[:len(c.ibuf)-n]
}

// ConsumeAll takes ownership of the entire input buffer, leaving the
// connection's input empty.
func (c *Conn) ConsumeAll() []byte {
	buf := c.ibuf
	c.ibuf = nil
	return buf
}

// EndsWith reports whether the buffered input ends with suffix.
func (c *Conn) EndsWith(suffix []byte) bool {
	if len(c.ibuf) < len(suffix) {
		return false
	}
	tail := c.ibuf[len(c.ibuf)-len(suffix):]
	for i := range suffix {
		if tail[i] != suffix[i] {
			return false
		}
	}
	return true
}

// LineEnd returns the index just past the first '\n' in buffered input, if any.
func (c *Conn) LineEnd(maxLen int) (int, bool) {
	limit := len(c.ibuf)
	if maxLen >= 0 && maxLen < limit {
		limit = maxLen
	}
	for i := 0; i < limit; i++ {
		if c.ibuf[i] == '\n' {
			return i + 1, true
		}
	}
	return 0, false
}

// Hang closes the socket (if open) and marks the connection dead. Buffered
// bytes are left untouched but will never be read or written again.
func (c *Conn) Hang() {
	if c.fd >= 0 {
		unix.Close(c.fd)
	}
	c.fd = -1
	c.canRecv = false
	c.canSend = false
}

// IsHung reports whether the connection is dead: no fd, or no further I/O
// possible in either direction.
func (c *Conn) IsHung() bool {
	return c.fd < 0 || (!c.canSend && !c.canRecv)
}

// Len returns the number of buffered, unconsumed input bytes.
func (c *Conn) Len() int { return len(c.ibuf) }

// OutLen returns the number of buffered, unsent output bytes.
func (c *Conn) OutLen() int { return len(c.obuf) }
