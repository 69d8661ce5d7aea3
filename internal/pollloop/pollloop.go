// Package pollloop implements the judge service's single-threaded
// cooperative event loop: one poll(2) call per tick drives every
// connection's I/O, protocol state machine, and timeout enforcement with no
// goroutines and no locks.
//
// Grounded on original_source/serv.c's ct_poll and mksocket, and spec.md §4.2.
package pollloop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aligrudi/chth/internal/conn"
	"github.com/aligrudi/chth/internal/constants"
	"github.com/aligrudi/chth/internal/interfaces"
	"github.com/aligrudi/chth/internal/protocol"
)

// row is one slot in the fixed connection table.
type row struct {
	conn    *conn.Conn
	fsm     protocol.FSM
	startTS time.Time
	inUse   bool
}

// Loop owns the listening socket and the fixed-size connection table.
type Loop struct {
	listenFd int
	judgeFd  int // self-pipe read end the judge driver wakes on child exit; -1 if none
	rows     [constants.MaxConns]row

	handlers *protocol.Handlers
	observer interfaces.Observer
	logger   interfaces.Logger

	connTimeout time.Duration
	pollTimeout time.Duration
}

// New returns a Loop listening on an already-bound, non-blocking,
// close-on-exec socket fd. judgeFd is the judge driver's self-pipe read end
// (judge.Driver.SelfPipeReadFd); adding it to the poll set lets Tick's
// unix.Poll return as soon as a judge child exits, instead of waiting out
// the full poll timeout before the caller gets a chance to reap it. Pass -1
// if no judge driver is wired up.
func New(listenFd, judgeFd int, h *protocol.Handlers, obs interfaces.Observer, log interfaces.Logger) *Loop {
	return &Loop{
		listenFd:    listenFd,
		judgeFd:     judgeFd,
		handlers:    h,
		observer:    obs,
		logger:      log,
		connTimeout: constants.ConnTimeout,
		pollTimeout: constants.PollTimeout,
	}
}

// Addr returns the listening socket's bound local address, useful when the
// port was chosen by the OS (Listen called with port "0").
func (l *Loop) Addr() (string, error) {
	sa, err := unix.Getsockname(l.listenFd)
	if err != nil {
		return "", err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", fmt.Errorf("pollloop: unexpected sockaddr type %T", sa)
	}
	ip := sa4.Addr
	return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], sa4.Port), nil
}

// Run drives the loop until Tick reports a hard failure on the listening
// socket (matching ct_poll's `while (!ct_poll(ifd));`).
func (l *Loop) Run() {
	for {
		if l.Tick() {
			return
		}
	}
}

// Tick executes exactly one poll(2) wait and services whatever it reports:
// connection timeouts, readable/writable/error connections, dead-row
// reaping, and one accept. It returns true if the listening socket itself
// failed.
func (l *Loop) Tick() bool {
	now := time.Now()
	for i := range l.rows {
		if l.rows[i].inUse && now.Sub(l.rows[i].startTS) > l.connTimeout {
			l.rows[i].conn.Hang()
		}
	}

	fds := make([]unix.PollFd, constants.MaxConns+2)
	for i := range l.rows {
		if !l.rows[i].inUse || l.rows[i].conn.IsHung() {
			fds[i].Fd = -1
			fds[i].Events = 0
			continue
		}
		fds[i].Fd = int32(l.rows[i].conn.Fd())
		fds[i].Events = l.rows[i].conn.Events()
	}
	fds[constants.MaxConns].Fd = int32(l.listenFd)
	fds[constants.MaxConns].Events = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

	judgeSlot := constants.MaxConns + 1
	if l.judgeFd >= 0 {
		fds[judgeSlot].Fd = int32(l.judgeFd)
		fds[judgeSlot].Events = unix.POLLIN
	} else {
		fds[judgeSlot].Fd = -1
	}

	timeoutMs := int(l.pollTimeout / time.Millisecond)
	if _, err := unix.Poll(fds, timeoutMs); err != nil {
		if err == unix.EINTR {
			return false
		}
		return false
	}

	for i := range l.rows {
		if !l.rows[i].inUse || fds[i].Revents == 0 {
			continue
		}
		c := l.rows[i].conn
		if c.Poll(fds[i].Revents) {
			c.Hang()
		}
		if hang := l.rows[i].fsm.Step(c, l.handlers); hang {
			c.Hang()
		}
	}

	for i := range l.rows {
		if l.rows[i].inUse && l.rows[i].conn.IsHung() {
			l.rows[i] = row{}
		}
	}

	if fds[constants.MaxConns].Revents&unix.POLLIN != 0 {
		slot := -1
		for i := range l.rows {
			if !l.rows[i].inUse {
				slot = i
				break
			}
		}
		cfd, _, err := unix.Accept4(l.listenFd, unix.SOCK_CLOEXEC)
		if err == nil {
			unix.SetNonblock(cfd, true)
			if slot >= 0 {
				l.rows[slot] = row{
					conn:    conn.New(cfd),
					fsm:     protocol.FSM{Phase: protocol.AwaitLine},
					startTS: now,
					inUse:   true,
				}
				if l.observer != nil {
					l.observer.ObserveAccept(true)
				}
			} else {
				unix.Close(cfd)
				if l.observer != nil {
					l.observer.ObserveAccept(false)
				}
			}
		}
	}

	if fds[constants.MaxConns].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return true
	}
	return false
}

// Listen creates a non-blocking, close-on-exec TCP listening socket bound
// to addr:port, matching mksocket's socket options.
func Listen(addr, port string) (int, error) {
	var ip [4]byte
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	unix.SetNonblock(fd, true)
	p := parsePort(port)
	sa := &unix.SockaddrInet4{Port: p, Addr: ip}
	if addr != "" {
		sa.Addr = parseIPv4(addr)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, constants.MaxConns*2); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func parsePort(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func parseIPv4(s string) [4]byte {
	var out [4]byte
	idx := 0
	cur := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if idx < 4 {
				out[idx] = byte(cur)
			}
			idx++
			cur = 0
			continue
		}
		if s[i] >= '0' && s[i] <= '9' {
			cur = cur*10 + int(s[i]-'0')
		}
	}
	return out
}
