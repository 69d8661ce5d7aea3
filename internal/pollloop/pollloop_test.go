package pollloop

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aligrudi/chth/internal/conn"
	"github.com/aligrudi/chth/internal/protocol"
	"github.com/aligrudi/chth/internal/submission"
	"github.com/aligrudi/chth/internal/userstore"
)

func newTestHandlers(t *testing.T) *protocol.Handlers {
	t.Helper()
	dir := t.TempDir()
	return &protocol.Handlers{
		Users:    userstore.New(filepath.Join(dir, "USERS")),
		Subs:     submission.NewQueue(),
		Contests: []string{"contest1"},
		LogsDir:  filepath.Join(dir, "logs"),
	}
}

func TestListenBindsEphemeralPort(t *testing.T) {
	fd, err := Listen("127.0.0.1", "0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if fd < 0 {
		t.Fatalf("expected a valid fd")
	}
}

func TestTickAcceptsConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		t.Fatalf("expected *net.TCPListener")
	}
	f, err := tcpLn.File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer f.Close()

	loop := New(int(f.Fd()), -1, newTestHandlers(t), nil, nil)
	loop.pollTimeout = 50 * time.Millisecond

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	loop.Tick()

	used := 0
	for i := range loop.rows {
		if loop.rows[i].inUse {
			used++
		}
	}
	if used != 1 {
		t.Fatalf("expected 1 connection accepted, got %d", used)
	}
}

func TestTickWakesOnJudgeFd(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK); err != nil {
		t.Fatalf("Pipe2: %v", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	loop := New(-1, p[0], newTestHandlers(t), nil, nil)
	loop.pollTimeout = time.Second

	unix.Write(p[1], []byte{0})

	beg := time.Now()
	loop.Tick()
	if elapsed := time.Since(beg); elapsed > 200*time.Millisecond {
		t.Fatalf("Tick took %v, expected it to return promptly once the judge fd was readable", elapsed)
	}
}

func TestTickTimesOutStaleConnections(t *testing.T) {
	loop := New(-1, -1, newTestHandlers(t), nil, nil)
	loop.connTimeout = 0 // everything is immediately stale
	loop.pollTimeout = 10 * time.Millisecond
	loop.rows[0].inUse = true
	loop.rows[0].startTS = time.Now().Add(-time.Hour)
	loop.rows[0].conn = conn.New(-1) // no real socket: Hang must not close a real descriptor

	if time.Since(loop.rows[0].startTS) <= loop.connTimeout {
		t.Fatalf("expected row to be considered stale")
	}
	loop.Tick()
	if loop.rows[0].inUse {
		t.Fatalf("expected Tick to hang the stale connection and free its row")
	}
}
