//go:build integration

package integration

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	chth "github.com/aligrudi/chth"
)

// requireRoot skips tests that need to fork the sandboxed judge child and
// drop privileges via setuid/setgid (the judge binary must run as root to
// call setuid/setgid toward the unprivileged sandbox identity).
func requireRoot(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("this test requires root to run the judge sandbox")
	}
}

func startServer(t *testing.T, dir string, contests []string) (addr string, srv *chth.Server) {
	t.Helper()
	opts := chth.DefaultOptions(contests)
	opts.Addr = "127.0.0.1"
	opts.Port = "0"
	opts.UsersFile = filepath.Join(dir, "USERS")
	opts.LogsDir = filepath.Join(dir, "logs")

	srv, err := chth.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	addr, err = srv.Addr()
	if err != nil {
		t.Fatalf("Addr: %v", err)
	}
	go srv.Serve()
	return addr, srv
}

func request(t *testing.T, addr, req string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprint(conn, req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	var out strings.Builder
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		out.WriteString(sc.Text())
		out.WriteByte('\n')
	}
	return out.String()
}

func TestIntegrationRegister(t *testing.T) {
	dir := t.TempDir()
	addr, _ := startServer(t, dir, []string{"contest1"})

	got := request(t, addr, "register alice secret\n")
	if !strings.Contains(got, "user alice added") {
		t.Fatalf("register response = %q, want a success message", got)
	}

	// A duplicate registration must be rejected.
	got = request(t, addr, "register alice secret\n")
	if !strings.Contains(got, "user exists") {
		t.Fatalf("duplicate register response = %q, want a user-exists message", got)
	}
}

func TestIntegrationRegisterRejectsShortUsername(t *testing.T) {
	dir := t.TempDir()
	addr, _ := startServer(t, dir, []string{"contest1"})

	got := request(t, addr, "register ab pw\n")
	if !strings.Contains(got, "too short") {
		t.Fatalf("response = %q, want a too-short message", got)
	}
}

func TestIntegrationReportUnknownContestIsEmpty(t *testing.T) {
	dir := t.TempDir()
	addr, _ := startServer(t, dir, []string{"contest1"})

	got := request(t, addr, "report no-such-contest\n")
	if got != "" {
		t.Fatalf("report for an unknown contest = %q, want empty", got)
	}
}

func TestIntegrationSubmitRejectsClosedContest(t *testing.T) {
	dir := t.TempDir()
	addr, _ := startServer(t, dir, []string{"contest1"})

	request(t, addr, "register alice secret\n")
	got := request(t, addr, "submit alice secret not-open c\nint main(){}\nEOF\n")
	if !strings.Contains(got, "contest is not open") {
		t.Fatalf("response = %q, want a contest-not-open message", got)
	}
}

func TestIntegrationSubmitAndReportEndToEnd(t *testing.T) {
	requireRoot(t)

	dir := t.TempDir()
	contest := filepath.Join(dir, "contest1")
	os.MkdirAll(contest, 0755)
	os.WriteFile(filepath.Join(contest, "00"), []byte("hello\n"), 0644)
	os.WriteFile(filepath.Join(contest, "00o"), []byte("hello\n"), 0644)

	addr, _ := startServer(t, dir, []string{"contest1"})

	request(t, addr, "register alice secret\n")
	got := request(t, addr, "submit alice secret contest1 sh\ncat\nEOF\n")
	if !strings.Contains(got, "submission queued") {
		t.Fatalf("submit response = %q, want a queued message", got)
	}

	deadline := time.Now().Add(10 * time.Second)
	var report string
	for time.Now().Before(deadline) {
		report = request(t, addr, "report contest1\n")
		if strings.Contains(report, "alice") && !strings.Contains(report, "Waiting") {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !strings.Contains(report, "# P.") {
		t.Fatalf("report = %q, want an all-pass verdict (# P.) for alice", report)
	}
}
