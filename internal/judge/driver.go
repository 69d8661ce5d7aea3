// Package judge implements the Judge Driver: it forks and execs exactly one
// judge child at a time, reaps it asynchronously off a self-pipe rather than
// doing file I/O inside a signal handler, and chains to the next pending
// submission as each one finishes.
//
// Grounded on original_source/serv.c's test_beg / sigchild, redesigned per
// spec.md §9's recommendation to use a self-pipe instead of signal-unsafe
// work inside the SIGCHLD handler.
package judge

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aligrudi/chth/internal/interfaces"
	"github.com/aligrudi/chth/internal/submission"
)

const judgeBinary = "./chth-test"

// Driver runs judge subprocesses one at a time against a submission queue.
type Driver struct {
	subs   *submission.Queue
	obs    interfaces.Observer
	logger interfaces.Logger

	current *runState

	// selfPipe's read end is woken by the SIGCHLD handler; Drain consumes
	// it so the poll loop notices a finished child without blocking.
	selfPipeR int
	selfPipeW int
}

// New returns a Driver over subs. Callers must call InstallSignalHandler
// once at process start, and call Drain once per poll tick.
func New(subs *submission.Queue, obs interfaces.Observer, logger interfaces.Logger) (*Driver, error) {
	var p [2]int
	if err := pipe2(&p); err != nil {
		return nil, fmt.Errorf("judge: self-pipe: %w", err)
	}
	return &Driver{subs: subs, obs: obs, logger: logger, selfPipeR: p[0], selfPipeW: p[1]}, nil
}

func pipe2(p *[2]int) error {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return err
	}
	p[0], p[1] = fds[0], fds[1]
	return nil
}

// InstallSignalHandler routes SIGCHLD to the self-pipe for the remainder of
// the process's life. Go's runtime already handles SIGCHLD internally for
// os/exec, but the Judge Driver forks its child directly via unix.ForkExec,
// so it needs its own notification path.
func (d *Driver) InstallSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGCHLD)
	go func() {
		for range ch {
			d.Notify()
		}
	}()
}

// SelfPipeReadFd exposes the self-pipe's read end so the poll loop can add
// it to its readiness set alongside connection fds.
func (d *Driver) SelfPipeReadFd() int { return d.selfPipeR }

// Notify is the SIGCHLD-safe half of reaping: it writes one byte to the
// self-pipe. Called from a signal handler, it must do nothing but a
// non-blocking write.
func (d *Driver) Notify() {
	unix.Write(d.selfPipeW, []byte{0})
}

// Busy reports whether a judge child is currently running.
func (d *Driver) Busy() bool { return d.current != nil }

// Kick starts the first pending submission if no child is currently running.
func (d *Driver) Kick(logsDir string) {
	if d.current != nil {
		return
	}
	idx := d.subs.First()
	if idx < 0 {
		return
	}
	d.start(idx, logsDir)
}

func (d *Driver) start(idx int, logsDir string) {
	sub := d.subs.At(idx)
	resultPath := logsDir + "/test.out"

	pid, err := unix.ForkExec(judgeBinary, []string{judgeBinary, sub.Cont, sub.Path, sub.Lang}, &unix.ProcAttr{
		Files: []uintptr{0, openTruncOrStderr(resultPath), 2},
		Env:   os.Environ(),
	})
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("judge: fork/exec failed: %v", err)
		}
		d.subs.Invalidate(idx)
		return
	}
	d.current = &runState{pid: pid, submitIdx: idx, startedAt: time.Now()}
}

func openTruncOrStderr(path string) uintptr {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return 2
	}
	return f.Fd()
}

// Drain services a self-pipe notification: it reaps the current child with
// WNOHANG, records its result, and starts the next pending submission if
// any. It is a no-op if no byte is pending.
func (d *Driver) Drain(logsDir string) {
	var b [64]byte
	n, _ := unix.Read(d.selfPipeR, b[:])
	if n <= 0 || d.current == nil {
		return
	}

	var ws unix.WaitStatus
	got, err := unix.Wait4(d.current.pid, &ws, unix.WNOHANG, nil)
	if err != nil || got != d.current.pid {
		return
	}

	idx := d.current.submitIdx
	sub := d.subs.At(idx)
	d.recordResult(sub, logsDir)
	d.subs.Invalidate(idx)
	d.current = nil

	if next := d.subs.First(); next >= 0 {
		d.start(next, logsDir)
	}
}

func (d *Driver) recordResult(sub submission.Submission, logsDir string) {
	resultPath := logsDir + "/test.out"
	f, err := os.Open(resultPath)
	if err != nil {
		return
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return
	}
	line := sc.Text()

	statPath := sub.Cont + ".stat"
	sf, err := os.OpenFile(statPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return
	}
	defer sf.Close()
	fmt.Fprintf(sf, "%s\t%d\t%s\n", sub.User, sub.Date.Unix(), line)

	if d.obs != nil {
		res := ParseResult(line)
		d.obs.ObserveJudgeRun(verdictByte(res.Verdict), uint64(res.Secs)*1e9+uint64(res.Cents)*1e7)
	}
}

// verdictByte reduces a scoring line's full per-case verdict string (e.g.
// "PPFP", "T", "E") to the single character metrics.ObserveJudgeRun buckets
// on: 'P' if every case passed, otherwise the first non-P character
// encountered. An empty verdict string (zero test cases) counts as 'P', the
// same "trivially all-pass" rule Summary.String uses for the trailing ".".
func verdictByte(v string) byte {
	for i := 0; i < len(v); i++ {
		if v[i] != 'P' {
			return v[i]
		}
	}
	return 'P'
}

// ParseResult decodes a scoring line of the form
// "%d/%d\t%d.%02d\t# %s%s" where the trailing %s is "." or "!" and the
// first %s is the per-case verdict string (e.g. "PPFP").
func ParseResult(line string) Result {
	fields := strings.Split(line, "\t")
	res := Result{Raw: line}
	if len(fields) >= 1 {
		parts := strings.SplitN(fields[0], "/", 2)
		if len(parts) == 2 {
			res.Passed, _ = strconv.Atoi(parts[0])
			res.Total, _ = strconv.Atoi(parts[1])
		}
	}
	if len(fields) >= 2 {
		parts := strings.SplitN(fields[1], ".", 2)
		if len(parts) == 2 {
			res.Secs, _ = strconv.Atoi(parts[0])
			res.Cents, _ = strconv.Atoi(parts[1])
		}
	}
	if len(fields) >= 3 {
		verdicts := strings.TrimPrefix(fields[2], "# ")
		verdicts = strings.TrimSuffix(strings.TrimSuffix(verdicts, "!"), ".")
		res.Verdict = verdicts
	}
	return res
}
