// Package sandbox runs one untrusted program under the judge's resource
// limits and unprivileged identity, and provides the "slaughter" cleanup
// that reaps anything the sandboxed program managed to detach.
//
// Grounded on original_source/test.c's ct_exec and util_slaughter.
package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/aligrudi/chth/internal/constants"
)

// Limits mirrors the four rlimits test.c applies to a judged program.
type Limits struct {
	MaxOpenFiles    int64
	MaxFileSize     int64 // bytes
	MaxAddressSpace int64 // bytes
	MaxProcs        int64
}

// DefaultLimits returns the judge service's standard resource limits.
func DefaultLimits() Limits {
	return Limits{
		MaxOpenFiles:    constants.MaxOpenFiles,
		MaxFileSize:     constants.MaxFileSize,
		MaxAddressSpace: constants.MaxAddressSpace,
		MaxProcs:        constants.MaxProcs,
	}
}

// Per-case verdict characters, matching spec.md §4.8's verdict alphabet
// {T, R, E, P, F}. Run only ever produces the first two; P/F/E are decided
// by the caller once it has a chance to compare output or ask a verifier.
const (
	VerdictNone    byte = 0 // clean exit; caller still has to grade the output
	VerdictTimeout byte = 'T'
	VerdictRuntime byte = 'R'
)

// Run executes argv[0] with argv as its arguments, chdir'd to dir, under
// uid/gid with limits applied, stdin/stdout/stderr redirected to the named
// files, and killed if it outruns timeout. It returns VerdictNone on a clean
// exit (status 0, not signaled), VerdictTimeout if it was killed for
// outrunning timeout, or VerdictRuntime for any other failure to run to a
// clean exit, including a failure to fork at all.
//
// Limits are applied via a `sh -c 'ulimit ...; exec "$@"'` wrapper rather
// than a hand-rolled fork: Go's runtime does not expose setrlimit as a
// pre-exec hook the way it exposes uid/gid via SysProcAttr.Credential, and
// a bare POSIX shell is already one of the judge's supported submission
// interpreters, so reusing it here avoids reimplementing fork/exec's
// async-signal-safety rules ourselves.
func Run(argv []string, dir, inPath, outPath, errPath string, uid, gid int, limits Limits, timeout time.Duration) (byte, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return VerdictNone, fmt.Errorf("sandbox: open stdin: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return VerdictNone, fmt.Errorf("sandbox: open stdout: %w", err)
	}
	defer out.Close()
	errf, err := os.OpenFile(errPath, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return VerdictNone, fmt.Errorf("sandbox: open stderr: %w", err)
	}
	defer errf.Close()

	script := fmt.Sprintf(
		`ulimit -n %d; ulimit -f %d; ulimit -v %d; ulimit -u %d 2>/dev/null || ulimit -p %d; exec "$@"`,
		limits.MaxOpenFiles, limits.MaxFileSize/512, limits.MaxAddressSpace/1024, limits.MaxProcs, limits.MaxProcs,
	)
	shArgv := append([]string{"sh", "-c", script, "sh"}, argv...)

	cmd := exec.Command("sh", shArgv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = in
	cmd.Stdout = out
	cmd.Stderr = errf
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
	}

	if err := cmd.Start(); err != nil {
		return VerdictRuntime, nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case werr := <-done:
		if werr == nil {
			return VerdictNone, nil
		}
		return VerdictRuntime, nil
	case <-time.After(timeout):
		Slaughter(uid, gid, int(constants.SlaughterRounds))
		cmd.Process.Kill()
		select {
		case <-done:
		case <-time.After(timeout):
		}
		return VerdictTimeout, nil
	}
}

// Slaughter forks rounds helper processes that drop to uid/gid and send
// SIGKILL to every process owned by that uid, reaping anything the
// sandboxed program managed to detach from its own process group before
// being killed.
func Slaughter(uid, gid int, rounds int) {
	for i := 0; i < rounds; i++ {
		cmd := exec.Command("sh", "-c", "kill -9 -1 2>/dev/null; true")
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
		}
		cmd.Run()
	}
}
