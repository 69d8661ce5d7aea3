// Package constants holds the tunables of the judge service: protocol
// framing limits, connection table sizing, and the sandbox's resource
// limits, all centralized in one place instead of scattered across
// call sites.
package constants

import "time"

// Protocol and connection-table limits (spec.md §3, §4.2).
const (
	// DefaultPort is the default listening port.
	DefaultPort = "40"

	// MaxConns is the maximum number of simultaneous connections.
	MaxConns = 16

	// MaxLineLen is the maximum length of a request line, in bytes.
	MaxLineLen = 255

	// MaxSubs is the submission queue's fixed capacity.
	MaxSubs = 32

	// MaxSubmissionSize is the maximum buffered submission body size, in bytes.
	MaxSubmissionSize = 1 << 16

	// ConnTimeout is how long a connection may sit in one phase before
	// being force-closed.
	ConnTimeout = 10 * time.Second

	// PollTimeout is the readiness wait's timeout per tick.
	PollTimeout = 1 * time.Second

	// MinBufSize is the minimum size a growable buffer starts at.
	MinBufSize = 128
)

// Filesystem layout (spec.md §6).
const (
	UsersFile  = "USERS"
	LogsDir    = "logs"
	ResultFile = "logs/test.out"
	DefaultEOF = "EOF\n"
)

// Sandbox identity and resource limits (spec.md §4.8, §4.9).
const (
	// SandboxUID and SandboxGID are the default unprivileged identity
	// judged programs execute under.
	SandboxUID = 12345
	SandboxGID = 12345

	// RunTimeout is the per-test-case wall-clock budget.
	RunTimeout = 2000 * time.Millisecond

	// WaitPollInterval is how often ct_exec polls a running child for exit.
	WaitPollInterval = 5 * time.Millisecond

	// MaxOpenFiles, MaxFileSize, MaxAddressSpace, and MaxProcs are the
	// resource limits applied to the sandboxed child before exec.
	MaxOpenFiles    = 12
	MaxFileSize     = 4 << 20   // 4 MiB
	MaxAddressSpace = 500 << 20 // 500 MiB
	MaxProcs        = 12

	// SlaughterRounds is how many times the slaughter helper is forked to
	// reap detached grandchildren owned by the sandbox uid.
	SlaughterRounds = 3
)

// Username validation (spec.md §4.4).
const (
	MinUsernameLen = 4
	MaxUsernameLen = 16
)

// SupportedLanguages is the accepted submission language set (spec.md §4.6).
var SupportedLanguages = []string{"c", "c++", "py", "py2", "py3", "sh", "elf"}
