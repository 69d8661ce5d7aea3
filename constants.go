package chth

import "github.com/aligrudi/chth/internal/constants"

// Re-export the tunables a caller embedding the server might want to
// reference without reaching into internal/.
const (
	DefaultPort       = constants.DefaultPort
	MaxConns          = constants.MaxConns
	MaxSubs           = constants.MaxSubs
	MaxSubmissionSize = constants.MaxSubmissionSize
	SandboxUID        = constants.SandboxUID
	SandboxGID        = constants.SandboxGID
)
