package cli

import (
	"errors"

	"github.com/rsguard/rs_guard/internal/rserrors"
)

// Exit codes per spec.md §6.
const (
	ExitOK                 = 0
	ExitConfigError        = 2
	ExitStartupIOError     = 3
	ExitFatalUnrecoverable = 4
)

// ExitCode maps a command's terminal error to spec.md §6's exit code
// table. Exit code 4 is reserved for rserrors.KindMetadataCorrupt: a
// file merely being classified Unrecoverable in a check/status report is
// not itself a fatal condition (that report is the command succeeding
// at its job), so it is never surfaced as an error here.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var rerr *rserrors.Error
	if !errors.As(err, &rerr) {
		return ExitStartupIOError
	}
	switch rerr.Kind {
	case rserrors.KindConfig:
		return ExitConfigError
	case rserrors.KindMetadataCorrupt:
		return ExitFatalUnrecoverable
	default:
		return ExitStartupIOError
	}
}
