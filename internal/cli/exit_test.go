package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rsguard/rs_guard/internal/rserrors"
)

func TestExitCodeMapsConfigError(t *testing.T) {
	err := rserrors.New(rserrors.KindConfig, "config.validate", errors.New("boom"))
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestExitCodeMapsMetadataCorruptToFatal(t *testing.T) {
	err := rserrors.New(rserrors.KindMetadataCorrupt, "bootstrap.metadata", errors.New("boom"))
	assert.Equal(t, ExitFatalUnrecoverable, ExitCode(err))
}

func TestExitCodeMapsIOErrorToStartupFailure(t *testing.T) {
	err := rserrors.New(rserrors.KindIO, "bootstrap.shardstore", errors.New("boom"))
	assert.Equal(t, ExitStartupIOError, ExitCode(err))
}

func TestExitCodeNilIsOK(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
}

func TestExitCodeUnknownErrorIsStartupFailure(t *testing.T) {
	assert.Equal(t, ExitStartupIOError, ExitCode(errors.New("plain")))
}
