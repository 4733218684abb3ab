package exitcode_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nais/hostops/pkg/exitcode"
	"github.com/stretchr/testify/assert"
)

func TestErrorExitCode(t *testing.T) {
	assert.Equal(t, exitcode.Success, exitcode.ErrorExitCode(nil))
	assert.Equal(t, exitcode.InternalError, exitcode.ErrorExitCode(errors.New("plain")))
	assert.Equal(t, exitcode.UploadFailed, exitcode.ErrorExitCode(exitcode.Errorf(exitcode.UploadFailed, "upload: %s", "boom")))
}

func TestWrappedErrorKeepsCode(t *testing.T) {
	sentinel := errors.New("snapshot not found")
	err := fmt.Errorf("restore: %w", exitcode.ErrorWrap(exitcode.SnapshotNotFound, sentinel))

	assert.Equal(t, exitcode.SnapshotNotFound, exitcode.ErrorExitCode(err))
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "restore: snapshot not found", err.Error())
}
