package realm

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmdb/src/engine"
)

func TestTranslate(t *testing.T) {
	pathErr := func(errno syscall.Errno) error {
		return &fs.PathError{Op: "open", Path: "/data/test.realm", Err: errno}
	}

	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"permission", fmt.Errorf("%w: open: %w", engine.ErrPermissionDenied, pathErr(syscall.EACCES)), FilePermissionDenied},
		{"lock file", fmt.Errorf("%w: written by other", engine.ErrIncompatibleLockFile), IncompatibleLockFile},
		{"exists", fmt.Errorf("%w: create: %w", engine.ErrFileExists, pathErr(syscall.EEXIST)), FileExists},
		{"missing", fmt.Errorf("%w: open: %w", engine.ErrFileAccess, pathErr(syscall.ENOENT)), FileAccessError},
		{"decryption", fmt.Errorf("/data/test.realm: %w", engine.ErrDecryption), FileAccessError},
		{"system", fmt.Errorf("write /data/test.realm: %w", pathErr(syscall.ENOSPC)), SystemError},
		{"configuration", engine.ErrIncompatibleConfiguration, ConfigurationConflict},
		{"migration required", engine.ErrMigrationRequired, SchemaMigrationFailure},
		{"version decreased", engine.ErrSchemaVersionDecreased, SchemaMigrationFailure},
		{"read-only", engine.ErrReadOnly, ReadOnlyViolation},
		{"write locked", fmt.Errorf("%w: /data/test.realm", engine.ErrWriteLocked), TransactionError},
		{"not writing", engine.ErrNotInWriteTransaction, TransactionError},
		{"invalid key", engine.ErrInvalidKey, InvalidArgument},
		{"version too large", fmt.Errorf("%w: 9223372036854775808", engine.ErrSchemaVersionTooLarge), InvalidArgument},
		{"unknown", errors.New("boom"), GenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate(tt.err, "/data/test.realm", false)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.ErrorIs(t, err, &Error{Kind: tt.kind})
			assert.ErrorIs(t, err, tt.err, "the cause stays reachable")

			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, "/data/test.realm", e.Path)
		})
	}

	assert.NoError(t, translate(nil, "/data/test.realm", false))
}

func TestTranslateDetails(t *testing.T) {
	denied := fmt.Errorf("%w: open", engine.ErrPermissionDenied)
	assert.Contains(t, translate(denied, "/x", false).Error(), "read-write permissions")
	assert.Contains(t, translate(denied, "/x", true).Error(), "has read permissions")

	var e *Error
	require.ErrorAs(t, translate(fmt.Errorf("write: %w", syscall.ENOSPC), "/x", false), &e)
	assert.Equal(t, int(syscall.ENOSPC), e.Code)

	assert.Contains(t, translate(errors.New("disk on fire"), "/x", false).Error(), "disk on fire")

	// Already translated errors pass through.
	orig := newError(ReadOnlyViolation, "/x", "nope")
	assert.Same(t, orig, translate(orig, "/y", false))
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("opening: %w", newError(ReadOnlyViolation, "/x", "Cannot modify a read-only realm"))

	assert.ErrorIs(t, err, ErrReadOnly)
	assert.NotErrorIs(t, err, ErrTransaction)
	assert.Equal(t, ReadOnlyViolation, KindOf(err))
	assert.Equal(t, GenericFailure, KindOf(errors.New("other")))
	assert.Equal(t, "read-only violation: Cannot modify a read-only realm", errors.Unwrap(err).Error())
	assert.Equal(t, "transaction error", ErrTransaction.Error())
}
