package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// File-level failures. Errors returned by Open, CommitWrite, WriteCopy and
// SchemaVersionAtPath wrap one of these together with the underlying os error.
var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrIncompatibleLockFile = errors.New("realm file is currently open in another process which cannot share access with this process")
	ErrFileExists           = errors.New("file already exists")
	ErrFileAccess           = errors.New("unable to access realm file")
	ErrDecryption           = fmt.Errorf("%w: decryption failed or the file is not a realm", ErrFileAccess)
)

// Transaction and configuration failures.
var (
	ErrReadOnly                  = errors.New("realm is read-only")
	ErrWriteLocked               = errors.New("another write transaction is in progress on this file")
	ErrNotInWriteTransaction     = errors.New("not in a write transaction")
	ErrAlreadyInWriteTransaction = errors.New("already in a write transaction")
	ErrIncompatibleConfiguration = errors.New("file is already open with a different configuration")
	ErrClosed                    = errors.New("connection is closed")
	ErrInvalidKey                = errors.New("encryption key must be 64 bytes")
)

// Schema failures.
var (
	ErrMigrationRequired      = errors.New("migration is required")
	ErrSchemaVersionDecreased = errors.New("schema version is less than the last set version")
	ErrInvalidSchema          = errors.New("invalid schema")
	ErrNoSuchTable            = errors.New("no such table")
	ErrNoSuchObject           = errors.New("no such object")
	ErrNoSuchColumn           = errors.New("no such column")
	ErrSchemaVersionTooLarge  = errors.New("schema version is too large")
)

// fileError classifies an os error from opening or creating path.
func fileError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s %s: %w", ErrPermissionDenied, op, path, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s %s: %w", ErrFileExists, op, path, err)
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && !isFileErrno(errno) {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrFileAccess, op, path, err)
}

// isFileErrno reports whether errno describes a problem with the path itself
// rather than the system.
func isFileErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.ENOENT, syscall.ENOTDIR, syscall.EISDIR, syscall.ENAMETOOLONG, syscall.ELOOP, syscall.EROFS:
		return true
	}
	return false
}
