package realm

import (
	"errors"
	"fmt"
	"syscall"

	"realmdb/src/engine"
)

// ErrorKind is the closed set of failures a Realm reports.
type ErrorKind int

const (
	GenericFailure ErrorKind = iota
	ConfigurationConflict
	FilePermissionDenied
	IncompatibleLockFile
	FileExists
	FileAccessError
	SystemError
	SchemaMigrationFailure
	ReadOnlyViolation
	InvalidArgument
	ThreadConfinementViolation
	TransactionError
)

func (k ErrorKind) String() string {
	switch k {
	case GenericFailure:
		return "generic failure"
	case ConfigurationConflict:
		return "configuration conflict"
	case FilePermissionDenied:
		return "file permission denied"
	case IncompatibleLockFile:
		return "incompatible lock file"
	case FileExists:
		return "file exists"
	case FileAccessError:
		return "file access error"
	case SystemError:
		return "system error"
	case SchemaMigrationFailure:
		return "schema migration failure"
	case ReadOnlyViolation:
		return "read-only violation"
	case InvalidArgument:
		return "invalid argument"
	case ThreadConfinementViolation:
		return "thread confinement violation"
	case TransactionError:
		return "transaction error"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the error type of every failure returned by this package.
type Error struct {
	Kind ErrorKind
	// Path of the realm file involved, if any.
	Path    string
	Message string
	// Code is the OS error code of a SystemError.
	Code int
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrReadOnly)
// works for every ReadOnlyViolation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConfigurationConflict      = &Error{Kind: ConfigurationConflict}
	ErrFilePermissionDenied       = &Error{Kind: FilePermissionDenied}
	ErrIncompatibleLockFile       = &Error{Kind: IncompatibleLockFile}
	ErrFileExists                 = &Error{Kind: FileExists}
	ErrFileAccess                 = &Error{Kind: FileAccessError}
	ErrSystem                     = &Error{Kind: SystemError}
	ErrSchemaMigration            = &Error{Kind: SchemaMigrationFailure}
	ErrReadOnly                   = &Error{Kind: ReadOnlyViolation}
	ErrInvalidArgument            = &Error{Kind: InvalidArgument}
	ErrThreadConfinementViolation = &Error{Kind: ThreadConfinementViolation}
	ErrTransaction                = &Error{Kind: TransactionError}
	ErrGeneric                    = &Error{Kind: GenericFailure}
)

// KindOf returns the kind of err. Errors that did not come from this package
// are GenericFailure.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return GenericFailure
}

func newError(kind ErrorKind, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

// translate maps an engine error for the realm at path onto an *Error.
func translate(err error, path string, readOnly bool) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	out := &Error{Kind: GenericFailure, Path: path, Message: err.Error(), Err: err}
	var errno syscall.Errno
	switch {
	case errors.Is(err, engine.ErrPermissionDenied):
		mode := "read-write"
		if readOnly {
			mode = "read"
		}
		out.Kind = FilePermissionDenied
		out.Message = fmt.Sprintf("Unable to open a realm at path '%s'. Please use a path where your app has %s permissions.", path, mode)
	case errors.Is(err, engine.ErrIncompatibleLockFile):
		out.Kind = IncompatibleLockFile
	case errors.Is(err, engine.ErrFileExists):
		out.Kind = FileExists
	case errors.Is(err, engine.ErrFileAccess):
		out.Kind = FileAccessError
	case errors.Is(err, engine.ErrIncompatibleConfiguration):
		out.Kind = ConfigurationConflict
	case errors.Is(err, engine.ErrMigrationRequired), errors.Is(err, engine.ErrSchemaVersionDecreased):
		out.Kind = SchemaMigrationFailure
	case errors.Is(err, engine.ErrReadOnly):
		out.Kind = ReadOnlyViolation
	case errors.Is(err, engine.ErrWriteLocked),
		errors.Is(err, engine.ErrNotInWriteTransaction),
		errors.Is(err, engine.ErrAlreadyInWriteTransaction):
		out.Kind = TransactionError
	case errors.Is(err, engine.ErrInvalidKey),
		errors.Is(err, engine.ErrInvalidSchema),
		errors.Is(err, engine.ErrNoSuchTable),
		errors.Is(err, engine.ErrNoSuchObject),
		errors.Is(err, engine.ErrNoSuchColumn),
		errors.Is(err, engine.ErrSchemaVersionTooLarge):
		out.Kind = InvalidArgument
	case errors.As(err, &errno):
		out.Kind = SystemError
		out.Code = int(errno)
	}
	return out
}
