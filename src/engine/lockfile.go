package engine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// lockTag identifies the layout of the in-memory structures a process shares
// through a file. Processes with a different tag cannot open the file at the
// same time.
var lockTag = fmt.Sprintf("realmdb-lock v1 %s/%s int%d", runtime.GOOS, runtime.GOARCH, strconv.IntSize)

// lockFile is the "<path>.lock" companion of a realm file. It is held with a
// shared flock for as long as any connection in this process has the realm
// open.
type lockFile struct {
	file *os.File
	path string
}

func lockPath(realmPath string) string {
	return realmPath + ".lock"
}

// acquireLock opens (creating when allowed) the lock file for realmPath and
// checks that it was written by a compatible process. Read-only opens of a
// file without a lock file return a nil lock.
func acquireLock(realmPath string, readOnly bool) (*lockFile, error) {
	path := lockPath(realmPath)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil && readOnly {
		file, err = os.OpenFile(path, os.O_RDONLY, 0)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, fileError("open lock file", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_SH); err != nil {
		file.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	contents, err := io.ReadAll(file)
	if err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fileError("read lock file", path, err)
	}

	tag := strings.TrimSpace(string(contents))
	switch {
	case tag == "":
		// Readers that cannot write leave the tag for the first writer.
		if _, err := file.WriteAt([]byte(lockTag+"\n"), 0); err != nil && !readOnly {
			unix.Flock(int(file.Fd()), unix.LOCK_UN)
			file.Close()
			return nil, fileError("write lock file", path, err)
		}
	case tag != lockTag:
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("%w: %s was written by %q", ErrIncompatibleLockFile, path, tag)
	}

	return &lockFile{file: file, path: path}, nil
}

func (l *lockFile) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
