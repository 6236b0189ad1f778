package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

/*

This is exclusively for sharing one realm file between the connections of
this process. Every path has at most one sharedFile, reference counted by the
connections using it. The sharedFile owns the latest committed snapshot, the
single writer slot, the lock file and the journal.

*/

type sharedFile struct {
	path     string
	inMemory bool
	key      []byte
	refCount int

	// writer slot; held for the whole of a write transaction
	writeMu sync.Mutex

	mu        sync.Mutex
	latest    *Group
	version   uint64 // commit counter, bumped by every publish
	listeners map[string]func()

	lock    *lockFile
	journal *Journal
}

// snapshot returns the latest committed group and its commit version.
func (sf *sharedFile) snapshot() (*Group, uint64) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.latest, sf.version
}

// publish makes g the latest snapshot and returns the listeners of every
// connection other than from.
func (sf *sharedFile) publish(g *Group, from string) (uint64, []func()) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.latest = g
	sf.version++

	var notify []func()
	for id, fn := range sf.listeners {
		if id != from {
			notify = append(notify, fn)
		}
	}
	return sf.version, notify
}

func (sf *sharedFile) setListener(id string, fn func()) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if fn == nil {
		delete(sf.listeners, id)
		return
	}
	sf.listeners[id] = fn
}

// FileRegistry tracks the realm files open in this process.
type FileRegistry struct {
	mu     sync.Mutex
	files  map[string]*sharedFile
	logger *zap.SugaredLogger
}

// NewFileRegistry creates an empty registry.
func NewFileRegistry(logger *zap.SugaredLogger) *FileRegistry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileRegistry{
		files:  make(map[string]*sharedFile),
		logger: logger,
	}
}

var defaultRegistry = NewFileRegistry(nil)

// acquire returns the sharedFile for opts.Path, opening and loading it on
// first use.
func (fr *FileRegistry) acquire(opts Options) (*sharedFile, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if sf, exists := fr.files[opts.Path]; exists {
		if sf.inMemory != opts.InMemory {
			return nil, fmt.Errorf("%w: %s (in-memory %v, requested %v)", ErrIncompatibleConfiguration, opts.Path, sf.inMemory, opts.InMemory)
		}
		if !bytes.Equal(sf.key, opts.EncryptionKey) {
			return nil, fmt.Errorf("%w: %s is open with a different encryption key", ErrIncompatibleConfiguration, opts.Path)
		}
		sf.refCount++
		return sf, nil
	}

	sf := &sharedFile{
		path:      opts.Path,
		inMemory:  opts.InMemory,
		key:       append([]byte(nil), opts.EncryptionKey...),
		refCount:  1,
		listeners: make(map[string]func()),
	}

	if opts.InMemory {
		sf.latest = newGroup()
		fr.files[opts.Path] = sf
		return sf, nil
	}

	if opts.ReadOnly {
		exists, err := fileExists(opts.Path)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s does not exist and cannot be created read-only", ErrFileAccess, opts.Path)
		}
	}

	lock, err := acquireLock(opts.Path, opts.ReadOnly)
	if err != nil {
		return nil, err
	}
	sf.lock = lock

	g, err := fr.load(opts)
	if err != nil {
		lock.release()
		return nil, err
	}
	sf.latest = g

	if opts.Journal && !opts.ReadOnly {
		journal, err := NewJournal(journalPath(opts.Path), opts.MaxJournalFileSize)
		if err != nil {
			lock.release()
			return nil, fileError("open journal", journalPath(opts.Path), err)
		}
		sf.journal = journal
	}

	fr.files[opts.Path] = sf
	fr.logger.Debugw("Opened realm file", "path", opts.Path, "schemaVersion", g.SchemaVersion())
	return sf, nil
}

// load reads an existing file or creates a new empty one.
func (fr *FileRegistry) load(opts Options) (*Group, error) {
	exists, err := fileExists(opts.Path)
	if err != nil {
		return nil, err
	}

	switch {
	case exists && opts.Exclusive:
		return nil, fmt.Errorf("%w: %s", ErrFileExists, opts.Path)
	case exists:
		return loadGroup(opts.Path, opts.EncryptionKey)
	}

	g := newGroup()
	if err := writeGroup(opts.Path, g, opts.EncryptionKey); err != nil {
		return nil, err
	}
	fr.logger.Infow("Created realm file", "path", opts.Path, "encrypted", len(opts.EncryptionKey) > 0)
	return g, nil
}

// release drops one reference; the last one closes the lock file and journal
// and, for in-memory realms, discards the data.
func (fr *FileRegistry) release(sf *sharedFile) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	sf.refCount--
	if sf.refCount > 0 {
		return nil
	}
	delete(fr.files, sf.path)

	var err error
	if sf.journal != nil {
		err = multierr.Append(err, sf.journal.Close())
	}
	err = multierr.Append(err, sf.lock.release())
	fr.logger.Debugw("Closed realm file", "path", sf.path)
	return err
}

// lookup returns the open sharedFile for path without taking a reference.
func (fr *FileRegistry) lookup(path string) (*sharedFile, bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	sf, ok := fr.files[path]
	return sf, ok
}

// OpenCount returns how many connections in this process have path open.
func (fr *FileRegistry) OpenCount(path string) int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if sf, ok := fr.files[path]; ok {
		return sf.refCount
	}
	return 0
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return false, fileError("open", path, &fs.PathError{Op: "open", Path: path, Err: syscall.EISDIR})
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, fileError("stat", path, err)
}
