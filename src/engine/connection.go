package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"realmdb/src/helpers"
)

// Options describe how a connection opens a realm file.
type Options struct {
	// Path of the realm file. For in-memory realms it only identifies the
	// shared data.
	Path          string
	InMemory      bool
	EncryptionKey []byte
	ReadOnly      bool

	// Exclusive fails the open with ErrFileExists if the file already exists.
	Exclusive bool

	Journal            bool
	MaxJournalFileSize int64

	Logger *zap.SugaredLogger

	// Registry defaults to the process-wide registry.
	Registry *FileRegistry
}

// Connection is one handle's view of a realm file. A connection is not safe
// for concurrent use; distinct connections to the same file are.
type Connection struct {
	id       string
	opts     Options
	sf       *sharedFile
	registry *FileRegistry
	logger   *zap.SugaredLogger

	read *Group // pinned read snapshot, nil when none is held
	seen uint64 // commit version of the last snapshot pinned

	write *Group // working copy of the active write transaction

	closed bool
}

// Open connects to the realm file described by opts.
func Open(opts Options) (*Connection, error) {
	if len(opts.EncryptionKey) != 0 && len(opts.EncryptionKey) != helpers.KeySize {
		return nil, ErrInvalidKey
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: no path given", ErrFileAccess)
	}
	if !opts.InMemory {
		abs, err := filepath.Abs(opts.Path)
		if err != nil {
			return nil, fileError("resolve", opts.Path, err)
		}
		opts.Path = abs
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	registry := opts.Registry
	if registry == nil {
		registry = defaultRegistry
	}

	sf, err := registry.acquire(opts)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		id:       helpers.GenerateUUID(),
		opts:     opts,
		sf:       sf,
		registry: registry,
		logger:   opts.Logger,
	}
	c.pin()
	return c, nil
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) Path() string   { return c.opts.Path }
func (c *Connection) ReadOnly() bool { return c.opts.ReadOnly }
func (c *Connection) InMemory() bool { return c.opts.InMemory }

func (c *Connection) pin() *Group {
	if c.read == nil {
		c.read, c.seen = c.sf.snapshot()
	}
	return c.read
}

// Group returns the group reads should use: the write transaction's working
// copy, or the pinned read snapshot (pinning the latest one if none is held).
func (c *Connection) Group() *Group {
	if c.write != nil {
		return c.write
	}
	return c.pin()
}

// SchemaVersion returns the schema version of the current view.
func (c *Connection) SchemaVersion() uint64 {
	return c.Group().SchemaVersion()
}

// Version returns the commit version of the last snapshot this connection saw.
func (c *Connection) Version() uint64 {
	return c.seen
}

func (c *Connection) InWriteTransaction() bool {
	return c.write != nil
}

// BeginWrite starts a write transaction on top of the latest commit.
func (c *Connection) BeginWrite() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.opts.ReadOnly:
		return ErrReadOnly
	case c.write != nil:
		return ErrAlreadyInWriteTransaction
	}
	if !c.sf.writeMu.TryLock() {
		return fmt.Errorf("%w: %s", ErrWriteLocked, c.opts.Path)
	}

	c.read, c.seen = c.sf.snapshot()
	c.write = c.read.beginWrite()
	return nil
}

// CommitWrite makes the write transaction durable and visible to other
// connections. The transaction is over whether or not it succeeds.
func (c *Connection) CommitWrite() error {
	return c.commit(JournalCommit, "")
}

func (c *Connection) commit(command, details string) error {
	if c.write == nil {
		return ErrNotInWriteTransaction
	}
	g := c.write.seal()
	c.write = nil
	defer c.sf.writeMu.Unlock()

	if !c.opts.InMemory {
		if err := writeGroup(c.opts.Path, g, c.sf.key); err != nil {
			c.logger.Errorw("Failed to write realm file", "path", c.opts.Path, "error", err)
			return err
		}
	}

	version, listeners := c.sf.publish(g, c.id)
	c.read, c.seen = g, version

	if c.sf.journal != nil {
		if err := c.sf.journal.AddEntry(command, version, details); err != nil {
			c.logger.Warnw("Failed to journal commit", "path", c.opts.Path, "error", err)
		}
	}

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// CancelWrite discards the write transaction. It is a no-op outside one.
func (c *Connection) CancelWrite() {
	if c.write == nil {
		return
	}
	c.write = nil
	c.sf.writeMu.Unlock()
}

// Invalidate ends the current read snapshot, cancelling any write.
func (c *Connection) Invalidate() {
	c.CancelWrite()
	c.read = nil
}

// Refresh advances to the latest commit. It reports whether the view changed.
// Refresh never changes the view during a write transaction.
func (c *Connection) Refresh() bool {
	if c.write != nil {
		return false
	}
	latest, version := c.sf.snapshot()
	if version == c.seen && c.read != nil {
		return false
	}
	changed := version != c.seen
	c.read, c.seen = latest, version
	return changed
}

// HasPendingChanges reports whether a commit newer than the current view exists.
func (c *Connection) HasPendingChanges() bool {
	_, version := c.sf.snapshot()
	return version != c.seen
}

// SetChangeListener registers fn to be called, on the committing goroutine,
// after any other connection to the same file commits. nil removes it.
func (c *Connection) SetChangeListener(fn func()) {
	c.sf.setListener(c.id, fn)
}

// Compact rewrites the file from the latest snapshot. It returns false
// without doing anything if other connections have the file open or a
// write transaction is active.
func (c *Connection) Compact() (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if c.opts.ReadOnly {
		return false, ErrReadOnly
	}
	if c.write != nil || c.registry.OpenCount(c.opts.Path) > 1 {
		return false, nil
	}
	if c.opts.InMemory {
		return true, nil
	}
	if !c.sf.writeMu.TryLock() {
		return false, nil
	}
	defer c.sf.writeMu.Unlock()

	latest, version := c.sf.snapshot()
	if err := writeGroup(c.opts.Path, latest, c.sf.key); err != nil {
		return false, err
	}
	if c.sf.journal != nil {
		if err := c.sf.journal.AddEntry(JournalCompact, version, ""); err != nil {
			c.logger.Warnw("Failed to journal compaction", "path", c.opts.Path, "error", err)
		}
	}
	c.logger.Infow("Compacted realm file", "path", c.opts.Path)
	return true, nil
}

// WriteCopy writes the current view to a new file at path, encrypted with
// key when one is given. The file must not exist.
func (c *Connection) WriteCopy(path string, key []byte) error {
	if c.closed {
		return ErrClosed
	}
	if len(key) != 0 && len(key) != helpers.KeySize {
		return ErrInvalidKey
	}
	data, err := encodeGroup(c.Group(), key)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fileError("create", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return fileError("write", path, err)
	}
	if err := multierr.Append(file.Sync(), file.Close()); err != nil {
		os.Remove(path)
		return fileError("write", path, err)
	}
	c.logger.Infow("Wrote realm copy", "from", c.opts.Path, "to", path, "encrypted", len(key) > 0)
	return nil
}

// Close cancels any write transaction and releases the file.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.CancelWrite()
	c.SetChangeListener(nil)
	c.closed = true
	c.read = nil
	return c.registry.release(c.sf)
}

// SchemaVersionAtPath reads the schema version of a realm file without
// opening a connection. Files open in this process report their latest
// committed version.
func SchemaVersionAtPath(path string, key []byte) (uint64, error) {
	return defaultRegistry.SchemaVersionAtPath(path, key)
}

func (fr *FileRegistry) SchemaVersionAtPath(path string, key []byte) (uint64, error) {
	if len(key) != 0 && len(key) != helpers.KeySize {
		return 0, ErrInvalidKey
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fileError("resolve", path, err)
	}
	if sf, ok := fr.lookup(abs); ok && !sf.inMemory {
		latest, _ := sf.snapshot()
		return latest.SchemaVersion(), nil
	}
	g, err := loadGroup(abs, key)
	if err != nil {
		return 0, err
	}
	return g.SchemaVersion(), nil
}
