package realm

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"realmdb/src/engine"
	"realmdb/src/schema"
)

// Realm is a handle onto one realm, confined to the thread that opened it.
//
// Handles returned by a Cache for the same path and thread are the same
// *Realm; each Open must be paired with a Close, and the last Close releases
// the engine connection.
type Realm struct {
	cache  *Cache
	config Config
	path   string
	thread *Thread
	logger *zap.SugaredLogger

	conn *engine.Connection

	// view is the fixed group of a migration realm; nil otherwise.
	view     *engine.Group
	detached bool

	schema *schema.Schema

	refCount int // guarded by cache.mu
	closed   bool

	// generation is bumped by Invalidate; objects from an older generation
	// are invalid.
	generation uint64

	nextID      uint64
	tokens      map[uint64]*NotificationToken
	enumerators map[uint64]*Enumerator
	observers   map[uint64]InvalidationObserver

	autorefresh bool
	// pending is set from the committing goroutine of another connection.
	pending atomic.Bool
}

func newRealm(cache *Cache, thread *Thread, cfg Config, path string, conn *engine.Connection, logger *zap.SugaredLogger) *Realm {
	return &Realm{
		cache:       cache,
		config:      cfg,
		path:        path,
		thread:      thread,
		logger:      logger,
		conn:        conn,
		refCount:    1,
		tokens:      make(map[uint64]*NotificationToken),
		enumerators: make(map[uint64]*Enumerator),
		observers:   make(map[uint64]InvalidationObserver),
		autorefresh: true,
	}
}

// Config returns a copy of the configuration the realm was opened with.
func (r *Realm) Config() Config {
	cfg := r.config
	cfg.EncryptionKey = append([]byte(nil), r.config.EncryptionKey...)
	if len(cfg.EncryptionKey) == 0 {
		cfg.EncryptionKey = nil
	}
	return cfg
}

// Path is the canonical path identifying the realm.
func (r *Realm) Path() string    { return r.path }
func (r *Realm) Thread() *Thread { return r.thread }
func (r *Realm) ReadOnly() bool  { return r.config.ReadOnly }
func (r *Realm) IsDynamic() bool { return r.config.Dynamic }
func (r *Realm) IsClosed() bool  { return r.closed }

// Schema returns the aligned schema of the realm. It must not be modified.
func (r *Realm) Schema() *schema.Schema { return r.schema }

// SchemaVersion returns the schema version of the realm's current view.
func (r *Realm) SchemaVersion() (uint64, error) {
	g, err := r.group()
	if err != nil {
		return 0, err
	}
	return g.SchemaVersion(), nil
}

func (r *Realm) verifyThread(ctx context.Context) {
	if t := ThreadFrom(ctx); t.id != r.thread.id {
		panic(&Error{
			Kind:    ThreadConfinementViolation,
			Path:    r.path,
			Message: fmt.Sprintf("Realm accessed from %s but it is confined to %s", t, r.thread),
		})
	}
}

// usable fails for closed realms and detached migration realms.
func (r *Realm) usable() error {
	switch {
	case r.detached:
		return newError(InvalidArgument, r.path, "Realm was detached after migration")
	case r.closed:
		return newError(InvalidArgument, r.path, "Realm has been closed")
	}
	return nil
}

func (r *Realm) isMigrationRealm() bool {
	return r.view != nil || r.detached
}

// group returns the engine group reads and writes go through.
func (r *Realm) group() (*engine.Group, error) {
	if err := r.usable(); err != nil {
		return nil, err
	}
	if r.view != nil {
		return r.view, nil
	}
	return r.conn.Group(), nil
}

// InWriteTransaction reports whether the realm is in a write transaction.
// Migration realms over the new schema are always writing.
func (r *Realm) InWriteTransaction() bool {
	switch {
	case r.detached || r.closed:
		return false
	case r.view != nil:
		return r.view.Writable()
	}
	return r.conn.InWriteTransaction()
}

func (r *Realm) translate(err error) error {
	return translate(err, r.path, r.config.ReadOnly)
}

// Close releases this reference to the realm. The last Close rolls back an
// active write transaction, reports notification tokens that were never
// stopped and closes the engine connection.
func (r *Realm) Close() error {
	if r.isMigrationRealm() {
		return nil
	}
	if !r.cache.release(r) {
		return nil
	}
	return r.destroy()
}

func (r *Realm) destroy() error {
	if r.closed {
		return nil
	}

	if r.conn.InWriteTransaction() {
		r.logger.Errorw("Realm closed during a write transaction; rolling the transaction back",
			"path", r.path, "thread", r.thread.String())
		r.conn.CancelWrite()
	}
	for _, id := range sortedIDs(r.tokens) {
		token := r.tokens[id]
		r.logger.Warnw("Notification token was not stopped before its realm was closed",
			"path", r.path, "token", id)
		token.clear()
	}
	r.tokens = make(map[uint64]*NotificationToken)
	r.detachEnumerators(r.conn.Group())

	r.closed = true
	if err := r.conn.Close(); err != nil {
		return r.translate(err)
	}
	r.logger.Debugw("Closed realm", "path", r.path, "thread", r.thread.String())
	return nil
}

// Compact rewrites the realm file. It returns false without doing anything
// if the file is open elsewhere or a write transaction is active.
func (r *Realm) Compact(ctx context.Context) (bool, error) {
	r.verifyThread(ctx)
	if err := r.usable(); err != nil {
		return false, err
	}
	if r.isMigrationRealm() {
		return false, nil
	}
	if r.config.ReadOnly {
		return false, newError(ReadOnlyViolation, r.path, "Cannot compact a read-only realm")
	}
	ok, err := r.conn.Compact()
	return ok, r.translate(err)
}

// WriteCopy writes the realm's current view to a new file at path, encrypted
// with key when one is given.
func (r *Realm) WriteCopy(ctx context.Context, path string, key []byte) error {
	r.verifyThread(ctx)
	if err := r.usable(); err != nil {
		return err
	}
	if r.isMigrationRealm() {
		return newError(InvalidArgument, r.path, "Cannot copy a migration realm")
	}
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	if err := r.conn.WriteCopy(path, key); err != nil {
		return translate(err, path, false)
	}
	return nil
}
