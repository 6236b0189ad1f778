package realm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"realmdb/src/engine"
	"realmdb/src/schema"
	"realmdb/src/settings"
)

// AccessorGenerator is called with the aligned schema of every non-dynamic
// realm opened through a Cache.
type AccessorGenerator func(s *schema.Schema)

// Cache hands out Realm handles. Opens of the same path from the same thread
// share one handle, and the first open of a path in the process performs any
// schema update.
type Cache struct {
	// openMu serializes the open protocol across threads.
	openMu sync.Mutex

	mu        sync.Mutex
	perThread map[uuid.UUID]map[string]*Realm
	live      map[string]map[*Realm]struct{}
	accessors AccessorGenerator

	logger *zap.SugaredLogger
}

// NewCache creates an empty cache.
func NewCache(logger *zap.SugaredLogger) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{
		perThread: make(map[uuid.UUID]map[string]*Realm),
		live:      make(map[string]map[*Realm]struct{}),
		logger:    logger,
	}
}

// SetAccessorGenerator installs the accessor generation hook.
func (c *Cache) SetAccessorGenerator(fn AccessorGenerator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessors = fn
}

// Open returns a handle for cfg, confined to the thread carried by ctx.
func (c *Cache) Open(ctx context.Context, cfg Config) (*Realm, error) {
	thread := ThreadFrom(ctx)
	cfg, path, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	useCache := !cfg.DisableCache || cfg.Dynamic
	if useCache {
		if r, err := c.cached(thread, cfg, path); r != nil || err != nil {
			return r, err
		}
	}

	c.openMu.Lock()
	defer c.openMu.Unlock()

	if useCache {
		if r, err := c.cached(thread, cfg, path); r != nil || err != nil {
			return r, err
		}
	}

	r, err := c.open(ctx, thread, cfg, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if useCache {
		byPath, ok := c.perThread[thread.id]
		if !ok {
			byPath = make(map[string]*Realm)
			c.perThread[thread.id] = byPath
		}
		byPath[path] = r
	}
	if c.live[path] == nil {
		c.live[path] = make(map[*Realm]struct{})
	}
	c.live[path][r] = struct{}{}
	c.mu.Unlock()

	if !cfg.ReadOnly {
		r.conn.Invalidate()
		r.conn.SetChangeListener(r.externalCommit)
	}
	c.logger.Debugw("Opened realm", "path", path, "thread", thread.String(), "dynamic", cfg.Dynamic, "readOnly", cfg.ReadOnly)
	return r, nil
}

// MustOpen is Open for callers with no use for the error: it panics with it.
func (c *Cache) MustOpen(ctx context.Context, cfg Config) *Realm {
	r, err := c.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}
	return r
}

// OpenDefault opens the realm at DefaultPath with its on-disk schema and
// version, creating its directory if needed.
func (c *Cache) OpenDefault(ctx context.Context) (*Realm, error) {
	dir := filepath.Dir(DefaultPath())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &Error{Kind: FileAccessError, Path: dir, Message: err.Error(), Err: err}
	}
	return c.Open(ctx, Config{})
}

// OpenPath opens the realm at path with its on-disk schema and version.
func (c *Cache) OpenPath(ctx context.Context, path string) (*Realm, error) {
	return c.Open(ctx, Config{Path: path})
}

// cached returns this thread's handle for path, retained, if there is one.
func (c *Cache) cached(thread *Thread, cfg Config, path string) (*Realm, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.perThread[thread.id][path]
	if r == nil {
		return nil, nil
	}
	if !r.config.compatible(cfg) {
		return nil, newError(ConfigurationConflict, path,
			"Realm at path '%s' already opened with different read permissions, in-memory, dynamic or encryption key settings", path)
	}
	r.refCount++
	return r, nil
}

// open runs the open protocol for a handle that is not cached. openMu is held.
func (c *Cache) open(ctx context.Context, thread *Thread, cfg Config, path string) (*Realm, error) {
	s := settings.GetSettings()
	conn, err := engine.Open(engine.Options{
		Path:               path,
		InMemory:           cfg.InMemory(),
		EncryptionKey:      cfg.EncryptionKey,
		ReadOnly:           cfg.ReadOnly,
		Journal:            s.JournalCommits && !cfg.InMemory(),
		MaxJournalFileSize: s.MaxJournalFileSize,
		Logger:             c.logger,
	})
	if err != nil {
		return nil, translate(err, path, cfg.ReadOnly)
	}

	opened := false
	defer func() {
		if !opened {
			conn.Close()
		}
	}()

	r := newRealm(c, thread, cfg, path, conn, c.logger)
	if err := c.resolveSchema(ctx, r); err != nil {
		return nil, err
	}

	if !cfg.Dynamic {
		c.mu.Lock()
		generate := c.accessors
		c.mu.Unlock()
		if generate != nil {
			generate(r.schema)
		}
	}
	opened = true
	return r, nil
}

// resolveSchema gives r its aligned schema, updating the file when r is the
// first handle for its path.
func (c *Cache) resolveSchema(ctx context.Context, r *Realm) error {
	cfg := r.config
	if cfg.Dynamic {
		r.schema = r.conn.Group().DynamicSchema()
		return nil
	}

	version := cfg.SchemaVersion
	if cfg.Schema == nil && version == 0 {
		if stored := r.conn.SchemaVersion(); stored != schema.NotVersioned {
			version = stored
		}
	}

	if donor := c.schemaDonor(r.path); donor != nil {
		if stored := r.conn.SchemaVersion(); stored != version {
			return newError(SchemaMigrationFailure, r.path,
				"Realm at path '%s' is already open with schema version %d, requested %d", r.path, stored, version)
		}
		s := donor.Clone()
		if err := alignToGroup(s, r.conn.Group()); err != nil {
			return &Error{Kind: SchemaMigrationFailure, Path: r.path, Message: err.Error(), Err: err}
		}
		r.schema = s
		return nil
	}

	target := cfg.Schema
	if target == nil {
		target = r.conn.Group().DynamicSchema()
	}
	if r.conn.NeedsSchemaUpdate(target, version) {
		if cfg.ReadOnly {
			return newError(SchemaMigrationFailure, r.path,
				"Read-only realm at path '%s' needs a schema update to version %d", r.path, version)
		}
		cfg.SchemaVersion = version
		if err := c.updateSchema(ctx, r.conn, r.thread, cfg, r.path, target); err != nil {
			return err
		}
	}
	if err := alignToGroup(target, r.conn.Group()); err != nil {
		return &Error{Kind: SchemaMigrationFailure, Path: r.path, Message: err.Error(), Err: err}
	}
	r.schema = target
	return nil
}

// schemaDonor returns the schema of a live non-dynamic handle for path.
func (c *Cache) schemaDonor(path string) *schema.Schema {
	c.mu.Lock()
	defer c.mu.Unlock()
	for r := range c.live[path] {
		if !r.config.Dynamic && !r.closed {
			return r.schema
		}
	}
	return nil
}

// updateSchema runs the schema update, and the migration routine when the
// file moves to a new version, in one write transaction on conn.
func (c *Cache) updateSchema(ctx context.Context, conn *engine.Connection, thread *Thread, cfg Config, path string, target *schema.Schema) error {
	var userErr error
	var migrate engine.MigrationCallback
	if cfg.Migration != nil {
		migrate = func(before, after *engine.Group) error {
			m, err := newMigration(c, thread, cfg, path, before, after, target)
			if err != nil {
				return err
			}
			defer m.detach()
			userErr = cfg.Migration(ctx, m, m.oldVersion)
			return userErr
		}
	}

	err := conn.UpdateSchema(target, cfg.SchemaVersion, migrate)
	switch {
	case err == nil:
		return nil
	case userErr != nil && errors.Is(err, userErr):
		return &Error{Kind: SchemaMigrationFailure, Path: path, Message: "Migration failed: " + userErr.Error(), Err: userErr}
	}
	return translate(err, path, cfg.ReadOnly)
}

func alignToGroup(s *schema.Schema, g *engine.Group) error {
	return schema.AlignSchema(s, func(className string) ([]schema.Column, bool) {
		t := g.Table(engine.TableNameForClass(className))
		if t == nil {
			return nil, false
		}
		return t.Columns(), true
	})
}

// release drops one reference to r and reports whether it was the last.
func (c *Cache) release(r *Realm) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.refCount <= 0 {
		return false
	}
	r.refCount--
	if r.refCount > 0 {
		return false
	}
	c.forget(r)
	return true
}

// forget removes r from the cache and the live set. mu is held.
func (c *Cache) forget(r *Realm) {
	if byPath := c.perThread[r.thread.id]; byPath[r.path] == r {
		delete(byPath, r.path)
		if len(byPath) == 0 {
			delete(c.perThread, r.thread.id)
		}
	}
	if set := c.live[r.path]; set != nil {
		delete(set, r)
		if len(set) == 0 {
			delete(c.live, r.path)
		}
	}
}

// Migrate runs the schema update for cfg without keeping a handle open. It
// fails if the realm is open anywhere in the process.
func (c *Cache) Migrate(ctx context.Context, cfg Config) error {
	thread := ThreadFrom(ctx)
	cfg, path, err := cfg.resolve()
	if err != nil {
		return err
	}

	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	open := len(c.live[path]) > 0
	c.mu.Unlock()
	if open {
		return newError(SchemaMigrationFailure, path, "Cannot migrate realm at path '%s': it is already open", path)
	}
	if cfg.Dynamic || cfg.Schema == nil {
		return nil
	}

	conn, err := engine.Open(engine.Options{
		Path:          path,
		InMemory:      cfg.InMemory(),
		EncryptionKey: cfg.EncryptionKey,
		ReadOnly:      cfg.ReadOnly,
		Logger:        c.logger,
	})
	if err != nil {
		return translate(err, path, cfg.ReadOnly)
	}
	defer conn.Close()

	if !conn.NeedsSchemaUpdate(cfg.Schema, cfg.SchemaVersion) {
		return nil
	}
	if cfg.ReadOnly {
		return newError(SchemaMigrationFailure, path, "Read-only realm at path '%s' cannot be migrated", path)
	}
	return c.updateSchema(ctx, conn, thread, cfg, path, cfg.Schema)
}

// SchemaVersionAtPath returns the schema version stored in the realm file at
// path, schema.NotVersioned if it was never set.
func (c *Cache) SchemaVersionAtPath(path string, key []byte) (uint64, error) {
	key, err := validateKey(key)
	if err != nil {
		return 0, err
	}
	version, err := engine.SchemaVersionAtPath(path, key)
	if err != nil {
		return 0, translate(err, path, true)
	}
	return version, nil
}

// Reset closes every handle the cache knows of and forgets them, leaving the
// cache as NewCache returned it.
func (c *Cache) Reset() {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	var realms []*Realm
	for _, set := range c.live {
		for r := range set {
			realms = append(realms, r)
		}
	}
	for _, r := range realms {
		r.refCount = 0
	}
	c.perThread = make(map[uuid.UUID]map[string]*Realm)
	c.live = make(map[string]map[*Realm]struct{})
	c.mu.Unlock()

	for _, r := range realms {
		if err := r.destroy(); err != nil {
			c.logger.Warnw("Failed to close realm during reset", "path", r.path, "error", err)
		}
	}
	if len(realms) > 0 {
		c.logger.Infow("Reset realm cache", "closed", len(realms))
	}
}
