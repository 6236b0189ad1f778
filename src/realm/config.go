package realm

import (
	"bytes"
	"os"
	"path/filepath"

	"realmdb/src/schema"
	"realmdb/src/settings"
)

const inMemoryDir = "realmdb-inmemory"

// Config describes how to open a realm.
type Config struct {
	// Path of the realm file. Path and InMemoryIdentifier are mutually
	// exclusive; with neither set the default path is used.
	Path string
	// InMemoryIdentifier names a realm that is never written to disk. Its
	// data lives for as long as any handle to it is open.
	InMemoryIdentifier string

	// EncryptionKey is either empty or exactly 64 bytes.
	EncryptionKey []byte

	ReadOnly bool
	// Dynamic opens the realm with the schema found on disk, without
	// generating accessors or updating the schema.
	Dynamic bool

	// SchemaVersion must not exceed schema.MaxVersion. With a nil Schema, 0
	// means the version already on disk.
	SchemaVersion uint64
	// Schema is the target schema. Nil means the schema already on disk.
	Schema    *schema.Schema
	Migration MigrationFunc

	// DisableCache opens a handle that is not shared with later opens of the
	// same path.
	DisableCache bool
}

// DefaultPath is where OpenDefault stores its realm.
func DefaultPath() string {
	return filepath.Join(settings.GetSettings().DataDir, "default.realm")
}

func (c Config) InMemory() bool {
	return c.InMemoryIdentifier != ""
}

// resolvePath returns the canonical path identifying the realm. In-memory
// realms are identified by a path under the temporary directory so that a
// file realm and an in-memory realm naming the same place conflict.
func (c Config) resolvePath() (string, error) {
	path := c.Path
	switch {
	case c.InMemory():
		path = filepath.Join(os.TempDir(), inMemoryDir, c.InMemoryIdentifier)
	case path == "":
		path = DefaultPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &Error{Kind: InvalidArgument, Path: path, Message: err.Error(), Err: err}
	}
	return abs, nil
}

// resolve validates c and returns the copy a handle keeps (validated key,
// absolute path, private copy of the schema) and the canonical path.
func (c Config) resolve() (Config, string, error) {
	if c.Path != "" && c.InMemoryIdentifier != "" {
		return c, "", newError(InvalidArgument, c.Path, "Path and InMemoryIdentifier are mutually exclusive")
	}
	if c.InMemory() && c.ReadOnly {
		return c, "", newError(InvalidArgument, "", "In-memory realm %q cannot be read-only", c.InMemoryIdentifier)
	}
	if c.SchemaVersion == schema.NotVersioned {
		return c, "", newError(InvalidArgument, c.Path, "Schema version %d is reserved", c.SchemaVersion)
	}
	if c.SchemaVersion > schema.MaxVersion {
		return c, "", newError(InvalidArgument, c.Path, "Schema version %d is larger than the maximum %d", c.SchemaVersion, schema.MaxVersion)
	}

	key, err := validateKey(c.EncryptionKey)
	if err != nil {
		return c, "", err
	}
	path, err := c.resolvePath()
	if err != nil {
		return c, "", err
	}

	out := c
	out.EncryptionKey = key
	if !c.InMemory() {
		out.Path = path
	}
	if c.Schema != nil {
		if err := c.Schema.Validate(); err != nil {
			return c, "", &Error{Kind: InvalidArgument, Path: path, Message: err.Error(), Err: err}
		}
		out.Schema = c.Schema.Clone()
	}
	return out, path, nil
}

// compatible reports whether a handle opened with c can be handed out for
// other. Both must be resolved.
func (c Config) compatible(other Config) bool {
	return c.ReadOnly == other.ReadOnly &&
		c.InMemory() == other.InMemory() &&
		c.Dynamic == other.Dynamic &&
		bytes.Equal(c.EncryptionKey, other.EncryptionKey)
}
