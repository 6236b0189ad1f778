package engine

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sys/unix"

	"realmdb/src/helpers"
	"realmdb/src/schema"
)

/*

A realm file is a fixed header followed by one BSON document holding every
table. When the file is encrypted the document is sealed with AES-256-GCM
under a key derived from the 64-byte realm key, and the header is bound to
the ciphertext as additional data.

	magic (8) | flags (1) | [nonce (12)] | payload

*/

var fileMagic = []byte("RLMDB\x00\x01\x00")

const (
	headerSize    = 9
	flagEncrypted = 1
	cipherInfo    = "realmdb file encryption v1"
)

type fileColumn struct {
	Name     string `bson:"name"`
	Type     int32  `bson:"type"`
	Optional bool   `bson:"optional"`
	Indexed  bool   `bson:"indexed"`
}

type fileRow struct {
	Key    int64  `bson:"k"`
	Values bson.A `bson:"v"`
}

type fileTable struct {
	Name    string       `bson:"name"`
	Columns []fileColumn `bson:"columns"`
	NextKey int64        `bson:"next_key"`
	Rows    []fileRow    `bson:"rows"`
}

type fileGroup struct {
	// -1 when the file was never versioned
	SchemaVersion int64       `bson:"schema_version"`
	Tables        []fileTable `bson:"tables"`
}

func versionToFile(v uint64) int64 {
	if v > schema.MaxVersion {
		return -1
	}
	return int64(v)
}

func versionFromFile(v int64) uint64 {
	if v < 0 {
		return schema.NotVersioned
	}
	return uint64(v)
}

// encodeGroup serializes g, encrypting it when key is set.
func encodeGroup(g *Group, key []byte) ([]byte, error) {
	doc := fileGroup{SchemaVersion: versionToFile(g.schemaVersion)}
	for _, name := range g.order {
		t := g.tables[name]
		ft := fileTable{Name: t.name, NextKey: t.nextKey, Columns: make([]fileColumn, len(t.columns)), Rows: make([]fileRow, len(t.rows))}
		for i, c := range t.columns {
			ft.Columns[i] = fileColumn{Name: c.Name, Type: int32(c.Type), Optional: c.Optional, Indexed: c.Indexed}
		}
		for i, r := range t.rows {
			ft.Rows[i] = fileRow{Key: r.Key, Values: bson.A(r.Values)}
		}
		doc.Tables = append(doc.Tables, ft)
	}

	payload, err := helpers.EncodeBSON(doc)
	if err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	copy(header, fileMagic)
	if len(key) == 0 {
		return append(header, payload...), nil
	}

	header[8] = flagEncrypted
	aead, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := append(header, nonce...)
	return aead.Seal(out, nonce, payload, header), nil
}

// decodeGroup parses a file image produced by encodeGroup.
func decodeGroup(data, key []byte) (*Group, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, ErrDecryption
	}
	header, payload := data[:headerSize], data[headerSize:]
	encrypted := header[8]&flagEncrypted != 0

	switch {
	case encrypted && len(key) == 0:
		return nil, fmt.Errorf("%w: file is encrypted but no key was supplied", ErrFileAccess)
	case !encrypted && len(key) != 0:
		return nil, fmt.Errorf("%w: file is not encrypted", ErrDecryption)
	case encrypted:
		aead, err := newCipher(key)
		if err != nil {
			return nil, err
		}
		if len(payload) < aead.NonceSize() {
			return nil, ErrDecryption
		}
		nonce, sealed := payload[:aead.NonceSize()], payload[aead.NonceSize():]
		payload, err = aead.Open(nil, nonce, sealed, header)
		if err != nil {
			return nil, ErrDecryption
		}
	}

	var doc fileGroup
	if err := helpers.DecodeBSON(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileAccess, err)
	}

	g := newGroup()
	g.schemaVersion = versionFromFile(doc.SchemaVersion)
	for _, ft := range doc.Tables {
		cols := make([]schema.Column, len(ft.Columns))
		for i, c := range ft.Columns {
			cols[i] = schema.Column{Name: c.Name, Type: schema.PropertyType(c.Type), Optional: c.Optional, Indexed: c.Indexed}
		}
		t := newTable(ft.Name, cols)
		t.nextKey = ft.NextKey
		t.rows = make([]Row, len(ft.Rows))
		for i, fr := range ft.Rows {
			if len(fr.Values) != len(cols) {
				return nil, fmt.Errorf("%w: table %s row %d has %d values for %d columns", ErrFileAccess, ft.Name, fr.Key, len(fr.Values), len(cols))
			}
			values := make([]interface{}, len(cols))
			for c, v := range fr.Values {
				values[c] = decodeValue(cols[c], v)
			}
			t.rows[i] = Row{Key: fr.Key, Values: values}
		}
		t.reindex()
		g.tables[ft.Name] = t
		g.order = append(g.order, ft.Name)
	}
	return g, nil
}

// decodeValue maps the BSON decoder's default types back to the canonical
// Go types used in memory.
func decodeValue(col schema.Column, v interface{}) interface{} {
	if v == nil {
		if col.Optional {
			return nil
		}
		return schema.ZeroValue(col.Type)
	}
	switch col.Type {
	case schema.Int:
		switch n := v.(type) {
		case int32:
			return int64(n)
		case int64:
			return n
		}
	case schema.Float:
		if f, ok := v.(float64); ok {
			return float32(f)
		}
	case schema.Data:
		switch b := v.(type) {
		case primitive.Binary:
			return append([]byte{}, b.Data...)
		case []byte:
			return b
		}
	case schema.Date:
		switch d := v.(type) {
		case primitive.DateTime:
			return d.Time().UTC()
		case time.Time:
			return d.UTC()
		}
	}
	return v
}

func newCipher(key []byte) (cipher.AEAD, error) {
	if len(key) != helpers.KeySize {
		return nil, ErrInvalidKey
	}
	fileKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(cipherInfo)), fileKey); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(fileKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// readFile returns the contents of path, read through a private mapping.
// A zero-length file returns nil.
func readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fileError("open", path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fileError("stat", path, err)
	}
	fileSize := int(stat.Size())
	if fileSize == 0 {
		return nil, nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, fileSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to memory map %s: %w", path, err)
	}
	defer unix.Munmap(data)

	out := make([]byte, fileSize)
	copy(out, data)
	return out, nil
}

// loadGroup reads and decodes the realm file at path.
func loadGroup(path string, key []byte) (*Group, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return newGroup(), nil
	}
	g, err := decodeGroup(data, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// writeGroup atomically replaces the file at path with g.
func writeGroup(path string, g *Group, key []byte) error {
	data, err := encodeGroup(g, key)
	if err != nil {
		return err
	}
	if err := helpers.WriteFileAtomic(path, data, 0644); err != nil {
		var pathErr *os.PathError
		var linkErr *os.LinkError
		if errors.As(err, &pathErr) || errors.As(err, &linkErr) {
			return fileError("write", path, err)
		}
		return err
	}
	return nil
}
