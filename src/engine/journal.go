package engine

// This file contains the commit journal. When enabled, every commit, schema
// update and compaction of a realm file is appended to "<path>.journal" as one
// line, after the change has been written to the realm file itself.

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"realmdb/src/helpers"
)

// Journal commands.
const (
	JournalCommit       = "commit"
	JournalUpdateSchema = "update_schema"
	JournalCompact      = "compact"
)

// DefaultMaxJournalFileSize is used when no size cap is configured.
const DefaultMaxJournalFileSize = 1000000

// JournalEntry represents a single entry in the journal.
type JournalEntry struct {
	Timestamp time.Time
	Command   string
	Version   uint64 // commit version the entry produced
	Details   string
}

// Journal represents the journal of one realm file.
type Journal struct {
	mu                 sync.Mutex
	Entries            []JournalEntry
	file               *os.File
	path               string
	maxJournalFileSize int64
	currentSize        int64
}

func journalPath(realmPath string) string {
	return realmPath + ".journal"
}

// NewJournal opens (appending to) the journal at journalFilePath.
func NewJournal(journalFilePath string, maxSize int64) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxJournalFileSize
	}
	journal := &Journal{
		path:               journalFilePath,
		maxJournalFileSize: maxSize,
	}
	if err := journal.open(); err != nil {
		return nil, err
	}
	return journal, nil
}

func (j *Journal) open() error {
	file, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file %s: %w", j.path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat journal file %s: %w", j.path, err)
	}
	j.file = file
	j.currentSize = stat.Size()
	return nil
}

// rotate moves the current journal to "<journal>.1", replacing any previous
// rotation, and starts a new one.
func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal file: %w", err)
	}
	j.file = nil
	if err := os.Rename(j.path, j.path+".1"); err != nil {
		return fmt.Errorf("failed to rotate journal file: %w", err)
	}
	return j.open()
}

// AddEntry adds a new entry to the journal.
func (j *Journal) AddEntry(command string, version uint64, details string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal %s is closed", j.path)
	}

	entry := JournalEntry{
		Timestamp: time.Now().UTC(),
		Command:   command,
		Version:   version,
		Details:   details,
	}
	line := formatEntry(entry)

	if j.currentSize > 0 && j.currentSize+int64(len(line)) > j.maxJournalFileSize {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	if _, err := j.file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write to journal file: %w", err)
	}
	j.currentSize += int64(len(line))
	j.Entries = append(j.Entries, entry)

	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		j.file = nil
	}
	return nil
}

func formatEntry(e JournalEntry) string {
	details := strings.ReplaceAll(e.Details, "\n", " ")
	return fmt.Sprintf("%s | %s | %d | %s\n", e.Timestamp.Format(time.RFC3339Nano), e.Command, e.Version, details)
}

// ReadJournal parses the journal kept next to a realm file.
func ReadJournal(realmPath string) ([]JournalEntry, error) {
	path := journalPath(realmPath)
	file, err := helpers.OpenDataFile(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), " | ", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("malformed journal line %q", scanner.Text())
		}
		ts, err := time.Parse(time.RFC3339Nano, parts[0])
		if err != nil {
			return nil, fmt.Errorf("malformed journal timestamp %q: %w", parts[0], err)
		}
		var version uint64
		if _, err := fmt.Sscan(parts[2], &version); err != nil {
			return nil, fmt.Errorf("malformed journal version %q: %w", parts[2], err)
		}
		entries = append(entries, JournalEntry{Timestamp: ts, Command: parts[1], Version: version, Details: parts[3]})
	}
	return entries, scanner.Err()
}
