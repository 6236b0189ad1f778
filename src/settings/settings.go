package settings

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Environment toggles read by LoadEnvironment.
const (
	EnvDataDir           = "REALMDB_DATA_DIR"
	EnvDisableEncryption = "REALMDB_DISABLE_ENCRYPTION"
	EnvJournal           = "REALMDB_JOURNAL"
)

type Arguments struct {
	// The directory default realm files are created in
	DataDir string
	LogDir  string

	// Development mode logging
	Debug   bool
	Verbose bool

	// Makes every encryption key validate to "no encryption".
	// Development use only.
	DisableEncryption bool

	// Record commits in a journal next to each realm file
	JournalCommits     bool
	MaxJournalFileSize int64
}

var (
	instance *Arguments
	once     sync.Once
	envOnce  sync.Once
	mu       sync.RWMutex
)

// GetSettings returns the process-wide settings instance.
func GetSettings() *Arguments {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		instance = defaults()
	})

	mu.RLock()
	defer mu.RUnlock()
	return instance
}

func defaults() *Arguments {
	return &Arguments{
		DataDir:            filepath.Join(".", "datafiles"),
		LogDir:             "",
		MaxJournalFileSize: 1000000,
	}
}

// LoadEnvironment applies the REALMDB_* environment variables to the
// settings. Only the first call has any effect.
func LoadEnvironment() *Arguments {
	args := GetSettings()
	envOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		if dir := os.Getenv(EnvDataDir); dir != "" {
			args.DataDir = dir
		}
		if envBool(EnvDisableEncryption) {
			args.DisableEncryption = true
		}
		if envBool(EnvJournal) {
			args.JournalCommits = true
		}
	})
	return args
}

func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// ResetSettings is useful for testing - it restores defaults and allows the
// environment to be read again.
func ResetSettings() {
	mu.Lock()
	defer mu.Unlock()
	instance = defaults()
	once = sync.Once{}
	once.Do(func() {})
	envOnce = sync.Once{}
}
