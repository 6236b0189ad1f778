package realm

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"realmdb/src/helpers"
	"realmdb/src/settings"
)

// debuggerAttached reports whether a tracer is attached to this process.
// Tests replace it.
var debuggerAttached = tracerAttached

// tracerAttached reads TracerPid from /proc/self/status. Platforms without
// procfs report no tracer.
func tracerAttached() bool {
	file, err := os.Open("/proc/self/status")
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		value, ok := strings.CutPrefix(scanner.Text(), "TracerPid:")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(value))
		return err == nil && pid != 0
	}
	return false
}

// encryptionDisabled reports the process-wide development override. The
// environment is only consulted on first use.
func encryptionDisabled() bool {
	return settings.LoadEnvironment().DisableEncryption
}

// validateKey checks an encryption key and returns the copy the engine should
// use. A nil result means no encryption.
func validateKey(key []byte) ([]byte, error) {
	if encryptionDisabled() || len(key) == 0 {
		return nil, nil
	}
	if len(key) != helpers.KeySize {
		return nil, newError(InvalidArgument, "", "Encryption key must be exactly %d bytes, got %d", helpers.KeySize, len(key))
	}
	if debuggerAttached() {
		return nil, newError(InvalidArgument, "", "Cannot open an encrypted realm with a debugger attached to the process")
	}
	return append([]byte(nil), key...), nil
}
