package storage

import "strings"

const reservedChars = `\/:*?"<>|`

// ValidFilename reports whether name can be used on the drive: non-empty,
// shorter than [MaxFilenameLen] bytes and free of \ / : * ? " < > |.
func ValidFilename(name string) bool {
	if name == "" || len(name) >= MaxFilenameLen {
		return false
	}

	return !strings.ContainsAny(name, reservedChars)
}

// drivePath prefixes the drive root to a validated name.
func drivePath(name string) string {
	return DriveRoot + name
}
