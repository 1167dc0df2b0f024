//go:build cgo

package sqlitedriver

import (
	_ "github.com/mutecomm/go-sqlcipher/v4" // registers DriverName with SQLCipher support
)

const (
	// EncryptionSupported reports whether Options.Key is honored by this build.
	EncryptionSupported = true

	variant = "sqlcipher"
)
