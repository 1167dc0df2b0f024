//go:build !cgo

package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

func init() {
	sql.Register(DriverName, &sqlite.Driver{})
}

const (
	// EncryptionSupported reports whether Options.Key is honored by this build.
	EncryptionSupported = false

	variant = "modernc"
)
