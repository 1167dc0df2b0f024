// Package sqlitedriver registers a SQLite database/sql driver under the name
// "sqlite3". When built with CGO (the default on macOS/Linux) it uses
// go-sqlcipher which provides SQLCipher encryption. When CGO is unavailable
// (typical on Windows without GCC) it falls back to the pure-Go
// modernc.org/sqlite driver, functional but without encryption support.
//
// The poller history store and SQL-backed result sources open their databases
// through Open, which applies the WAL and pool settings shared by both. Packages
// that only need the driver registered can import this package for its side
// effects:
//
//	import _ "github.com/teradata-labs/sqgate/internal/sqlitedriver"
package sqlitedriver
