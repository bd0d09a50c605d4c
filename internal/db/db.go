// Package db opens the GORM connection used by the SQL document store.
package db

import (
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens a *gorm.DB for the given DSN. DSNs starting with "file:" or
// ending in ".db" are treated as SQLite, everything else as MySQL
// (user:pass@tcp(host:port)/name?... like the deployment default).
func Connect(dsn string) (*gorm.DB, error) {
	if strings.HasPrefix(dsn, "file:") || strings.HasSuffix(dsn, ".db") || dsn == ":memory:" {
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}
