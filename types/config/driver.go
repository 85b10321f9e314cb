package config

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	SQLite
)

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	}
	return "unknown"
}

func ParseStorageDriver(name string) (StorageDriver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return 0, errors.Newf("unsupported storage driver %q", name)
}
