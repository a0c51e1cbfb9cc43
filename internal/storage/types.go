package storage

import (
	"errors"
	"time"
)

var (
	// ErrDisabled is returned by a backend that was closed.
	ErrDisabled = errors.New("storage disabled")

	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Driver values: "sqlite", "postgres", "redis", "file", "memory".
// An empty Driver means "sqlite".
type Config struct {
	Driver string

	// Path is the database file (sqlite) or the file prefix (file).
	Path string

	// DSN is the PostgreSQL connection string.
	DSN string

	// Redis connection.
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix; default "remindbot:"

	BusyTimeout time.Duration // sqlite only; 0 means default
}
