// Package storage provides the durable backends of the scheduler.
//
// Drivers:
//   - "sqlite": single-file database (default)
//   - "postgres": PostgreSQL through pgxpool
//   - "redis": sorted set keyed by due time
//   - "file": dependency-free snapshot + journal files
//   - "memory": no durability
//
// Every backend keeps one row per pending entry in a table (or keyspace) named
// schedule with the columns id, expires, created, event and args_kwargs.
package storage
