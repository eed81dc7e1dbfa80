// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog is the registry's catalog store: crates, versions,
// dependencies, taxonomy, ownership, and the background job table, all
// backed by a single SQLite database.
//
// Mutating operations take an explicit *sqlite.Conn so that callers
// control transaction boundaries. The publish pipeline holds one write
// connection for its whole transactional phase and passes it through
// every call.
package catalog

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Catalog wraps the SQLite connection pool for the registry database.
type Catalog struct {
	pool *sqlitex.Pool
}

// Open opens (and creates, if needed) the catalog database at path.
// Every connection gets WAL mode, a busy timeout, and the schema.
func Open(path string) (*Catalog, error) {
	poolSize := runtime.NumCPU()
	if poolSize < 4 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
				"PRAGMA foreign_keys=ON",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return errors.Wrap(err, pragma)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening catalog at %s", path)
	}
	return &Catalog{pool: pool}, nil
}

// Take borrows a connection from the pool. The caller must Put it back.
func (c *Catalog) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "taking catalog connection")
	}
	return conn, nil
}

// Put returns a connection to the pool.
func (c *Catalog) Put(conn *sqlite.Conn) {
	c.pool.Put(conn)
}

// Close closes the pool, blocking until all connections are returned.
func (c *Catalog) Close() error {
	return c.pool.Close()
}
