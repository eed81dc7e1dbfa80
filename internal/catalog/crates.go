// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"time"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crateworks/registry/pkg/cargo"
)

// Crate is one row of the crates table.
type Crate struct {
	ID            int64
	Name          string
	Description   string
	Homepage      string
	Documentation string
	Repository    string
	Readme        string
	MaxUploadSize *int64
	MaxFeatures   *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewCrate carries the descriptive fields persisted on a publish.
type NewCrate struct {
	Name          string
	Description   string
	Homepage      string
	Documentation string
	Repository    string
	Readme        string
}

func scanCrate(stmt *sqlite.Stmt) *Crate {
	c := &Crate{
		ID:            stmt.ColumnInt64(0),
		Name:          stmt.ColumnText(1),
		Description:   stmt.ColumnText(2),
		Homepage:      stmt.ColumnText(3),
		Documentation: stmt.ColumnText(4),
		Repository:    stmt.ColumnText(5),
		Readme:        stmt.ColumnText(6),
		CreatedAt:     time.Unix(stmt.ColumnInt64(9), 0).UTC(),
		UpdatedAt:     time.Unix(stmt.ColumnInt64(10), 0).UTC(),
	}
	if !stmt.ColumnIsNull(7) {
		v := stmt.ColumnInt64(7)
		c.MaxUploadSize = &v
	}
	if !stmt.ColumnIsNull(8) {
		v := stmt.ColumnInt64(8)
		c.MaxFeatures = &v
	}
	return c
}

const crateColumns = `id, name, description, homepage, documentation, repository, readme,
	max_upload_size, max_features, created_at, updated_at`

// FindCrateByName looks a crate up by its canonical name. Returns
// (nil, nil) when absent.
func FindCrateByName(conn *sqlite.Conn, name string) (*Crate, error) {
	var crate *Crate
	err := sqlitex.Execute(conn, `SELECT `+crateColumns+` FROM crates WHERE canon_name = ?`, &sqlitex.ExecOptions{
		Args: []any{cargo.CanonicalName(name)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			crate = scanCrate(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "finding crate")
	}
	return crate, nil
}

// IsReservedName reports whether the canonical form of name has been
// reserved by an operator.
func IsReservedName(conn *sqlite.Conn, name string) (bool, error) {
	var reserved bool
	err := sqlitex.Execute(conn, `SELECT 1 FROM reserved_crate_names WHERE canon_name = ?`, &sqlitex.ExecOptions{
		Args: []any{cargo.CanonicalName(name)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			reserved = true
			return nil
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "checking reserved names")
	}
	return reserved, nil
}

// ReserveName records name (canonicalized) as reserved.
func ReserveName(conn *sqlite.Conn, name string) error {
	err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO reserved_crate_names (canon_name) VALUES (?)`, &sqlitex.ExecOptions{
		Args: []any{cargo.CanonicalName(name)},
	})
	return errors.Wrap(err, "reserving crate name")
}

// UpsertCrate inserts the crate row or, on a canonical-name conflict,
// refreshes the existing row's descriptive fields. When the insert
// wins, ownerID becomes the crate's first owner. The returned flag
// reports whether a new row was created.
//
// The insert-first ordering is what makes concurrent first publishes
// safe: both racers converge on the same row and the ownership check
// that follows decides who may actually publish.
func UpsertCrate(conn *sqlite.Conn, nc NewCrate, ownerID int64, now time.Time) (*Crate, bool, error) {
	var crate *Crate
	err := sqlitex.Execute(conn, `
		INSERT INTO crates (name, canon_name, description, homepage, documentation, repository, readme, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (canon_name) DO NOTHING
		RETURNING `+crateColumns,
		&sqlitex.ExecOptions{
			Args: []any{
				nc.Name, cargo.CanonicalName(nc.Name), nc.Description, nc.Homepage,
				nc.Documentation, nc.Repository, nc.Readme, now.Unix(), now.Unix(),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				crate = scanCrate(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, false, errors.Wrap(err, "inserting crate")
	}
	if crate != nil {
		err := sqlitex.Execute(conn, `INSERT INTO crate_owners (crate_id, owner_id, owner_kind) VALUES (?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{crate.ID, ownerID, OwnerUser},
		})
		if err != nil {
			return nil, false, errors.Wrap(err, "recording crate creator as owner")
		}
		return crate, true, nil
	}
	err = sqlitex.Execute(conn, `
		UPDATE crates
		SET description = ?, homepage = ?, documentation = ?, repository = ?, readme = ?, updated_at = ?
		WHERE canon_name = ?
		RETURNING `+crateColumns,
		&sqlitex.ExecOptions{
			Args: []any{
				nc.Description, nc.Homepage, nc.Documentation, nc.Repository, nc.Readme,
				now.Unix(), cargo.CanonicalName(nc.Name),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				crate = scanCrate(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, false, errors.Wrap(err, "updating crate")
	}
	if crate == nil {
		return nil, false, errors.New("crate vanished during upsert")
	}
	return crate, false, nil
}

// SetCrateLimits sets the per-crate override limits. Zero pointers
// clear the override.
func SetCrateLimits(conn *sqlite.Conn, crateID int64, maxUploadSize, maxFeatures *int64) error {
	err := sqlitex.Execute(conn, `UPDATE crates SET max_upload_size = ?, max_features = ? WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{nullable(maxUploadSize), nullable(maxFeatures), crateID},
	})
	return errors.Wrap(err, "setting crate limits")
}

func nullable(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
