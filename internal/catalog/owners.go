// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Owner kinds in the crate_owners table.
const (
	OwnerUser = 0
	OwnerTeam = 1
)

// Owner is one entry of a crate's owner relation.
type Owner struct {
	CrateID int64
	OwnerID int64
	Kind    int
}

// CrateOwners returns the live (non-deleted) owners of a crate.
func CrateOwners(conn *sqlite.Conn, crateID int64) ([]Owner, error) {
	var owners []Owner
	err := sqlitex.Execute(conn, `SELECT crate_id, owner_id, owner_kind FROM crate_owners WHERE crate_id = ? AND deleted = 0`, &sqlitex.ExecOptions{
		Args: []any{crateID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			owners = append(owners, Owner{
				CrateID: stmt.ColumnInt64(0),
				OwnerID: stmt.ColumnInt64(1),
				Kind:    int(stmt.ColumnInt64(2)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading crate owners")
	}
	return owners, nil
}

// IsTeamMember reports whether userID belongs to teamID.
func IsTeamMember(conn *sqlite.Conn, teamID, userID int64) (bool, error) {
	var member bool
	err := sqlitex.Execute(conn, `SELECT 1 FROM team_members WHERE team_id = ? AND user_id = ?`, &sqlitex.ExecOptions{
		Args: []any{teamID, userID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			member = true
			return nil
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "checking team membership")
	}
	return member, nil
}

// AddOwner records an owner for a crate. Used by fixtures and the
// operator CLI; the publish pipeline only adds the creator on insert.
func AddOwner(conn *sqlite.Conn, crateID, ownerID int64, kind int) error {
	err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO crate_owners (crate_id, owner_id, owner_kind) VALUES (?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{crateID, ownerID, kind},
	})
	return errors.Wrap(err, "adding crate owner")
}
