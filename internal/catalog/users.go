// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// User is one row of the users table.
type User struct {
	ID            int64
	Login         string
	Email         string
	EmailVerified bool
}

// Token is one row of the api_tokens table. Empty scope strings mean
// the token is unscoped.
type Token struct {
	ID             int64
	UserID         int64
	CrateScopes    string
	EndpointScopes string
}

// FindToken resolves a bearer token string to its row, or (nil, nil)
// if unknown.
func FindToken(conn *sqlite.Conn, token string) (*Token, error) {
	var t *Token
	err := sqlitex.Execute(conn, `SELECT id, user_id, crate_scopes, endpoint_scopes FROM api_tokens WHERE token = ?`, &sqlitex.ExecOptions{
		Args: []any{token},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			t = &Token{
				ID:             stmt.ColumnInt64(0),
				UserID:         stmt.ColumnInt64(1),
				CrateScopes:    stmt.ColumnText(2),
				EndpointScopes: stmt.ColumnText(3),
			}
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "finding api token")
	}
	return t, nil
}

// FindUser loads a user by id, or (nil, nil) if unknown.
func FindUser(conn *sqlite.Conn, id int64) (*User, error) {
	var u *User
	err := sqlitex.Execute(conn, `SELECT id, login, email, email_verified FROM users WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			u = &User{
				ID:            stmt.ColumnInt64(0),
				Login:         stmt.ColumnText(1),
				Email:         stmt.ColumnText(2),
				EmailVerified: stmt.ColumnInt64(3) != 0,
			}
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "finding user")
	}
	return u, nil
}

// CreateUser inserts a user row. Used by fixtures and the operator CLI.
func CreateUser(conn *sqlite.Conn, login, email string, verified bool) (int64, error) {
	var id int64
	err := sqlitex.Execute(conn, `INSERT INTO users (login, email, email_verified) VALUES (?, ?, ?) RETURNING id`, &sqlitex.ExecOptions{
		Args: []any{login, email, verified},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, errors.Wrap(err, "creating user")
	}
	return id, nil
}

// CreateToken inserts an api token for a user. Empty scopes leave the
// token unscoped.
func CreateToken(conn *sqlite.Conn, userID int64, token, crateScopes, endpointScopes string) (int64, error) {
	var id int64
	err := sqlitex.Execute(conn, `
		INSERT INTO api_tokens (user_id, token, crate_scopes, endpoint_scopes)
		VALUES (?, ?, ?, ?) RETURNING id`,
		&sqlitex.ExecOptions{
			Args: []any{userID, token, nullableText(crateScopes), nullableText(endpointScopes)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, errors.Wrap(err, "creating api token")
	}
	return id, nil
}
