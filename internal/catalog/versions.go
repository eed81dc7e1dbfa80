// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Version is one row of the versions table. Rows are append-only:
// nothing in the publish pipeline mutates a version after creation.
type Version struct {
	ID          int64
	CrateID     int64
	Num         string
	Features    map[string][]string
	License     string
	CrateSize   int64
	Checksum    string
	Links       string
	RustVersion string
	PublishedBy int64
	CreatedAt   time.Time
}

// NewVersion carries the fields for a version insert.
type NewVersion struct {
	CrateID     int64
	Num         string
	Features    map[string][]string
	License     string
	CrateSize   int64
	Checksum    string
	Links       string
	RustVersion string
	PublishedBy int64
}

// Version-owner actions recorded alongside a publish.
const (
	ActionPublish = 0
)

// StripBuildMetadata removes the `+...` build-metadata suffix from a
// semver string. Uniqueness within a crate is decided on the stripped
// form.
func StripBuildMetadata(version string) string {
	stripped, _, _ := strings.Cut(version, "+")
	return stripped
}

// VersionExists reports whether the crate already has a version whose
// build-metadata-stripped number matches num's stripped form.
func VersionExists(conn *sqlite.Conn, crateID int64, num string) (bool, error) {
	var exists bool
	err := sqlitex.Execute(conn, `SELECT 1 FROM versions WHERE crate_id = ? AND num_no_build = ?`, &sqlitex.ExecOptions{
		Args: []any{crateID, StripBuildMetadata(num)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "checking version uniqueness")
	}
	return exists, nil
}

// InsertVersion persists the version row and the publishing-email
// association. The caller is responsible for the uniqueness check and
// for running inside a transaction.
func InsertVersion(conn *sqlite.Conn, nv NewVersion, publishedByEmail string, now time.Time) (*Version, error) {
	features := nv.Features
	if features == nil {
		features = map[string][]string{}
	}
	featureJSON, err := json.Marshal(features)
	if err != nil {
		return nil, errors.Wrap(err, "encoding features")
	}
	var id int64
	err = sqlitex.Execute(conn, `
		INSERT INTO versions (crate_id, num, num_no_build, features, license, crate_size, checksum, links, rust_version, published_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		&sqlitex.ExecOptions{
			Args: []any{
				nv.CrateID, nv.Num, StripBuildMetadata(nv.Num), string(featureJSON),
				nullableText(nv.License), nv.CrateSize, nv.Checksum,
				nullableText(nv.Links), nullableText(nv.RustVersion),
				nv.PublishedBy, now.Unix(),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "inserting version")
	}
	err = sqlitex.Execute(conn, `INSERT INTO versions_published_by (version_id, email) VALUES (?, ?)`, &sqlitex.ExecOptions{
		Args: []any{id, publishedByEmail},
	})
	if err != nil {
		return nil, errors.Wrap(err, "recording publishing email")
	}
	return &Version{
		ID:          id,
		CrateID:     nv.CrateID,
		Num:         nv.Num,
		Features:    features,
		License:     nv.License,
		CrateSize:   nv.CrateSize,
		Checksum:    nv.Checksum,
		Links:       nv.Links,
		RustVersion: nv.RustVersion,
		PublishedBy: nv.PublishedBy,
		CreatedAt:   now.UTC(),
	}, nil
}

// InsertVersionOwnerAction records who performed an action on a
// version, and with which API token if any.
func InsertVersionOwnerAction(conn *sqlite.Conn, versionID, userID int64, apiTokenID *int64, action int, now time.Time) error {
	err := sqlitex.Execute(conn, `
		INSERT INTO version_owner_actions (version_id, user_id, api_token_id, action, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{versionID, userID, nullable(apiTokenID), action, now.Unix()},
		})
	return errors.Wrap(err, "recording version owner action")
}

// CountVersionsPublishedSince counts versions created for the crate at
// or after the cutoff. Used for the daily new-version cap.
func CountVersionsPublishedSince(conn *sqlite.Conn, crateID int64, cutoff time.Time) (int64, error) {
	var count int64
	err := sqlitex.Execute(conn, `SELECT COUNT(*) FROM versions WHERE crate_id = ? AND created_at > ?`, &sqlitex.ExecOptions{
		Args: []any{crateID, cutoff.Unix()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, errors.Wrap(err, "counting recent versions")
	}
	return count, nil
}

// TopVersions summarizes a crate's version set for API payloads.
type TopVersions struct {
	// Highest is the largest version in semver order.
	Highest string
	// HighestStable is the largest version without a pre-release tag.
	HighestStable string
	// Newest is the most recently published version.
	Newest string
}

// CrateTopVersions computes TopVersions from the crate's version rows.
// Version numbers that fail to parse are skipped.
func CrateTopVersions(conn *sqlite.Conn, crateID int64) (TopVersions, error) {
	type pair struct {
		created int64
		version *semver.Version
	}
	var pairs []pair
	err := sqlitex.Execute(conn, `SELECT num, created_at FROM versions WHERE crate_id = ?`, &sqlitex.ExecOptions{
		Args: []any{crateID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			v, err := semver.NewVersion(stmt.ColumnText(0))
			if err != nil {
				return nil
			}
			pairs = append(pairs, pair{created: stmt.ColumnInt64(1), version: v})
			return nil
		},
	})
	if err != nil {
		return TopVersions{}, errors.Wrap(err, "loading versions")
	}
	var top TopVersions
	var highest, highestStable *semver.Version
	var newestAt int64
	for _, p := range pairs {
		if highest == nil || p.version.GreaterThan(highest) {
			highest = p.version
		}
		if p.version.Prerelease() == "" && (highestStable == nil || p.version.GreaterThan(highestStable)) {
			highestStable = p.version
		}
		if top.Newest == "" || p.created > newestAt {
			top.Newest = p.version.String()
			newestAt = p.created
		}
	}
	if highest != nil {
		top.Highest = highest.String()
	}
	if highestStable != nil {
		top.HighestStable = highestStable.String()
	}
	return top, nil
}

// VersionCoordinates resolves a version row to its crate name and
// version number. Returns empty strings when the row is gone.
func VersionCoordinates(conn *sqlite.Conn, versionID int64) (crate, num string, err error) {
	err = sqlitex.Execute(conn, `
		SELECT crates.name, versions.num FROM versions
		JOIN crates ON crates.id = versions.crate_id
		WHERE versions.id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{versionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				crate = stmt.ColumnText(0)
				num = stmt.ColumnText(1)
				return nil
			},
		})
	if err != nil {
		return "", "", errors.Wrap(err, "resolving version coordinates")
	}
	return crate, num, nil
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
