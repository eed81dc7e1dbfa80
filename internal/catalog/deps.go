// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"encoding/json"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Dependency kinds, matching the manifest tables they come from.
const (
	DepKindNormal = 0
	DepKindBuild  = 1
	DepKindDev    = 2
)

// NewDependency carries one normalized dependency for insertion. Name
// is the target crate's exact name; the id is resolved at insert time.
type NewDependency struct {
	Name            string
	Req             string
	Kind            int
	Optional        bool
	DefaultFeatures bool
	Features        []string
	Target          string
	ExplicitName    string
}

// ResolveCrateIDs maps each of the given exact names to its crate id.
// Names not present in the catalog are absent from the result; only
// identical names match, so the index always references the original
// crate name rather than a canonical-form alias.
func ResolveCrateIDs(conn *sqlite.Conn, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	for _, name := range names {
		if _, done := ids[name]; done {
			continue
		}
		err := sqlitex.Execute(conn, `SELECT id FROM crates WHERE name = ?`, &sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ids[name] = stmt.ColumnInt64(0)
				return nil
			},
		})
		if err != nil {
			return nil, errors.Wrap(err, "resolving dependency crate ids")
		}
	}
	return ids, nil
}

// InsertDependency links one dependency row to a version.
func InsertDependency(conn *sqlite.Conn, versionID, crateID int64, dep NewDependency) error {
	features := dep.Features
	if features == nil {
		features = []string{}
	}
	featureJSON, err := json.Marshal(features)
	if err != nil {
		return errors.Wrap(err, "encoding dependency features")
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO dependencies (version_id, crate_id, req, kind, optional, default_features, features, target, explicit_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				versionID, crateID, dep.Req, dep.Kind, dep.Optional, dep.DefaultFeatures,
				string(featureJSON), nullableText(dep.Target), nullableText(dep.ExplicitName),
			},
		})
	return errors.Wrap(err, "inserting dependency")
}
