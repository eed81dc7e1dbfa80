// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"strings"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SyncKeywords replaces the crate's keyword set, creating keyword rows
// lazily on first use. Keywords are stored lowercased.
func SyncKeywords(conn *sqlite.Conn, crateID int64, keywords []string) error {
	err := sqlitex.Execute(conn, `DELETE FROM crates_keywords WHERE crate_id = ?`, &sqlitex.ExecOptions{
		Args: []any{crateID},
	})
	if err != nil {
		return errors.Wrap(err, "clearing crate keywords")
	}
	for _, keyword := range keywords {
		keyword := strings.ToLower(keyword)
		var keywordID int64
		err := sqlitex.Execute(conn, `
			INSERT INTO keywords (keyword) VALUES (?)
			ON CONFLICT (keyword) DO UPDATE SET keyword = excluded.keyword
			RETURNING id`,
			&sqlitex.ExecOptions{
				Args: []any{keyword},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					keywordID = stmt.ColumnInt64(0)
					return nil
				},
			})
		if err != nil {
			return errors.Wrapf(err, "upserting keyword %q", keyword)
		}
		err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO crates_keywords (crate_id, keyword_id) VALUES (?, ?)`, &sqlitex.ExecOptions{
			Args: []any{crateID, keywordID},
		})
		if err != nil {
			return errors.Wrap(err, "linking keyword")
		}
	}
	return nil
}

// SyncCategories replaces the crate's category set. Categories are a
// shared vocabulary: slugs without a categories row are not linked and
// are returned so the caller can warn about them instead of failing
// the publish.
func SyncCategories(conn *sqlite.Conn, crateID int64, slugs []string) (invalid []string, err error) {
	err = sqlitex.Execute(conn, `DELETE FROM crates_categories WHERE crate_id = ?`, &sqlitex.ExecOptions{
		Args: []any{crateID},
	})
	if err != nil {
		return nil, errors.Wrap(err, "clearing crate categories")
	}
	for _, slug := range slugs {
		var categoryID int64
		found := false
		err := sqlitex.Execute(conn, `SELECT id FROM categories WHERE slug = ?`, &sqlitex.ExecOptions{
			Args: []any{slug},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				categoryID = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "looking up category %q", slug)
		}
		if !found {
			invalid = append(invalid, slug)
			continue
		}
		err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO crates_categories (crate_id, category_id) VALUES (?, ?)`, &sqlitex.ExecOptions{
			Args: []any{crateID, categoryID},
		})
		if err != nil {
			return nil, errors.Wrap(err, "linking category")
		}
	}
	return invalid, nil
}

// AddCategory registers a category slug in the shared vocabulary.
func AddCategory(conn *sqlite.Conn, slug, name string) error {
	err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO categories (slug, name) VALUES (?, ?)`, &sqlitex.ExecOptions{
		Args: []any{slug, name},
	})
	return errors.Wrap(err, "adding category")
}
