// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

// schema is applied to every new connection. All timestamps are unix
// seconds. Crate uniqueness is enforced on the canonical name so that
// `foo_bar` and `Foo-Bar` map to the same row; the display name keeps
// its original casing.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             INTEGER PRIMARY KEY,
	login          TEXT NOT NULL UNIQUE,
	email          TEXT,
	email_verified INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS api_tokens (
	id              INTEGER PRIMARY KEY,
	user_id         INTEGER NOT NULL REFERENCES users(id),
	token           TEXT NOT NULL UNIQUE,
	crate_scopes    TEXT,
	endpoint_scopes TEXT
);

CREATE TABLE IF NOT EXISTS crates (
	id              INTEGER PRIMARY KEY,
	name            TEXT NOT NULL,
	canon_name      TEXT NOT NULL UNIQUE,
	description     TEXT,
	homepage        TEXT,
	documentation   TEXT,
	repository      TEXT,
	readme          TEXT,
	max_upload_size INTEGER,
	max_features    INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS versions (
	id           INTEGER PRIMARY KEY,
	crate_id     INTEGER NOT NULL REFERENCES crates(id),
	num          TEXT NOT NULL,
	num_no_build TEXT NOT NULL,
	features     TEXT NOT NULL DEFAULT '{}',
	license      TEXT,
	crate_size   INTEGER,
	checksum     TEXT NOT NULL,
	links        TEXT,
	rust_version TEXT,
	published_by INTEGER REFERENCES users(id),
	created_at   INTEGER NOT NULL,
	UNIQUE (crate_id, num_no_build)
);

CREATE TABLE IF NOT EXISTS versions_published_by (
	version_id INTEGER PRIMARY KEY REFERENCES versions(id),
	email      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS version_owner_actions (
	id           INTEGER PRIMARY KEY,
	version_id   INTEGER NOT NULL REFERENCES versions(id),
	user_id      INTEGER NOT NULL REFERENCES users(id),
	api_token_id INTEGER,
	action       INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dependencies (
	id               INTEGER PRIMARY KEY,
	version_id       INTEGER NOT NULL REFERENCES versions(id),
	crate_id         INTEGER NOT NULL REFERENCES crates(id),
	req              TEXT NOT NULL,
	kind             INTEGER NOT NULL,
	optional         INTEGER NOT NULL DEFAULT 0,
	default_features INTEGER NOT NULL DEFAULT 1,
	features         TEXT NOT NULL DEFAULT '[]',
	target           TEXT,
	explicit_name    TEXT
);

CREATE TABLE IF NOT EXISTS keywords (
	id      INTEGER PRIMARY KEY,
	keyword TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS crates_keywords (
	crate_id   INTEGER NOT NULL REFERENCES crates(id),
	keyword_id INTEGER NOT NULL REFERENCES keywords(id),
	PRIMARY KEY (crate_id, keyword_id)
);

CREATE TABLE IF NOT EXISTS categories (
	id   INTEGER PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crates_categories (
	crate_id    INTEGER NOT NULL REFERENCES crates(id),
	category_id INTEGER NOT NULL REFERENCES categories(id),
	PRIMARY KEY (crate_id, category_id)
);

CREATE TABLE IF NOT EXISTS crate_owners (
	crate_id   INTEGER NOT NULL REFERENCES crates(id),
	owner_id   INTEGER NOT NULL,
	owner_kind INTEGER NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (crate_id, owner_id, owner_kind)
);

CREATE TABLE IF NOT EXISTS team_members (
	team_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (team_id, user_id)
);

CREATE TABLE IF NOT EXISTS reserved_crate_names (
	canon_name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS background_jobs (
	id         TEXT PRIMARY KEY,
	job_type   TEXT NOT NULL,
	data       TEXT NOT NULL,
	retries    INTEGER NOT NULL DEFAULT 0,
	run_at     INTEGER NOT NULL,
	locked_by  TEXT,
	locked_at  INTEGER,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rate_limit_buckets (
	user_id     INTEGER NOT NULL,
	action      INTEGER NOT NULL,
	tokens      REAL NOT NULL,
	last_refill INTEGER NOT NULL,
	PRIMARY KEY (user_id, action)
);
`
