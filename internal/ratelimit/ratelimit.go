// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles publish actions per user with token
// buckets persisted in the catalog database, so limiter decisions
// share the transaction of the operation they are guarding.
package ratelimit

import (
	"time"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Action identifies a rate-limited operation.
type Action int

const (
	// ActionPublishNew is the first publish of a crate name.
	ActionPublishNew Action = iota
	// ActionPublishUpdate is a new version of an existing crate.
	ActionPublishUpdate
)

func (a Action) String() string {
	if a == ActionPublishNew {
		return "publish a new crate"
	}
	return "publish a new version of an existing crate"
}

// ErrThrottled is returned when the bucket for (user, action) is empty.
var ErrThrottled = errors.New("too many requests")

// ActionConfig is the token-bucket shape for one action.
type ActionConfig struct {
	// Burst is the bucket capacity.
	Burst int
	// RefillEvery is the interval at which one token is returned.
	RefillEvery time.Duration
}

// Limiter checks per-user token buckets on the caller's connection.
type Limiter struct {
	cfg map[Action]ActionConfig
	now func() time.Time
}

// DefaultConfig mirrors production limits: new crates are throttled
// much harder than updates.
func DefaultConfig() map[Action]ActionConfig {
	return map[Action]ActionConfig{
		ActionPublishNew:    {Burst: 5, RefillEvery: 10 * time.Minute},
		ActionPublishUpdate: {Burst: 30, RefillEvery: time.Minute},
	}
}

// New creates a limiter with the given per-action configuration.
// Actions without configuration are unlimited.
func New(cfg map[Action]ActionConfig) *Limiter {
	return &Limiter{cfg: cfg, now: time.Now}
}

// Check consumes one token from the user's bucket for the action,
// failing with ErrThrottled when none remain. It runs on the caller's
// connection so the decision commits or rolls back with the caller's
// transaction.
func (l *Limiter) Check(conn *sqlite.Conn, userID int64, action Action) error {
	cfg, limited := l.cfg[action]
	if !limited || cfg.Burst <= 0 {
		return nil
	}
	now := l.now()

	var tokens float64
	var lastRefill time.Time
	found := false
	err := sqlitex.Execute(conn, `SELECT tokens, last_refill FROM rate_limit_buckets WHERE user_id = ? AND action = ?`, &sqlitex.ExecOptions{
		Args: []any{userID, int(action)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tokens = stmt.ColumnFloat(0)
			lastRefill = time.Unix(stmt.ColumnInt64(1), 0)
			found = true
			return nil
		},
	})
	if err != nil {
		return errors.Wrap(err, "loading rate limit bucket")
	}
	if !found {
		tokens = float64(cfg.Burst)
		lastRefill = now
	} else {
		refilled := float64(now.Sub(lastRefill)) / float64(cfg.RefillEvery)
		if refilled > 0 {
			tokens += refilled
			lastRefill = now
		}
		if tokens > float64(cfg.Burst) {
			tokens = float64(cfg.Burst)
		}
	}
	if tokens < 1 {
		return errors.Wrapf(ErrThrottled, "you have recently performed this action too many times (%s)", action)
	}
	tokens--
	err = sqlitex.Execute(conn, `
		INSERT INTO rate_limit_buckets (user_id, action, tokens, last_refill)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, action) DO UPDATE SET tokens = excluded.tokens, last_refill = excluded.last_refill`,
		&sqlitex.ExecOptions{
			Args: []any{userID, int(action), tokens, lastRefill.Unix()},
		})
	return errors.Wrap(err, "updating rate limit bucket")
}
