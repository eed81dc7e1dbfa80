// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobqueue persists background jobs as rows in the catalog
// database. Enqueue runs on the caller's connection, so a job record
// commits atomically with the business data that produced it and is
// never visible for a transaction that rolled back. An independent
// Runner claims and executes due jobs.
package jobqueue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crateworks/registry/internal/catalog"
)

// Job kinds emitted by the publish pipeline.
const (
	// JobRenderReadme renders a version's readme and uploads the result.
	JobRenderReadme = "render_and_upload_readme"
	// JobSyncIndex propagates a crate's state to the package index.
	JobSyncIndex = "sync_to_index"
)

const maxRetries = 5

// lockLease bounds how long a claim may go unfinished before another
// runner may reclaim the job. Covers workers that crashed or were
// killed between claiming and finishing.
const lockLease = 15 * time.Minute

// RenderReadmeArgs is the payload of a JobRenderReadme job.
type RenderReadmeArgs struct {
	VersionID  int64  `json:"version_id"`
	Text       string `json:"text"`
	File       string `json:"file"`
	Repository string `json:"repository,omitempty"`
	PathInVCS  string `json:"pkg_path_in_vcs,omitempty"`
}

// SyncIndexArgs is the payload of a JobSyncIndex job.
type SyncIndexArgs struct {
	Crate string `json:"crate"`
}

// Job is one claimed background job.
type Job struct {
	ID      string
	Type    string
	Data    json.RawMessage
	Retries int
}

// Enqueue inserts a job row on the caller's connection. If the caller
// is inside a transaction the job becomes visible only on commit.
func Enqueue(conn *sqlite.Conn, jobType string, args any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return errors.Wrapf(err, "encoding %s job", jobType)
	}
	now := time.Now().Unix()
	err = sqlitex.Execute(conn, `
		INSERT INTO background_jobs (id, job_type, data, run_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{uuid.NewString(), jobType, string(data), now, now},
		})
	return errors.Wrapf(err, "enqueuing %s job", jobType)
}

// Handler executes one job kind.
type Handler func(ctx context.Context, job Job) error

// Runner polls for due jobs and dispatches them to registered
// handlers. Failed jobs are retried with exponential backoff and
// dropped after exhausting their retries.
type Runner struct {
	catalog  *catalog.Catalog
	handlers map[string]Handler
	interval time.Duration
	id       string
}

// NewRunner creates a runner polling at the given interval.
func NewRunner(c *catalog.Catalog, interval time.Duration) *Runner {
	return &Runner{
		catalog:  c,
		handlers: make(map[string]Handler),
		interval: interval,
		id:       uuid.NewString(),
	}
}

// Register installs the handler for a job kind.
func (r *Runner) Register(jobType string, h Handler) *Runner {
	r.handlers[jobType] = h
	return r
}

// Run processes jobs until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for {
			job, err := r.claim(ctx)
			if err != nil {
				log.Printf("claiming job: %v", err)
				break
			}
			if job == nil {
				break
			}
			r.execute(ctx, *job)
		}
	}
}

// claim locks and returns one due job, or nil when none are due.
// Jobs whose lock outlived lockLease are treated as abandoned by a
// dead runner and are eligible again.
func (r *Runner) claim(ctx context.Context) (*Job, error) {
	conn, err := r.catalog.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.catalog.Put(conn)

	now := time.Now()
	var job *Job
	err = sqlitex.Execute(conn, `
		UPDATE background_jobs SET locked_by = ?, locked_at = ?
		WHERE id IN (
			SELECT id FROM background_jobs
			WHERE (locked_by IS NULL OR locked_at <= ?) AND run_at <= ?
			ORDER BY run_at LIMIT 1
		)
		RETURNING id, job_type, data, retries`,
		&sqlitex.ExecOptions{
			Args: []any{r.id, now.Unix(), now.Add(-lockLease).Unix(), now.Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				job = &Job{
					ID:      stmt.ColumnText(0),
					Type:    stmt.ColumnText(1),
					Data:    json.RawMessage(stmt.ColumnText(2)),
					Retries: int(stmt.ColumnInt64(3)),
				}
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "claiming job")
	}
	return job, nil
}

func (r *Runner) execute(ctx context.Context, job Job) {
	// Bookkeeping must outlive the run context: a claimed job that is
	// neither finished nor rescheduled would stay locked until its
	// lease expires.
	bookCtx := context.WithoutCancel(ctx)
	handler, ok := r.handlers[job.Type]
	if !ok {
		log.Printf("no handler registered for job type %s; dropping %s", job.Type, job.ID)
		r.finish(bookCtx, job.ID)
		return
	}
	if err := handler(ctx, job); err != nil {
		log.Printf("job %s (%s) failed: %v", job.ID, job.Type, err)
		r.retryOrDrop(bookCtx, job)
		return
	}
	r.finish(bookCtx, job.ID)
}

func (r *Runner) finish(ctx context.Context, id string) {
	conn, err := r.catalog.Take(ctx)
	if err != nil {
		log.Printf("finishing job %s: %v", id, err)
		return
	}
	defer r.catalog.Put(conn)
	err = sqlitex.Execute(conn, `DELETE FROM background_jobs WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		log.Printf("finishing job %s: %v", id, err)
	}
}

func (r *Runner) retryOrDrop(ctx context.Context, job Job) {
	conn, err := r.catalog.Take(ctx)
	if err != nil {
		log.Printf("rescheduling job %s: %v", job.ID, err)
		return
	}
	defer r.catalog.Put(conn)
	if job.Retries+1 >= maxRetries {
		log.Printf("job %s (%s) exhausted retries; dropping", job.ID, job.Type)
		err = sqlitex.Execute(conn, `DELETE FROM background_jobs WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{job.ID}})
	} else {
		backoff := time.Duration(1<<uint(job.Retries)) * time.Minute
		err = sqlitex.Execute(conn, `
			UPDATE background_jobs SET retries = retries + 1, run_at = ?, locked_by = NULL, locked_at = NULL
			WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{time.Now().Add(backoff).Unix(), job.ID}})
	}
	if err != nil {
		log.Printf("rescheduling job %s: %v", job.ID, err)
	}
}

// Pending returns the unclaimed job rows, oldest first. Used by the
// operator CLI and tests.
func Pending(conn *sqlite.Conn) ([]Job, error) {
	var jobs []Job
	err := sqlitex.Execute(conn, `
		SELECT id, job_type, data, retries FROM background_jobs
		WHERE locked_by IS NULL ORDER BY created_at`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				jobs = append(jobs, Job{
					ID:      stmt.ColumnText(0),
					Type:    stmt.ColumnText(1),
					Data:    json.RawMessage(stmt.ColumnText(2)),
					Retries: int(stmt.ColumnInt64(3)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, "listing pending jobs")
	}
	return jobs, nil
}
