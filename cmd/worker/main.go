// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Worker drains the registry's background job queue: it renders and
// uploads readmes and propagates published crates to the index.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/crateworks/registry/internal/catalog"
	"github.com/crateworks/registry/internal/config"
	"github.com/crateworks/registry/internal/cratestore"
	"github.com/crateworks/registry/internal/jobqueue"
	"github.com/crateworks/registry/internal/readme"
)

var (
	dbPath        = flag.String("db", "", "catalog database path (overrides REGISTRY_DB)")
	storeLocation = flag.String("store", "", "object store location URL (overrides REGISTRY_STORE)")
	pollInterval  = flag.Duration("poll-interval", 5*time.Second, "job queue poll interval")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.FromEnvironment()
	if err != nil {
		log.Fatal(err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *storeLocation != "" {
		cfg.StoreLocation = *storeLocation
	}

	cat, err := catalog.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer cat.Close()

	store, err := cratestore.FromLocation(ctx, cfg.StoreLocation)
	if err != nil {
		log.Fatal(err)
	}

	runner := jobqueue.NewRunner(cat, *pollInterval).
		Register(jobqueue.JobRenderReadme, renderReadme(cat, store)).
		Register(jobqueue.JobSyncIndex, syncIndex)

	log.Printf("worker polling every %s", *pollInterval)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// renderReadme renders the version's readme to HTML and uploads it
// alongside the crate artifact.
func renderReadme(cat *catalog.Catalog, store cratestore.Store) jobqueue.Handler {
	return func(ctx context.Context, job jobqueue.Job) error {
		var args jobqueue.RenderReadmeArgs
		if err := json.Unmarshal(job.Data, &args); err != nil {
			return errors.Wrap(err, "decoding readme job")
		}
		conn, err := cat.Take(ctx)
		if err != nil {
			return err
		}
		crate, num, err := catalog.VersionCoordinates(conn, args.VersionID)
		cat.Put(conn)
		if err != nil {
			return err
		}
		if crate == "" {
			log.Printf("version %d gone; dropping readme job %s", args.VersionID, job.ID)
			return nil
		}
		html, err := readme.Render(args.Text, args.File)
		if err != nil {
			return errors.Wrapf(err, "rendering readme for %s-%s", crate, num)
		}
		return store.UploadReadme(ctx, crate, num, html)
	}
}

// syncIndex records index propagation. The registry's git index is
// maintained by a separate service; this worker only acknowledges the
// hand-off.
func syncIndex(ctx context.Context, job jobqueue.Job) error {
	var args jobqueue.SyncIndexArgs
	if err := json.Unmarshal(job.Data, &args); err != nil {
		return errors.Wrap(err, "decoding index job")
	}
	log.Printf("index sync requested for crate %s", args.Crate)
	return nil
}
