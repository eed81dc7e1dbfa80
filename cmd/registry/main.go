// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Registry serves the crate publish API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/crateworks/registry/internal/api"
	"github.com/crateworks/registry/internal/auth"
	"github.com/crateworks/registry/internal/catalog"
	"github.com/crateworks/registry/internal/config"
	"github.com/crateworks/registry/internal/cratestore"
	"github.com/crateworks/registry/internal/publish"
	"github.com/crateworks/registry/internal/ratelimit"
)

var (
	addr          = flag.String("addr", "", "HTTP listen address (overrides REGISTRY_ADDR)")
	dbPath        = flag.String("db", "", "catalog database path (overrides REGISTRY_DB)")
	storeLocation = flag.String("store", "", "object store location URL (overrides REGISTRY_STORE)")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.FromEnvironment()
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		cfg.Addr = *addr
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

	publisher := publish.NewPublisher(cat, auth.TokenResolver{}, ratelimit.New(cfg.RateLimit), store, cfg.Publish)

	// Framing adds the two length prefixes and the metadata JSON on
	// top of the tarball, so leave headroom over the tarball cap
	// before rejecting a request outright.
	maxBody := cfg.Publish.MaxUploadSize * 2

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/crates/new", api.PublishHandler(publisher, maxBody))

	log.Printf("listening on %s", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, mux))
}
