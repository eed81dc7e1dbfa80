// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the registry server configuration from the
// environment, with publish limits optionally overridden by a YAML
// limits file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/crateworks/registry/internal/publish"
	"github.com/crateworks/registry/internal/ratelimit"
)

// Defaults for publish limits.
const (
	DefaultMaxUploadSize = 10 << 20  // 10 MiB
	DefaultMaxUnpackSize = 512 << 20 // 512 MiB
	DefaultMaxFeatures   = 300
)

// Server is the full configuration of the registry service.
type Server struct {
	// Addr is the HTTP listen address.
	Addr string
	// DBPath is the catalog SQLite database path.
	DBPath string
	// StoreLocation is the object-store location URL (gs:// or file://).
	StoreLocation string

	Publish   publish.Config
	RateLimit map[ratelimit.Action]ratelimit.ActionConfig
}

// limitsFile is the YAML shape of an operator-provided limits file.
// Refill intervals are duration strings like "30m".
type limitsFile struct {
	MaxUploadSize       int64        `yaml:"max_upload_size"`
	MaxUnpackSize       int64        `yaml:"max_unpack_size"`
	MaxFeatures         int          `yaml:"max_features"`
	NewVersionRateLimit int          `yaml:"new_version_rate_limit"`
	PublishNew          bucketLimits `yaml:"publish_new"`
	PublishUpdate       bucketLimits `yaml:"publish_update"`
}

type bucketLimits struct {
	Burst       int    `yaml:"burst"`
	RefillEvery string `yaml:"refill_every"`
}

func (b bucketLimits) config() (ratelimit.ActionConfig, error) {
	refill, err := time.ParseDuration(b.RefillEvery)
	if err != nil {
		return ratelimit.ActionConfig{}, errors.Wrapf(err, "parsing refill interval %q", b.RefillEvery)
	}
	return ratelimit.ActionConfig{Burst: b.Burst, RefillEvery: refill}, nil
}

// FromEnvironment builds the server config. Recognized variables:
//
//   - REGISTRY_ADDR: listen address (default ":8080")
//   - REGISTRY_DB: catalog database path (default "registry.db")
//   - REGISTRY_STORE: object-store URL (default "file:///var/lib/registry/store")
//   - REGISTRY_LIMITS_FILE: optional YAML limits file
//   - REGISTRY_NEW_VERSION_RATE_LIMIT: optional daily per-crate cap
func FromEnvironment() (*Server, error) {
	s := &Server{
		Addr:          envOr("REGISTRY_ADDR", ":8080"),
		DBPath:        envOr("REGISTRY_DB", "registry.db"),
		StoreLocation: envOr("REGISTRY_STORE", "file:///var/lib/registry/store"),
		Publish: publish.Config{
			MaxUploadSize: DefaultMaxUploadSize,
			MaxUnpackSize: DefaultMaxUnpackSize,
			MaxFeatures:   DefaultMaxFeatures,
		},
		RateLimit: ratelimit.DefaultConfig(),
	}
	if v := os.Getenv("REGISTRY_NEW_VERSION_RATE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "parsing REGISTRY_NEW_VERSION_RATE_LIMIT")
		}
		s.Publish.NewVersionRateLimit = limit
	}
	if path := os.Getenv("REGISTRY_LIMITS_FILE"); path != "" {
		if err := s.applyLimitsFile(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) applyLimitsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading limits file %s", path)
	}
	var limits limitsFile
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return errors.Wrapf(err, "parsing limits file %s", path)
	}
	if limits.MaxUploadSize > 0 {
		s.Publish.MaxUploadSize = limits.MaxUploadSize
	}
	if limits.MaxUnpackSize > 0 {
		s.Publish.MaxUnpackSize = limits.MaxUnpackSize
	}
	if limits.MaxFeatures > 0 {
		s.Publish.MaxFeatures = limits.MaxFeatures
	}
	if limits.NewVersionRateLimit > 0 {
		s.Publish.NewVersionRateLimit = limits.NewVersionRateLimit
	}
	if limits.PublishNew.Burst > 0 {
		cfg, err := limits.PublishNew.config()
		if err != nil {
			return err
		}
		s.RateLimit[ratelimit.ActionPublishNew] = cfg
	}
	if limits.PublishUpdate.Burst > 0 {
		cfg, err := limits.PublishUpdate.config()
		if err != nil {
			return err
		}
		s.RateLimit[ratelimit.ActionPublishUpdate] = cfg
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
