// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"time"

	"github.com/crateworks/registry/internal/catalog"
)

// Warnings are non-fatal findings returned with a successful publish.
// Only invalid categories are populated today; the other fields are
// kept for client compatibility.
type Warnings struct {
	InvalidCategories []string `json:"invalid_categories"`
	InvalidBadges     []string `json:"invalid_badges"`
	Other             []string `json:"other"`
}

// EncodableCrate is the crate summary in the success payload.
type EncodableCrate struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Homepage      string    `json:"homepage,omitempty"`
	Documentation string    `json:"documentation,omitempty"`
	Repository    string    `json:"repository,omitempty"`
	MaxVersion    string    `json:"max_version"`
	MaxStable     string    `json:"max_stable_version,omitempty"`
	NewestVersion string    `json:"newest_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GoodCrate is the success payload of a publish.
type GoodCrate struct {
	Crate    EncodableCrate `json:"crate"`
	Warnings Warnings       `json:"warnings"`
}

func encodeCrate(crate *catalog.Crate, top catalog.TopVersions) EncodableCrate {
	return EncodableCrate{
		Name:          crate.Name,
		Description:   crate.Description,
		Homepage:      crate.Homepage,
		Documentation: crate.Documentation,
		Repository:    crate.Repository,
		MaxVersion:    top.Highest,
		MaxStable:     top.HighestStable,
		NewestVersion: top.Newest,
		CreatedAt:     crate.CreatedAt,
		UpdatedAt:     crate.UpdatedAt,
	}
}
