// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package cargo

import (
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Manifest is the subset of the Cargo.toml file format the registry
// cares about at publish time.
//
// Format: https://doc.rust-lang.org/cargo/reference/manifest.html
type Manifest struct {
	Package           *Package              `toml:"package"`
	Features          map[string][]string   `toml:"features"`
	Dependencies      DepSet                `toml:"dependencies"`
	DevDependencies   DepSet                `toml:"dev-dependencies"`
	BuildDependencies DepSet                `toml:"build-dependencies"`
	Target            map[string]TargetDeps `toml:"target"`
}

// Package is the [package] section of the manifest.
//
// Fields that support workspace inheritance are declared as `any` so
// that both the local form (a plain string) and the inherited form
// (a `{ workspace = true }` table) decode; Process rejects the latter.
type Package struct {
	Name          string   `toml:"name"`
	RawVersion    any      `toml:"version"`
	Description   string   `toml:"description"`
	License       string   `toml:"license"`
	LicenseFile   string   `toml:"license-file"`
	Homepage      string   `toml:"homepage"`
	Documentation string   `toml:"documentation"`
	Repository    string   `toml:"repository"`
	Readme        any      `toml:"readme"`
	Keywords      []string `toml:"keywords"`
	Categories    []string `toml:"categories"`
	Links         string   `toml:"links"`
	RustVersion   string   `toml:"rust-version"`
	RawWorkspace  any      `toml:"workspace"`
}

// Version returns the declared package version, or "" if the field is
// absent or uses workspace inheritance.
func (p *Package) Version() string {
	v, _ := p.RawVersion.(string)
	return v
}

// Inherited reports whether the version field uses workspace
// inheritance (`version.workspace = true`), which published crates
// must not.
func (p *Package) Inherited() bool {
	_, ok := p.RawVersion.(map[string]any)
	return ok
}

// TargetDeps holds the dependency tables declared under a
// [target.'...'] section.
type TargetDeps struct {
	Dependencies      DepSet `toml:"dependencies"`
	DevDependencies   DepSet `toml:"dev-dependencies"`
	BuildDependencies DepSet `toml:"build-dependencies"`
}

// DepSet is a dependency table keyed by the name used in the manifest.
// Each value is either a bare requirement string or a detail table;
// use Detail to coerce.
type DepSet map[string]any

// DepDetail is the normalized form of one dependency table entry.
type DepDetail struct {
	Req             string
	Optional        *bool
	DefaultFeatures *bool
	Features        []string
	Package         string
	Registry        string
}

// Detail coerces a DepSet entry into its detail form. A bare string
// entry like `serde = "1.0"` populates only Req.
func Detail(v any) DepDetail {
	switch dep := v.(type) {
	case string:
		return DepDetail{Req: dep}
	case map[string]any:
		var d DepDetail
		d.Req, _ = dep["version"].(string)
		if opt, ok := dep["optional"].(bool); ok {
			d.Optional = &opt
		}
		if def, ok := dep["default-features"].(bool); ok {
			d.DefaultFeatures = &def
		}
		if feats, ok := dep["features"].([]any); ok {
			for _, f := range feats {
				if s, ok := f.(string); ok {
					d.Features = append(d.Features, s)
				}
			}
		}
		d.Package, _ = dep["package"].(string)
		d.Registry, _ = dep["registry"].(string)
		return d
	default:
		return DepDetail{}
	}
}

// ParseManifest decodes a Cargo.toml manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding manifest")
	}
	return &m, nil
}
