// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/crateworks/registry/internal/catalog"
	"github.com/crateworks/registry/pkg/cargo"
)

// Dependency is one normalized dependency entry: a manifest dependency
// flattened out of its group (normal/dev/build, optionally per build
// target) with renames resolved and defaults filled in.
type Dependency struct {
	// Name is the actual crate name (the `package` value when the
	// manifest key is a rename).
	Name            string
	Req             string
	Kind            int
	Optional        bool
	DefaultFeatures bool
	Features        []string
	Target          string
	// ExplicitName is the manifest key when it differs from Name.
	ExplicitName string
	// Registry is the external-registry marker; any non-empty value
	// is rejected.
	Registry string
}

// ConvertDependencies flattens every dependency group of the manifest
// into one ordered list. Group order is normal, dev, build, then the
// same three per build target; entries within a group are ordered by
// manifest key.
func ConvertDependencies(m *cargo.Manifest) []Dependency {
	var deps []Dependency
	add := func(set cargo.DepSet, kind int, target string) {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			deps = append(deps, convertDependency(name, cargo.Detail(set[name]), kind, target))
		}
	}
	add(m.Dependencies, catalog.DepKindNormal, "")
	add(m.DevDependencies, catalog.DepKindDev, "")
	add(m.BuildDependencies, catalog.DepKindBuild, "")

	targets := make([]string, 0, len(m.Target))
	for target := range m.Target {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		set := m.Target[target]
		add(set.Dependencies, catalog.DepKindNormal, target)
		add(set.DevDependencies, catalog.DepKindDev, target)
		add(set.BuildDependencies, catalog.DepKindBuild, target)
	}
	return deps
}

func convertDependency(name string, detail cargo.DepDetail, kind int, target string) Dependency {
	dep := Dependency{
		Name:            name,
		Req:             detail.Req,
		Kind:            kind,
		DefaultFeatures: true,
		Features:        detail.Features,
		Target:          target,
		Registry:        detail.Registry,
	}
	if detail.Package != "" {
		dep.Name = detail.Package
		dep.ExplicitName = name
	}
	if detail.Optional != nil {
		dep.Optional = *detail.Optional
	}
	if detail.DefaultFeatures != nil {
		dep.DefaultFeatures = *detail.DefaultFeatures
	}
	// Re-render the requirement to normalize formatting; values that
	// fail to parse are kept raw and rejected by ValidateDependency.
	if c, err := semver.NewConstraint(dep.Req); err == nil {
		dep.Req = c.String()
	}
	return dep
}

// ValidateDependency enforces the per-dependency rules: name grammar,
// feature grammars, no cross-registry dependencies, a parseable and
// non-wildcard requirement, and the rename grammar when present.
func ValidateDependency(dep Dependency) error {
	if !cargo.ValidCrateName(dep.Name) {
		return validationErrf(
			"%q is an invalid dependency name (dependency names must "+
				"start with a letter, contain only letters, numbers, hyphens, "+
				"or underscores and have at most %d characters)", dep.Name, cargo.MaxNameLength)
	}
	for _, feature := range dep.Features {
		if !cargo.ValidFeature(feature) {
			return validationErrf("%q is an invalid feature name", feature)
		}
	}
	if dep.Registry != "" {
		return validationErrf("Dependency `%s` is hosted on another registry. Cross-registry dependencies are not permitted on this registry.", dep.Name)
	}
	if _, err := semver.NewConstraint(dep.Req); err != nil {
		return validationErrf("%q is an invalid version requirement", dep.Req)
	}
	if isWildcardReq(dep.Req) {
		return validationErrf(
			"wildcard (`*`) dependency constraints are not allowed "+
				"on this registry. Crate with this problem: `%s` See the "+
				"dependency documentation for more information", dep.Name)
	}
	if dep.ExplicitName != "" && !cargo.ValidDependencyName(dep.ExplicitName) {
		return validationErrf(
			"%q is an invalid dependency name (dependency "+
				"names must start with a letter or underscore, contain only "+
				"letters, numbers, hyphens, or underscores and have at most "+
				"%d characters)", dep.ExplicitName, cargo.MaxNameLength)
	}
	return nil
}

// isWildcardReq reports whether the requirement matches every version
// of every crate. Only the catalog-wide wildcard is banned; bounded
// wildcards like `1.*` remain legal.
func isWildcardReq(req string) bool {
	return strings.TrimSpace(req) == "*"
}
