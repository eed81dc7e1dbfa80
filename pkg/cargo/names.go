// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package cargo models Cargo package manifests and the naming grammars
// enforced by the registry.
package cargo

import "strings"

// MaxNameLength is the maximum length of a crate or dependency name.
const MaxNameLength = 64

// ValidCrateName reports whether name is acceptable as a crate name:
// it must start with a letter, contain only letters, digits, hyphens,
// or underscores, and be at most MaxNameLength characters.
func ValidCrateName(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	for i, c := range name {
		if i == 0 {
			if !isLetter(c) {
				return false
			}
			continue
		}
		if !isLetter(c) && !isDigit(c) && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

// ValidDependencyName is the grammar for explicit dependency renames.
// Unlike crate names, a leading underscore is permitted.
func ValidDependencyName(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	for i, c := range name {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
			continue
		}
		if !isLetter(c) && !isDigit(c) && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

// ValidFeatureName reports whether name is a valid bare feature name.
func ValidFeatureName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !isASCIIAlphanumeric(c) && c != '_' && c != '-' && c != '+' {
			return false
		}
	}
	return true
}

// ValidFeature reports whether name is valid as a feature reference.
// In addition to bare names this accepts `dep:name` markers and
// `dep/feature` (including the weak `dep?/feature` form).
func ValidFeature(name string) bool {
	if dep, feat, ok := strings.Cut(name, "/"); ok {
		dep = strings.TrimSuffix(dep, "?")
		return ValidFeatureName(dep) && ValidFeatureName(feat)
	}
	return ValidFeatureName(strings.TrimPrefix(name, "dep:"))
}

// ValidKeyword reports whether name is a valid crate keyword.
func ValidKeyword(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		if i == 0 {
			if !isASCIIAlphanumeric(c) {
				return false
			}
			continue
		}
		if !isASCIIAlphanumeric(c) && c != '_' && c != '-' && c != '+' {
			return false
		}
	}
	return true
}

// CanonicalName normalizes a crate name for uniqueness comparisons:
// lowercased, with underscores folded to hyphens. Two names with the
// same canonical form refer to the same crate.
func CanonicalName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

func isASCIIAlphanumeric(c rune) bool {
	return isLetter(c) || isDigit(c)
}
