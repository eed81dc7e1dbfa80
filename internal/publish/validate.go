// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"net/url"
	"strings"

	"github.com/crateworks/registry/pkg/cargo"
)

// NonStandardLicense is persisted as the license when a crate declares
// only a license file and no expression.
const NonStandardLicense = "non-standard"

const missingRightsMessage = "this crate exists but you don't seem to be an owner. " +
	"If you believe this is a mistake, perhaps you need " +
	"to accept an invitation to be an owner before " +
	"publishing."

func validateCrateName(name string) error {
	if !cargo.ValidCrateName(name) {
		return validationErrf(
			"%q is an invalid crate name (crate names must start with a "+
				"letter, contain only letters, numbers, hyphens, or underscores and "+
				"have at most %d characters)", name, cargo.MaxNameLength)
	}
	return nil
}

// validateRequiredMetadata checks that a description and some form of
// license are present, naming every missing field in one error.
func validateRequiredMetadata(description, license, licenseFile string) error {
	var missing []string
	if description == "" {
		missing = append(missing, "description")
	}
	if license == "" && licenseFile == "" {
		missing = append(missing, "license")
	}
	if len(missing) > 0 {
		return validationErrf(
			"missing or empty metadata fields: %s. Please "+
				"see the manifest reference documentation for "+
				"more information on configuring these fields", strings.Join(missing, ", "))
	}
	return nil
}

// resolveLicense validates a declared license expression, or falls
// back to the non-standard sentinel when only a license file is given.
func resolveLicense(license, licenseFile string) (string, error) {
	if license != "" {
		if err := cargo.ParseLicenseExpr(license); err != nil {
			return "", validationErrf(
				"unknown or invalid license expression; "+
					"see http://opensource.org/licenses for options, "+
					"and http://spdx.org/licenses/ for their identifiers\n"+
					"Note: If you have a non-standard license that is not listed by SPDX, "+
					"use the license-file field to specify the path to a file containing "+
					"the text of the license.\n%v", err)
		}
		return license, nil
	}
	if licenseFile != "" {
		return NonStandardLicense, nil
	}
	return "", nil
}

// validateURL requires declared URLs to be absolute http(s) URLs. The
// prefix is checked on the raw string because url.Parse normalizes
// single-slash forms like `https:/example.com` into something that
// would otherwise pass.
func validateURL(value, field string) error {
	if value == "" {
		return nil
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return validationErrf("URL for field `%s` must begin with http:// or https:// (url: %s)", field, value)
	}
	if _, err := url.Parse(value); err != nil {
		return validationErrf("`%s` is not a valid url: `%s`", field, value)
	}
	return nil
}

// validateRustVersion accepts only bare dotted numeric versions: no
// operators, no pre-release tags, even though the requirement grammar
// downstream tooling uses is more permissive.
func validateRustVersion(value string) error {
	if value == "" {
		return nil
	}
	for _, c := range value {
		if (c < '0' || c > '9') && c != '.' {
			return validationErrf("failed to parse `Cargo.toml` manifest file\n\ninvalid `rust-version` value")
		}
	}
	parts := strings.Split(value, ".")
	if len(parts) > 3 {
		return validationErrf("failed to parse `Cargo.toml` manifest file\n\ninvalid `rust-version` value")
	}
	for _, part := range parts {
		if part == "" {
			return validationErrf("failed to parse `Cargo.toml` manifest file\n\ninvalid `rust-version` value")
		}
	}
	return nil
}

func validateKeywords(keywords []string) error {
	if len(keywords) > 5 {
		return validationErrf("expected at most 5 keywords per crate")
	}
	for _, keyword := range keywords {
		if len(keyword) > 20 {
			return validationErrf("%q is an invalid keyword (keywords must have less than 20 characters)", keyword)
		}
		if !cargo.ValidKeyword(keyword) {
			return validationErrf("%q is an invalid keyword", keyword)
		}
	}
	return nil
}

func validateCategoryCount(categories []string) error {
	if len(categories) > 5 {
		return validationErrf("expected at most 5 categories per crate")
	}
	return nil
}

// validateFeatures bounds the total feature count and each feature's
// enabled-item list by maxFeatures, and checks every name against the
// feature grammars.
func validateFeatures(features map[string][]string, maxFeatures int) error {
	if len(features) > maxFeatures {
		return validationErrf(
			"the registry only allows a maximum number of %d features, "+
				"but your crate is declaring %d features", maxFeatures, len(features))
	}
	for name, enabled := range features {
		if !cargo.ValidFeatureName(name) {
			return validationErrf("%q is an invalid feature name (feature names must contain only letters, numbers, '-', '+', or '_')", name)
		}
		if len(enabled) > maxFeatures {
			return validationErrf(
				"the registry only allows a maximum number of %d features or "+
					"dependencies that another feature can enable, but the %q feature "+
					"of your crate is enabling %d features or dependencies", maxFeatures, name, len(enabled))
		}
		for _, item := range enabled {
			if !cargo.ValidFeature(item) {
				return validationErrf("%q is an invalid feature name", item)
			}
		}
	}
	return nil
}
