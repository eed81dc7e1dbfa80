// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package tarball unpacks and validates uploaded crate archives.
//
// A crate archive is a gzipped tarball whose entries all live under a
// single `<name>-<version>/` directory. Processing enforces the layout
// and safety rules the registry requires before any of the contained
// metadata is trusted.
package tarball

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/crateworks/registry/pkg/cargo"
)

// Error kinds surfaced by Process. Each maps to a distinct user-facing
// message; all are terminal validation failures, never retryable.
var (
	ErrMalformed         = errors.New("uploaded tarball is malformed or too large when decompressed")
	ErrMissingManifest   = errors.New("uploaded tarball is missing a `Cargo.toml` manifest file")
	ErrTooManyManifests  = errors.New("uploaded tarball contains more than one `Cargo.toml` manifest file")
	ErrIncorrectlyCased  = errors.New("manifest must be named `Cargo.toml` with that exact casing")
	ErrInvalidManifest   = errors.New("failed to parse `Cargo.toml` manifest file")
	ErrUnexpectedSymlink = errors.New("unexpected symlink or hard link found")
	ErrInvalidPath       = errors.New("invalid path found")
)

// VCSInfo is the version-control placement metadata from the
// .cargo_vcs_info.json file included by `cargo package`.
type VCSInfo struct {
	Git struct {
		SHA1 string `json:"sha1"`
	} `json:"git"`
	PathInVCS string `json:"path_in_vcs"`
}

// Info is the result of a successful Process call.
type Info struct {
	Manifest *cargo.Manifest
	VCSInfo  *VCSInfo
}

// Process unpacks the archive for pkgName (the `<name>-<version>`
// directory prefix), enforcing that the decompressed contents stay
// under maxUnpack bytes, that no entry escapes the package directory,
// and that exactly one correctly-named manifest is present at the
// package root. The parsed manifest must contain a [package] section
// without workspace inheritance.
func Process(pkgName string, data []byte, maxUnpack int64) (*Info, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	defer gz.Close()

	// The +1 lets us detect the overflow without decompressing past it.
	limited := &io.LimitedReader{R: gz, N: maxUnpack + 1}
	tr := tar.NewReader(limited)

	prefix := pkgName + "/"
	var manifestData []byte
	var manifestNames []string
	var vcsInfo *VCSInfo
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if limited.N <= 0 {
				return nil, ErrMalformed
			}
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		name := hdr.Name
		clean := path.Clean(name)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return nil, errors.Wrapf(ErrInvalidPath, "%s", name)
		}
		if clean != pkgName && !strings.HasPrefix(clean, prefix) {
			return nil, errors.Wrapf(ErrInvalidPath, "%s", name)
		}
		switch hdr.Typeflag {
		case tar.TypeSymlink, tar.TypeLink:
			return nil, errors.Wrapf(ErrUnexpectedSymlink, "%s", name)
		}
		inPackage := strings.TrimPrefix(clean, prefix)
		switch {
		case strings.EqualFold(inPackage, "Cargo.toml"):
			manifestNames = append(manifestNames, inPackage)
			if inPackage == "Cargo.toml" {
				manifestData, err = io.ReadAll(tr)
				if err != nil {
					if limited.N <= 0 {
						return nil, ErrMalformed
					}
					return nil, errors.Wrap(err, "reading manifest")
				}
			}
		case inPackage == ".cargo_vcs_info.json":
			raw, err := io.ReadAll(tr)
			if err != nil {
				return nil, errors.Wrap(err, "reading vcs info")
			}
			var info VCSInfo
			// Ignored when malformed; placement metadata is advisory.
			if json.Unmarshal(raw, &info) == nil {
				vcsInfo = &info
			}
		default:
			if _, err := io.Copy(io.Discard, tr); err != nil {
				if limited.N <= 0 {
					return nil, ErrMalformed
				}
				return nil, errors.Wrap(err, "reading entry")
			}
		}
		if limited.N <= 0 {
			return nil, ErrMalformed
		}
	}

	switch {
	case len(manifestNames) == 0:
		return nil, ErrMissingManifest
	case len(manifestNames) > 1:
		return nil, errors.Wrapf(ErrTooManyManifests, "found `%s`", strings.Join(manifestNames, "`, `"))
	case manifestNames[0] != "Cargo.toml":
		return nil, errors.Wrapf(ErrIncorrectlyCased, "`%s` was found", manifestNames[0])
	}

	manifest, err := cargo.ParseManifest(manifestData)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidManifest, err.Error())
	}
	if manifest.Package == nil {
		return nil, errors.Wrap(ErrInvalidManifest, "missing [package] section")
	}
	if manifest.Package.Inherited() || manifest.Package.Version() == "" {
		return nil, errors.Wrap(ErrInvalidManifest, "workspace inheritance is not supported in published manifests")
	}
	return &Info{Manifest: manifest, VCSInfo: vcsInfo}, nil
}
