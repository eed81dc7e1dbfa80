// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish implements the crate publish pipeline: decoding the
// upload, validating metadata and artifact, normalizing dependencies,
// and coordinating the atomic catalog write with its deferred side
// effects.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crateworks/registry/internal/auth"
	"github.com/crateworks/registry/internal/catalog"
	"github.com/crateworks/registry/internal/cratestore"
	"github.com/crateworks/registry/internal/jobqueue"
	"github.com/crateworks/registry/internal/ratelimit"
	"github.com/crateworks/registry/pkg/cargo"
	"github.com/crateworks/registry/pkg/cargo/tarball"
)

// Config carries the registry-wide publish limits. Per-crate overrides
// stored on the crate row take precedence where present.
type Config struct {
	// MaxUploadSize caps the tarball segment, in bytes.
	MaxUploadSize int64
	// MaxUnpackSize caps the decompressed artifact size, in bytes.
	MaxUnpackSize int64
	// MaxFeatures caps a crate's feature map and each feature's
	// enabled-item list.
	MaxFeatures int
	// NewVersionRateLimit caps versions per crate per 24 hours.
	// Zero disables the cap.
	NewVersionRateLimit int
}

// Publisher coordinates one publish operation end to end. All catalog
// access for a call is synchronous and linear on a single write
// connection; the artifact upload happens after the transaction's
// success is established and never inside it.
type Publisher struct {
	Catalog *catalog.Catalog
	Auth    auth.Resolver
	Limiter *ratelimit.Limiter
	Store   cratestore.Store
	Config  Config

	// now is swappable for tests.
	now func() time.Time
}

// NewPublisher wires a publisher from its collaborators.
func NewPublisher(c *catalog.Catalog, resolver auth.Resolver, limiter *ratelimit.Limiter, store cratestore.Store, cfg Config) *Publisher {
	return &Publisher{Catalog: c, Auth: resolver, Limiter: limiter, Store: store, Config: cfg, now: time.Now}
}

// Publish runs the full pipeline for one upload. The token is the
// caller's credential; body is the framed request payload. On success
// the catalog reflects the new version, the artifact is stored, and
// the follow-up jobs are queued.
func (p *Publisher) Publish(ctx context.Context, token string, body []byte) (*GoodCrate, error) {
	metadataBytes, tarballBytes, err := SplitBody(body)
	if err != nil {
		return nil, err
	}
	metadata, err := DecodeMetadata(metadataBytes)
	if err != nil {
		return nil, err
	}
	if err := validateCrateName(metadata.Name); err != nil {
		return nil, err
	}
	version, err := semver.StrictNewVersion(metadata.Vers)
	if err != nil {
		return nil, validationErrf("%q is an invalid semver version", metadata.Vers)
	}
	// The canonical rendering replaces the raw input downstream.
	versionString := version.String()

	conn, err := p.Catalog.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Catalog.Put(conn)

	// This lookup only classifies the request as publish-new vs
	// publish-update for authorization and rate limiting. It is not
	// trusted for correctness: the transactional upsert below makes
	// the real determination.
	existing, err := catalog.FindCrateByName(conn, metadata.Name)
	if err != nil {
		return nil, err
	}
	scope := auth.ScopePublishNew
	action := ratelimit.ActionPublishNew
	if existing != nil {
		scope = auth.ScopePublishUpdate
		action = ratelimit.ActionPublishUpdate
	}

	user, err := p.Auth.Check(conn, token, scope, metadata.Name)
	if err != nil {
		return nil, err
	}
	if !user.User.EmailVerified || user.User.Email == "" {
		return nil, validationErrf("A verified email address is required to publish crates. Visit your account settings to set and verify your email address.")
	}

	if err := p.Limiter.Check(conn, user.User.ID, action); err != nil {
		if errors.Is(err, ratelimit.ErrThrottled) {
			return nil, rateLimitErrf("%v", err)
		}
		return nil, err
	}

	maxUpload := p.Config.MaxUploadSize
	if existing != nil && existing.MaxUploadSize != nil {
		maxUpload = *existing.MaxUploadSize
	}
	maxUnpack := p.Config.MaxUnpackSize
	if maxUpload > maxUnpack {
		maxUnpack = maxUpload
	}
	if int64(len(tarballBytes)) > maxUpload {
		return nil, sizeLimitErrf("max upload size is: %d", maxUpload)
	}

	pkgName := metadata.Name + "-" + versionString
	info, err := tarball.Process(pkgName, tarballBytes, maxUnpack)
	if err != nil {
		return nil, mapTarballError(err)
	}
	pkg := info.Manifest.Package

	if err := validateRequiredMetadata(pkg.Description, pkg.License, pkg.LicenseFile); err != nil {
		return nil, err
	}
	license, err := resolveLicense(pkg.License, pkg.LicenseFile)
	if err != nil {
		return nil, err
	}
	for _, field := range []struct{ value, name string }{
		{pkg.Homepage, "homepage"},
		{pkg.Documentation, "documentation"},
		{pkg.Repository, "repository"},
	} {
		if err := validateURL(field.value, field.name); err != nil {
			return nil, err
		}
	}
	if err := validateRustVersion(pkg.RustVersion); err != nil {
		return nil, err
	}
	if err := validateKeywords(pkg.Keywords); err != nil {
		return nil, err
	}
	if err := validateCategoryCount(pkg.Categories); err != nil {
		return nil, err
	}
	maxFeatures := p.Config.MaxFeatures
	if existing != nil && existing.MaxFeatures != nil {
		maxFeatures = int(*existing.MaxFeatures)
	}
	if err := validateFeatures(info.Manifest.Features, maxFeatures); err != nil {
		return nil, err
	}

	deps := ConvertDependencies(info.Manifest)
	for _, dep := range deps {
		if err := ValidateDependency(dep); err != nil {
			return nil, err
		}
	}

	result, err := p.publishTx(conn, txInput{
		metadata:      metadata,
		versionString: versionString,
		user:          user,
		license:       license,
		pkg:           pkg,
		features:      info.Manifest.Features,
		deps:          deps,
		tarballBytes:  tarballBytes,
		vcsInfo:       info.VCSInfo,
	})
	if err != nil {
		return nil, err
	}

	// Deferred, non-transactional effect: the commit already stands,
	// so an upload failure here surfaces as an internal error without
	// undoing the catalog write. Operators reconcile out of band.
	if err := p.Store.UploadCrate(ctx, result.crate.Name, versionString, tarballBytes); err != nil {
		return nil, errors.Wrap(err, "failed to upload crate")
	}

	return &GoodCrate{
		Crate: encodeCrate(result.crate, result.top),
		Warnings: Warnings{
			InvalidCategories: orEmpty(result.invalidCategories),
			InvalidBadges:     []string{},
			Other:             []string{},
		},
	}, nil
}

type txInput struct {
	metadata      *Metadata
	versionString string
	user          *auth.AuthenticatedUser
	license       string
	pkg           *cargo.Package
	features      map[string][]string
	deps          []Dependency
	tarballBytes  []byte
	vcsInfo       *tarball.VCSInfo
}

type txResult struct {
	crate             *catalog.Crate
	top               catalog.TopVersions
	invalidCategories []string
}

// publishTx is the atomic phase: upsert, authorization against the
// persisted row, limits, version insert, dependency linkage, taxonomy
// sync, and job enqueue either all commit or all roll back.
func (p *Publisher) publishTx(conn *sqlite.Conn, in txInput) (_ *txResult, err error) {
	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, errors.Wrap(err, "beginning publish transaction")
	}
	defer endTx(&err)

	now := p.now()

	reserved, err := catalog.IsReservedName(conn, in.metadata.Name)
	if err != nil {
		return nil, err
	}
	if reserved {
		return nil, conflictErrf("cannot upload a crate with a reserved name")
	}

	// Insert first so the crate-creation race resolves on the unique
	// constraint rather than a read-then-decide window. The loser of
	// the race lands on the update path and must still pass the
	// ownership check below.
	crate, _, err := catalog.UpsertCrate(conn, catalog.NewCrate{
		Name:          in.metadata.Name,
		Description:   in.pkg.Description,
		Homepage:      in.pkg.Homepage,
		Documentation: in.pkg.Documentation,
		Repository:    in.pkg.Repository,
		Readme:        in.metadata.Readme,
	}, in.user.User.ID, now)
	if err != nil {
		return nil, err
	}

	rights, err := auth.UserRights(conn, in.user.User.ID, crate.ID)
	if err != nil {
		return nil, err
	}
	if rights < auth.RightsPublish {
		return nil, rightsErr(missingRightsMessage)
	}

	// Canonicalization can map two different-looking names onto the
	// same row; the persisted name is authoritative.
	if crate.Name != in.metadata.Name {
		return nil, validationErrf("crate was previously named `%s`", crate.Name)
	}

	if limit := p.Config.NewVersionRateLimit; limit > 0 {
		published, err := catalog.CountVersionsPublishedSince(conn, crate.ID, now.Add(-24*time.Hour))
		if err != nil {
			return nil, err
		}
		if published >= int64(limit) {
			return nil, rateLimitErrf("You have published too many versions of this crate in the last 24 hours")
		}
	}

	exists, err := catalog.VersionExists(conn, crate.ID, in.versionString)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, conflictErrf("crate version `%s` is already uploaded", catalog.StripBuildMetadata(in.versionString))
	}

	checksum := sha256.Sum256(in.tarballBytes)
	version, err := catalog.InsertVersion(conn, catalog.NewVersion{
		CrateID:     crate.ID,
		Num:         in.versionString,
		Features:    in.features,
		License:     in.license,
		CrateSize:   int64(len(in.tarballBytes)),
		Checksum:    hex.EncodeToString(checksum[:]),
		Links:       in.pkg.Links,
		RustVersion: in.pkg.RustVersion,
		PublishedBy: in.user.User.ID,
	}, in.user.User.Email, now)
	if err != nil {
		return nil, err
	}
	if err := catalog.InsertVersionOwnerAction(conn, version.ID, in.user.User.ID, in.user.TokenID, catalog.ActionPublish, now); err != nil {
		return nil, err
	}

	names := make([]string, len(in.deps))
	for i, dep := range in.deps {
		names[i] = dep.Name
	}
	crateIDs, err := catalog.ResolveCrateIDs(conn, names)
	if err != nil {
		return nil, err
	}
	for _, dep := range in.deps {
		targetID, ok := crateIDs[dep.Name]
		if !ok {
			return nil, depResolutionErrf("no known crate named `%s`", dep.Name)
		}
		err := catalog.InsertDependency(conn, version.ID, targetID, catalog.NewDependency{
			Name:            dep.Name,
			Req:             dep.Req,
			Kind:            dep.Kind,
			Optional:        dep.Optional,
			DefaultFeatures: dep.DefaultFeatures,
			Features:        dep.Features,
			Target:          dep.Target,
			ExplicitName:    dep.ExplicitName,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := catalog.SyncKeywords(conn, crate.ID, in.pkg.Keywords); err != nil {
		return nil, err
	}
	invalidCategories, err := catalog.SyncCategories(conn, crate.ID, in.pkg.Categories)
	if err != nil {
		return nil, err
	}

	top, err := catalog.CrateTopVersions(conn, crate.ID)
	if err != nil {
		return nil, err
	}

	if in.metadata.Readme != "" {
		readmeFile := in.metadata.ReadmeFile
		if readmeFile == "" {
			readmeFile = "README.md"
		}
		args := jobqueue.RenderReadmeArgs{
			VersionID:  version.ID,
			Text:       in.metadata.Readme,
			File:       readmeFile,
			Repository: in.pkg.Repository,
		}
		if in.vcsInfo != nil {
			args.PathInVCS = in.vcsInfo.PathInVCS
		}
		if err := jobqueue.Enqueue(conn, jobqueue.JobRenderReadme, args); err != nil {
			return nil, err
		}
	}
	if err := jobqueue.Enqueue(conn, jobqueue.JobSyncIndex, jobqueue.SyncIndexArgs{Crate: crate.Name}); err != nil {
		return nil, err
	}

	return &txResult{crate: crate, top: top, invalidCategories: invalidCategories}, nil
}

// mapTarballError translates artifact inspection failures into their
// user-facing validation messages. I/O errors that carry no inspection
// kind pass through as internal failures.
func mapTarballError(err error) error {
	switch {
	case errors.Is(err, tarball.ErrMalformed):
		return validationErrf("uploaded tarball is malformed or too large when decompressed")
	case errors.Is(err, tarball.ErrInvalidPath):
		return validationErrf("invalid path found: %s", errDetail(err, tarball.ErrInvalidPath))
	case errors.Is(err, tarball.ErrUnexpectedSymlink):
		return validationErrf("unexpected symlink or hard link found: %s", errDetail(err, tarball.ErrUnexpectedSymlink))
	case errors.Is(err, tarball.ErrMissingManifest):
		return validationErrf("uploaded tarball is missing a `Cargo.toml` manifest file")
	case errors.Is(err, tarball.ErrIncorrectlyCased):
		return validationErrf("uploaded tarball is missing a `Cargo.toml` manifest file; %s, but must be named `Cargo.toml` with that exact casing", errDetail(err, tarball.ErrIncorrectlyCased))
	case errors.Is(err, tarball.ErrTooManyManifests):
		return validationErrf("uploaded tarball contains more than one `Cargo.toml` manifest file; %s", errDetail(err, tarball.ErrTooManyManifests))
	case errors.Is(err, tarball.ErrInvalidManifest):
		return validationErrf("failed to parse `Cargo.toml` manifest file\n\n%s", errDetail(err, tarball.ErrInvalidManifest))
	default:
		return err
	}
}

// errDetail extracts the context that was wrapped around a sentinel:
// pkg/errors renders wrapped errors as "<detail>: <sentinel>".
func errDetail(err error, sentinel error) string {
	full := err.Error()
	suffix := ": " + sentinel.Error()
	if len(full) > len(suffix) && full[len(full)-len(suffix):] == suffix {
		return full[:len(full)-len(suffix)]
	}
	return full
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
