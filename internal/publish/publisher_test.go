// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/klauspost/compress/gzip"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/crateworks/registry/internal/auth"
	"github.com/crateworks/registry/internal/catalog"
	"github.com/crateworks/registry/internal/cratestore"
	"github.com/crateworks/registry/internal/jobqueue"
	"github.com/crateworks/registry/internal/ratelimit"
)

type fixture struct {
	t         *testing.T
	catalog   *catalog.Catalog
	store     *cratestore.FilesystemStore
	publisher *Publisher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })
	store := cratestore.NewFilesystemStore(memfs.New())
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 1 << 20
	}
	if cfg.MaxUnpackSize == 0 {
		cfg.MaxUnpackSize = 4 << 20
	}
	if cfg.MaxFeatures == 0 {
		cfg.MaxFeatures = 300
	}
	return &fixture{
		t:         t,
		catalog:   cat,
		store:     store,
		publisher: NewPublisher(cat, auth.TokenResolver{}, ratelimit.New(nil), store, cfg),
	}
}

// withConn runs fn on a pooled connection for fixture setup and checks.
func (f *fixture) withConn(fn func(conn *sqlite.Conn) error) {
	f.t.Helper()
	conn, err := f.catalog.Take(context.Background())
	if err != nil {
		f.t.Fatal(err)
	}
	defer f.catalog.Put(conn)
	if err := fn(conn); err != nil {
		f.t.Fatal(err)
	}
}

// addUser creates a verified user with an api token and returns the
// token string.
func (f *fixture) addUser(login string) string {
	f.t.Helper()
	token := login + "-token"
	f.withConn(func(conn *sqlite.Conn) error {
		id, err := catalog.CreateUser(conn, login, login+"@example.com", true)
		if err != nil {
			return err
		}
		_, err = catalog.CreateToken(conn, id, token, "", "")
		return err
	})
	return token
}

type crateSpec struct {
	name       string
	vers       string
	manifest   string
	readme     string
	readmeFile string
}

// manifestFor renders a minimal valid manifest, with extra appended
// verbatim.
func manifestFor(name, vers, extra string) string {
	return fmt.Sprintf(`
[package]
name = %q
version = %q
description = "A test crate"
license = "MIT"
%s`, name, vers, extra)
}

func crateBody(t *testing.T, spec crateSpec) []byte {
	t.Helper()
	if spec.manifest == "" {
		spec.manifest = manifestFor(spec.name, spec.vers, "")
	}

	var tarballBuf bytes.Buffer
	gz := gzip.NewWriter(&tarballBuf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{
		Name: spec.name + "-" + spec.vers + "/Cargo.toml",
		Mode: 0644,
		Size: int64(len(spec.manifest)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(spec.manifest)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	metadata, err := json.Marshal(Metadata{
		Name:       spec.name,
		Vers:       spec.vers,
		Readme:     spec.readme,
		ReadmeFile: spec.readmeFile,
	})
	if err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(len(metadata)))
	body.Write(metadata)
	binary.Write(&body, binary.LittleEndian, uint32(tarballBuf.Len()))
	body.Write(tarballBuf.Bytes())
	return body.Bytes()
}

func (f *fixture) publish(token string, spec crateSpec) (*GoodCrate, error) {
	f.t.Helper()
	return f.publisher.Publish(context.Background(), token, crateBody(f.t, spec))
}

// wantClass asserts that err is a user-facing publish error of the
// given class whose detail contains fragment.
func wantClass(t *testing.T, err error, class Class, fragment string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := AsError(err)
	if !ok {
		t.Fatalf("error %v is not a publish error", err)
	}
	if pe.Class != class {
		t.Errorf("error class = %d, want %d (detail: %s)", pe.Class, class, pe.Detail)
	}
	if !strings.Contains(pe.Detail, fragment) {
		t.Errorf("error detail %q does not contain %q", pe.Detail, fragment)
	}
}

func TestPublishSuccess(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")

	good, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", readme: "# Demo"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got, want := good.Crate.Name, "demo"; got != want {
		t.Errorf("crate name = %q, want %q", got, want)
	}
	if got, want := good.Crate.MaxVersion, "1.0.0"; got != want {
		t.Errorf("max version = %q, want %q", got, want)
	}
	if got, want := good.Crate.NewestVersion, "1.0.0"; got != want {
		t.Errorf("newest version = %q, want %q", got, want)
	}
	if len(good.Warnings.InvalidCategories) != 0 {
		t.Errorf("unexpected category warnings: %v", good.Warnings.InvalidCategories)
	}

	// The artifact must be in the store byte for byte.
	stored, err := f.store.ReadCrate("demo", "1.0.0")
	if err != nil {
		t.Fatalf("reading stored crate: %v", err)
	}
	_, tarball, err := SplitBody(crateBody(t, crateSpec{name: "demo", vers: "1.0.0", readme: "# Demo"}))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, tarball) {
		t.Error("stored artifact differs from uploaded tarball")
	}

	// Both follow-up jobs must have been committed with the publish.
	f.withConn(func(conn *sqlite.Conn) error {
		jobs, err := jobqueue.Pending(conn)
		if err != nil {
			return err
		}
		types := make(map[string]int)
		for _, job := range jobs {
			types[job.Type]++
		}
		if types[jobqueue.JobRenderReadme] != 1 || types[jobqueue.JobSyncIndex] != 1 {
			t.Errorf("pending job types = %v, want one readme and one index job", types)
		}
		return nil
	})
}

func TestPublishWithoutReadmeSkipsRenderJob(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	f.withConn(func(conn *sqlite.Conn) error {
		jobs, err := jobqueue.Pending(conn)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if job.Type == jobqueue.JobRenderReadme {
				t.Error("readme job enqueued for a crate without a readme")
			}
		}
		return nil
	})
}

func TestPublishDuplicateVersion(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")

	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}

	// Build metadata does not make a version distinct.
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0+build.1"})
	wantClass(t, err, ClassConflict, "crate version `1.0.0` is already uploaded")

	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.1"}); err != nil {
		t.Fatalf("publishing a distinct version: %v", err)
	}
}

func TestPublishInvalidSemver(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	_, err := f.publish(token, crateSpec{name: "demo", vers: "not-a-version"})
	wantClass(t, err, ClassValidation, "invalid semver version")
}

func TestPublishInvalidName(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	_, err := f.publish(token, crateSpec{name: "1demo", vers: "1.0.0"})
	wantClass(t, err, ClassValidation, "invalid crate name")
}

func TestPublishUnknownToken(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.publish("no-such-token", crateSpec{name: "demo", vers: "1.0.0"})
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("error = %v, want unauthorized", err)
	}
}

func TestPublishUnverifiedEmail(t *testing.T) {
	f := newFixture(t, Config{})
	f.withConn(func(conn *sqlite.Conn) error {
		id, err := catalog.CreateUser(conn, "bob", "bob@example.com", false)
		if err != nil {
			return err
		}
		_, err = catalog.CreateToken(conn, id, "bob-token", "", "")
		return err
	})
	_, err := f.publish("bob-token", crateSpec{name: "demo", vers: "1.0.0"})
	wantClass(t, err, ClassValidation, "verified email address is required")
}

func TestPublishNotAnOwner(t *testing.T) {
	f := newFixture(t, Config{})
	alice := f.addUser("alice")
	mallory := f.addUser("mallory")

	if _, err := f.publish(alice, crateSpec{name: "demo", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	_, err := f.publish(mallory, crateSpec{name: "demo", vers: "1.0.1"})
	wantClass(t, err, ClassRights, "don't seem to be an owner")
}

func TestPublishNameStability(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")

	if _, err := f.publish(token, crateSpec{name: "my_crate", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	// Same canonical name, different spelling.
	_, err := f.publish(token, crateSpec{name: "my-crate", vers: "1.0.1"})
	wantClass(t, err, ClassValidation, "crate was previously named `my_crate`")
}

func TestPublishReservedName(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	f.withConn(func(conn *sqlite.Conn) error {
		return catalog.ReserveName(conn, "std")
	})
	_, err := f.publish(token, crateSpec{name: "std", vers: "1.0.0"})
	wantClass(t, err, ClassConflict, "reserved name")
}

func TestPublishDailyVersionCap(t *testing.T) {
	f := newFixture(t, Config{NewVersionRateLimit: 2})
	token := f.addUser("alice")

	for i := 0; i < 2; i++ {
		if _, err := f.publish(token, crateSpec{name: "demo", vers: fmt.Sprintf("1.0.%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.2"})
	wantClass(t, err, ClassRateLimit, "too many versions of this crate in the last 24 hours")
}

func TestPublishThrottled(t *testing.T) {
	f := newFixture(t, Config{})
	f.publisher.Limiter = ratelimit.New(map[ratelimit.Action]ratelimit.ActionConfig{
		ratelimit.ActionPublishNew: {Burst: 1, RefillEvery: time.Hour},
	})
	token := f.addUser("alice")

	if _, err := f.publish(token, crateSpec{name: "one", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	_, err := f.publish(token, crateSpec{name: "two", vers: "1.0.0"})
	wantClass(t, err, ClassRateLimit, "too many times")
}

func TestPublishOversizeTarball(t *testing.T) {
	f := newFixture(t, Config{MaxUploadSize: 64})
	token := f.addUser("alice")
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0"})
	wantClass(t, err, ClassSizeLimit, "max upload size is: 64")
}

func TestPublishMissingMetadataFields(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	manifest := `
[package]
name = "demo"
version = "1.0.0"
`
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest})
	wantClass(t, err, ClassValidation, "missing or empty metadata fields: description, license")
}

func TestPublishLicenseFileOnly(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	manifest := `
[package]
name = "demo"
version = "1.0.0"
description = "A test crate"
license-file = "LICENSE.txt"
`
	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest}); err != nil {
		t.Fatal(err)
	}
	f.withConn(func(conn *sqlite.Conn) error {
		var license string
		err := sqlitex.Execute(conn, `SELECT license FROM versions`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				license = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if license != NonStandardLicense {
			t.Errorf("persisted license = %q, want %q", license, NonStandardLicense)
		}
		return nil
	})
}

func TestPublishBadRepositoryURL(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	manifest := manifestFor("demo", "1.0.0", `repository = "https:/example.com/demo"`)
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest})
	wantClass(t, err, ClassValidation, "must begin with http:// or https://")
}

func TestPublishTooManyKeywords(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	manifest := manifestFor("demo", "1.0.0", `keywords = ["a", "b", "c", "d", "e", "f"]`)
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest})
	wantClass(t, err, ClassValidation, "at most 5 keywords")

	manifest = manifestFor("demo", "1.0.0", `keywords = ["a", "b", "c", "d", "e"]`)
	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest}); err != nil {
		t.Fatalf("five keywords: %v", err)
	}
}

func TestPublishFeatureCapOverride(t *testing.T) {
	f := newFixture(t, Config{MaxFeatures: 300})
	token := f.addUser("alice")

	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	f.withConn(func(conn *sqlite.Conn) error {
		crate, err := catalog.FindCrateByName(conn, "demo")
		if err != nil {
			return err
		}
		limit := int64(2)
		return catalog.SetCrateLimits(conn, crate.ID, nil, &limit)
	})

	manifest := manifestFor("demo", "1.0.1", `
[features]
a = []
b = []
c = []
`)
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.1", manifest: manifest})
	wantClass(t, err, ClassValidation, "maximum number of 2 features")
}

func TestPublishFeatureCapRaisedAboveDefault(t *testing.T) {
	f := newFixture(t, Config{MaxFeatures: 3})
	token := f.addUser("alice")

	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	f.withConn(func(conn *sqlite.Conn) error {
		crate, err := catalog.FindCrateByName(conn, "demo")
		if err != nil {
			return err
		}
		limit := int64(4)
		return catalog.SetCrateLimits(conn, crate.ID, nil, &limit)
	})

	manifest := manifestFor("demo", "1.0.1", `
[features]
a = []
b = []
c = []
d = []
`)
	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.1", manifest: manifest}); err != nil {
		t.Fatalf("publish within raised cap: %v", err)
	}

	manifest = manifestFor("demo", "1.0.2", `
[features]
a = []
b = []
c = []
d = []
e = []
`)
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.2", manifest: manifest})
	wantClass(t, err, ClassValidation, "maximum number of 4 features")
}

func TestPublishUnknownDependency(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	manifest := manifestFor("demo", "1.0.0", `
[dependencies]
no-such-crate = "1.0"
`)
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest})
	wantClass(t, err, ClassDependencyResolution, "no known crate named `no-such-crate`")

	// The failed publish must leave nothing behind.
	f.withConn(func(conn *sqlite.Conn) error {
		crate, err := catalog.FindCrateByName(conn, "demo")
		if err != nil {
			return err
		}
		if crate != nil {
			t.Error("crate row persisted despite rolled-back publish")
		}
		jobs, err := jobqueue.Pending(conn)
		if err != nil {
			return err
		}
		if len(jobs) != 0 {
			t.Errorf("jobs persisted despite rolled-back publish: %v", jobs)
		}
		return nil
	})
}

func TestPublishWildcardDependency(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	if _, err := f.publish(token, crateSpec{name: "dep", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	manifest := manifestFor("demo", "1.0.0", `
[dependencies]
dep = "*"
`)
	_, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest})
	wantClass(t, err, ClassValidation, "wildcard (`*`) dependency constraints are not allowed")
}

func TestPublishDependencyLinkage(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	if _, err := f.publish(token, crateSpec{name: "dep", vers: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	manifest := manifestFor("demo", "1.0.0", `
[dependencies]
dep = "1.0"
`)
	if _, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest}); err != nil {
		t.Fatal(err)
	}
	f.withConn(func(conn *sqlite.Conn) error {
		var count int64
		err := sqlitex.Execute(conn, `SELECT COUNT(*) FROM dependencies`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if count != 1 {
			t.Errorf("dependency rows = %d, want 1", count)
		}
		return nil
	})
}

func TestPublishInvalidCategoriesWarn(t *testing.T) {
	f := newFixture(t, Config{})
	token := f.addUser("alice")
	f.withConn(func(conn *sqlite.Conn) error {
		return catalog.AddCategory(conn, "parsing", "Parsing")
	})
	manifest := manifestFor("demo", "1.0.0", `categories = ["parsing", "made-up-category"]`)
	good, err := f.publish(token, crateSpec{name: "demo", vers: "1.0.0", manifest: manifest})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"made-up-category"}
	if got := good.Warnings.InvalidCategories; len(got) != 1 || got[0] != want[0] {
		t.Errorf("invalid categories = %v, want %v", got, want)
	}
}

func TestPublishConcurrentNewCrate(t *testing.T) {
	f := newFixture(t, Config{})
	alice := f.addUser("alice")
	mallory := f.addUser("mallory")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, token := range []string{alice, mallory} {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			_, errs[i] = f.publish(token, crateSpec{name: "contested", vers: "1.0.0"})
		}(i, token)
	}
	wg.Wait()

	var successes, rightsFailures int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		if pe, ok := AsError(err); ok && pe.Class == ClassRights {
			rightsFailures++
		} else {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || rightsFailures != 1 {
		t.Fatalf("got %d successes and %d rights failures, want 1 and 1", successes, rightsFailures)
	}

	// Exactly one crate row and one version row survive the race.
	f.withConn(func(conn *sqlite.Conn) error {
		for _, table := range []string{"crates", "versions", "crate_owners"} {
			var count int64
			err := sqlitex.Execute(conn, `SELECT COUNT(*) FROM `+table, &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count = stmt.ColumnInt64(0)
					return nil
				},
			})
			if err != nil {
				return err
			}
			if count != 1 {
				t.Errorf("%s rows = %d, want 1", table, count)
			}
		}
		return nil
	})
}
