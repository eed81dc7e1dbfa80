// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package cargo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseManifest(t *testing.T) {
	data := []byte(`
[package]
name = "demo"
version = "1.2.3"
description = "A demo crate"
license = "MIT"
keywords = ["demo", "testing"]
rust-version = "1.70"

[features]
default = ["std"]
std = []

[dependencies]
serde = { version = "1.0", optional = true, features = ["derive"] }
log = "0.4"
renamed = { version = "2.0", package = "actual-name" }

[dev-dependencies]
quickcheck = "1.0"

[target.'cfg(windows)'.dependencies]
winapi = "0.3"
`)
	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Package == nil {
		t.Fatal("missing package section")
	}
	if got, want := m.Package.Name, "demo"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	if got, want := m.Package.Version(), "1.2.3"; got != want {
		t.Errorf("Version() = %q, want %q", got, want)
	}
	if m.Package.Inherited() {
		t.Error("Inherited() = true for a plain version string")
	}
	wantFeatures := map[string][]string{"default": {"std"}, "std": {}}
	if diff := cmp.Diff(wantFeatures, m.Features); diff != "" {
		t.Errorf("Features diff (-want +got):\n%s", diff)
	}

	serde := Detail(m.Dependencies["serde"])
	optional := true
	want := DepDetail{Req: "1.0", Optional: &optional, Features: []string{"derive"}}
	if diff := cmp.Diff(want, serde); diff != "" {
		t.Errorf("serde detail diff (-want +got):\n%s", diff)
	}

	logDep := Detail(m.Dependencies["log"])
	if got, want := logDep.Req, "0.4"; got != want {
		t.Errorf("bare string dep Req = %q, want %q", got, want)
	}

	renamed := Detail(m.Dependencies["renamed"])
	if got, want := renamed.Package, "actual-name"; got != want {
		t.Errorf("renamed Package = %q, want %q", got, want)
	}

	if _, ok := m.Target["cfg(windows)"]; !ok {
		t.Error("missing cfg(windows) target section")
	}
}

func TestParseManifestWorkspaceInheritance(t *testing.T) {
	data := []byte(`
[package]
name = "demo"
version.workspace = true
`)
	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if !m.Package.Inherited() {
		t.Error("Inherited() = false for version.workspace = true")
	}
	if got := m.Package.Version(); got != "" {
		t.Errorf("Version() = %q, want empty", got)
	}
}
