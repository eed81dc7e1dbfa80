// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package tarball

import (
	"archive/tar"
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

type entry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func archive(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     0644,
			Size:     int64(len(e.body)),
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const validManifest = `
[package]
name = "demo"
version = "1.0.0"
description = "A demo crate"
license = "MIT"
`

func TestProcess(t *testing.T) {
	data := archive(t, []entry{
		{name: "demo-1.0.0/Cargo.toml", body: validManifest},
		{name: "demo-1.0.0/src/lib.rs", body: "// empty"},
		{name: "demo-1.0.0/.cargo_vcs_info.json", body: `{"git":{"sha1":"abc123"},"path_in_vcs":"crates/demo"}`},
	})
	info, err := Process("demo-1.0.0", data, 1<<20)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got, want := info.Manifest.Package.Name, "demo"; got != want {
		t.Errorf("manifest name = %q, want %q", got, want)
	}
	if info.VCSInfo == nil {
		t.Fatal("missing vcs info")
	}
	if got, want := info.VCSInfo.PathInVCS, "crates/demo"; got != want {
		t.Errorf("path in vcs = %q, want %q", got, want)
	}
	if got, want := info.VCSInfo.Git.SHA1, "abc123"; got != want {
		t.Errorf("git sha1 = %q, want %q", got, want)
	}
}

func TestProcessErrors(t *testing.T) {
	tests := []struct {
		name    string
		entries []entry
		want    error
	}{
		{
			name:    "no manifest",
			entries: []entry{{name: "demo-1.0.0/src/lib.rs", body: "fn main() {}"}},
			want:    ErrMissingManifest,
		},
		{
			name: "two manifests",
			entries: []entry{
				{name: "demo-1.0.0/Cargo.toml", body: validManifest},
				{name: "demo-1.0.0/cargo.toml", body: validManifest},
			},
			want: ErrTooManyManifests,
		},
		{
			name:    "wrong casing",
			entries: []entry{{name: "demo-1.0.0/CARGO.TOML", body: validManifest}},
			want:    ErrIncorrectlyCased,
		},
		{
			name: "escaping path",
			entries: []entry{
				{name: "demo-1.0.0/../evil", body: "x"},
				{name: "demo-1.0.0/Cargo.toml", body: validManifest},
			},
			want: ErrInvalidPath,
		},
		{
			name: "outside package dir",
			entries: []entry{
				{name: "other-2.0.0/Cargo.toml", body: validManifest},
			},
			want: ErrInvalidPath,
		},
		{
			name: "symlink",
			entries: []entry{
				{name: "demo-1.0.0/link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
				{name: "demo-1.0.0/Cargo.toml", body: validManifest},
			},
			want: ErrUnexpectedSymlink,
		},
		{
			name:    "unparseable manifest",
			entries: []entry{{name: "demo-1.0.0/Cargo.toml", body: "not [valid toml"}},
			want:    ErrInvalidManifest,
		},
		{
			name:    "manifest without package section",
			entries: []entry{{name: "demo-1.0.0/Cargo.toml", body: "[dependencies]\n"}},
			want:    ErrInvalidManifest,
		},
		{
			name: "workspace inherited version",
			entries: []entry{{name: "demo-1.0.0/Cargo.toml", body: `
[package]
name = "demo"
version.workspace = true
`}},
			want: ErrInvalidManifest,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Process("demo-1.0.0", archive(t, tc.entries), 1<<20)
			if !errors.Is(err, tc.want) {
				t.Errorf("Process error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestProcessNotGzip(t *testing.T) {
	_, err := Process("demo-1.0.0", []byte("plain text"), 1<<20)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Process error = %v, want %v", err, ErrMalformed)
	}
}

func TestProcessUnpackLimit(t *testing.T) {
	data := archive(t, []entry{
		{name: "demo-1.0.0/Cargo.toml", body: validManifest},
		{name: "demo-1.0.0/big", body: strings.Repeat("x", 4096)},
	})
	if _, err := Process("demo-1.0.0", data, 1<<20); err != nil {
		t.Fatalf("under limit: %v", err)
	}
	_, err := Process("demo-1.0.0", data, 512)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("over limit: error = %v, want %v", err, ErrMalformed)
	}
}

func TestProcessBareDirectoryEntry(t *testing.T) {
	data := archive(t, []entry{
		{name: "demo-1.0.0/", typeflag: tar.TypeDir},
		{name: "demo-1.0.0/Cargo.toml", body: validManifest},
	})
	if _, err := Process("demo-1.0.0", data, 1<<20); err != nil {
		t.Fatalf("Process: %v", err)
	}
}
