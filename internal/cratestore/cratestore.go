// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package cratestore stores published crate artifacts and rendered
// readmes in an object store, addressed by crate name and version.
package cratestore

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"

	gcs "cloud.google.com/go/storage"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// Store uploads crate artifacts. Uploads happen outside the catalog's
// write transaction; a failed upload after a committed publish is
// surfaced to the caller but never undoes the commit.
type Store interface {
	UploadCrate(ctx context.Context, crate, version string, data []byte) error
	UploadReadme(ctx context.Context, crate, version string, html []byte) error
}

func cratePath(crate, version string) string {
	return path.Join("crates", crate, crate+"-"+version+".crate")
}

func readmePath(crate, version string) string {
	return path.Join("readmes", crate, crate+"-"+version+".html")
}

// FromLocation constructs a Store from a location URL: `gs://bucket`
// for GCS, or `file:///path` for a local directory tree.
func FromLocation(ctx context.Context, location string, opts ...option.ClientOption) (Store, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrap(err, "parsing store location")
	}
	switch u.Scheme {
	case "gs":
		return NewGCSStore(ctx, u.Host, opts...)
	case "file":
		if err := os.MkdirAll(u.Path, 0755); err != nil {
			return nil, errors.Wrap(err, "creating store directory")
		}
		return NewFilesystemStore(osfs.New(u.Path)), nil
	default:
		return nil, errors.Errorf("unsupported store scheme: '%s'", u.Scheme)
	}
}

// GCSStore is a Store backed by a GCS bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore creates a Store writing to the given bucket.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) upload(ctx context.Context, object string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrapf(err, "writing gs://%s/%s", s.bucket, object)
	}
	return errors.Wrapf(w.Close(), "closing gs://%s/%s", s.bucket, object)
}

// UploadCrate writes the crate tarball.
func (s *GCSStore) UploadCrate(ctx context.Context, crate, version string, data []byte) error {
	return s.upload(ctx, cratePath(crate, version), data)
}

// UploadReadme writes the rendered readme.
func (s *GCSStore) UploadReadme(ctx context.Context, crate, version string, html []byte) error {
	return s.upload(ctx, readmePath(crate, version), html)
}

// FilesystemStore is a Store backed by a billy filesystem. Used for
// local development and tests.
type FilesystemStore struct {
	fs billy.Filesystem
}

// NewFilesystemStore creates a Store rooted at fs.
func NewFilesystemStore(fs billy.Filesystem) *FilesystemStore {
	return &FilesystemStore{fs: fs}
}

func (s *FilesystemStore) write(name string, data []byte) error {
	if err := s.fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return errors.Wrapf(err, "creating %s", path.Dir(name))
	}
	return errors.Wrapf(util.WriteFile(s.fs, name, data, 0644), "writing %s", name)
}

// UploadCrate writes the crate tarball.
func (s *FilesystemStore) UploadCrate(ctx context.Context, crate, version string, data []byte) error {
	return s.write(cratePath(crate, version), data)
}

// UploadReadme writes the rendered readme.
func (s *FilesystemStore) UploadReadme(ctx context.Context, crate, version string, html []byte) error {
	return s.write(readmePath(crate, version), html)
}

// ReadCrate reads a stored crate tarball back. Test helper.
func (s *FilesystemStore) ReadCrate(crate, version string) ([]byte, error) {
	f, err := s.fs.Open(cratePath(crate, version))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

var (
	_ Store = (*GCSStore)(nil)
	_ Store = (*FilesystemStore)(nil)
)
