// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"encoding/binary"
	"encoding/json"
)

// Metadata is the JSON document sent ahead of the tarball in a publish
// request. It is an ephemeral DTO: everything else about the crate
// comes from the manifest inside the tarball.
type Metadata struct {
	Name       string `json:"name"`
	Vers       string `json:"vers"`
	Readme     string `json:"readme"`
	ReadmeFile string `json:"readme_file"`
}

// SplitBody splits a publish request body into its metadata and
// tarball segments. The body is framed as two length-prefixed
// segments:
//
//	[u32 LE metadata length][metadata JSON][u32 LE tarball length][tarball]
//
// Each length is checked against the remaining buffer before any read,
// so a lying prefix fails cleanly instead of panicking.
func SplitBody(body []byte) (metadata, tarball []byte, err error) {
	if len(body) < 4 {
		return nil, nil, validationErrf("invalid metadata length")
	}
	metadataLen := int(binary.LittleEndian.Uint32(body))
	body = body[4:]
	if metadataLen > len(body) {
		return nil, nil, validationErrf("invalid metadata length for remaining payload: %d", metadataLen)
	}
	metadata, body = body[:metadataLen], body[metadataLen:]

	if len(body) < 4 {
		return nil, nil, validationErrf("invalid tarball length")
	}
	tarballLen := int(binary.LittleEndian.Uint32(body))
	body = body[4:]
	if tarballLen > len(body) {
		return nil, nil, validationErrf("invalid tarball length for remaining payload: %d", tarballLen)
	}
	return metadata, body[:tarballLen], nil
}

// DecodeMetadata parses the metadata segment.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, validationErrf("invalid upload request: %v", err)
	}
	return &m, nil
}
