// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package readme renders crate readme files to HTML for display.
package readme

import (
	"bytes"
	"html"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
	),
)

var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdown":    true,
	".mkdn":     true,
}

// Render converts the readme text to HTML. Files with a markdown
// extension (or none at all) are rendered as GitHub-flavored markdown;
// anything else is escaped and wrapped in a pre block.
func Render(text, filename string) ([]byte, error) {
	ext := strings.ToLower(path.Ext(filename))
	if ext != "" && !markdownExtensions[ext] {
		return []byte("<pre>" + html.EscapeString(text) + "</pre>"), nil
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return nil, errors.Wrap(err, "rendering markdown")
	}
	return buf.Bytes(), nil
}
