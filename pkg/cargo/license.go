// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package cargo

import (
	"strings"

	"github.com/pkg/errors"
)

// knownLicenses is the set of SPDX identifiers the registry accepts in
// license expressions. This is the working subset observed in the wild;
// anything outside it must be declared via license-file instead.
var knownLicenses = map[string]bool{
	"0BSD":                    true,
	"AGPL-3.0":                true,
	"AGPL-3.0-only":           true,
	"AGPL-3.0-or-later":       true,
	"Apache-2.0":              true,
	"BSD-2-Clause":            true,
	"BSD-3-Clause":            true,
	"BSL-1.0":                 true,
	"CC0-1.0":                 true,
	"CC-BY-4.0":               true,
	"EPL-2.0":                 true,
	"GPL-2.0":                 true,
	"GPL-2.0-only":            true,
	"GPL-2.0-or-later":        true,
	"GPL-3.0":                 true,
	"GPL-3.0-only":            true,
	"GPL-3.0-or-later":        true,
	"ISC":                     true,
	"LGPL-2.1":                true,
	"LGPL-2.1-only":           true,
	"LGPL-2.1-or-later":       true,
	"LGPL-3.0":                true,
	"LGPL-3.0-only":           true,
	"LGPL-3.0-or-later":       true,
	"MIT":                     true,
	"MIT-0":                   true,
	"MPL-2.0":                 true,
	"Unicode-3.0":             true,
	"Unicode-DFS-2016":        true,
	"Unlicense":               true,
	"WTFPL":                   true,
	"Zlib":                    true,
	"LLVM-exception":          true,
	"Classpath-exception-2.0": true,
}

// ParseLicenseExpr validates a license expression: SPDX identifiers
// (optionally with a trailing `+`) joined by AND, OR, or WITH, with
// optional parenthesized grouping. The slash separator accepted by
// older manifests is treated as OR.
func ParseLicenseExpr(expr string) error {
	normalized := strings.NewReplacer("(", " ", ")", " ", "/", " OR ").Replace(expr)
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return errors.New("empty license expression")
	}
	expectOperator := false
	for _, tok := range fields {
		switch tok {
		case "AND", "OR", "WITH":
			if !expectOperator {
				return errors.Errorf("unexpected operator `%s`", tok)
			}
			expectOperator = false
		default:
			if expectOperator {
				return errors.Errorf("missing operator before `%s`", tok)
			}
			id := strings.TrimSuffix(tok, "+")
			if !knownLicenses[id] {
				return errors.Errorf("unknown license identifier `%s`", id)
			}
			expectOperator = true
		}
	}
	if !expectOperator {
		return errors.New("license expression ends with an operator")
	}
	return nil
}
