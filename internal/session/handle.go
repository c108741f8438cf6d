// SPDX-License-Identifier: MIT

package session

import (
	"regexp"
	"strings"
)

const handleMaxLen = 50

var nonHandleChars = regexp.MustCompile(`[^\w-]`)
var dashRuns = regexp.MustCompile(`-+`)

// ServiceHandle derives the filesystem- and unit-name-safe identifier
// for a session name: every disallowed character becomes a dash, runs of
// dashes collapse, leading/trailing dashes are trimmed, and the result
// is capped at 50 characters.
func ServiceHandle(name string) string {
	h := nonHandleChars.ReplaceAllString(name, "-")
	h = dashRuns.ReplaceAllString(h, "-")
	h = strings.Trim(h, "-")
	if len(h) > handleMaxLen {
		h = strings.TrimRight(h[:handleMaxLen], "-")
	}
	return h
}
