// SPDX-License-Identifier: MIT

package session

import "errors"

// Sentinel errors shared across the lifecycle and reconciliation layers.
// Callers classify failures with errors.Is and attach detail by wrapping.
var (
	// ErrInvalidInput marks bad or missing caller input; no state was
	// mutated.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an unknown session or schedule id. Severity
	// varies by operation: stop is lenient, delete and cancel are strict.
	ErrNotFound = errors.New("not found")
)
