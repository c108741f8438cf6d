// SPDX-License-Identifier: MIT

// Package store persists JSON documents with atomic, durable writes.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/streamhib/restreamd/internal/log"
)

// ReadJSON decodes the document at path into v. A missing or empty file
// leaves v untouched and returns nil so callers always start from their
// defaults. Corrupt JSON is logged and likewise treated as absent; the
// prior on-disk state is lost on the next save.
func ReadJSON(path string, v any) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- paths come from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logger := log.WithComponent("store")
		logger.Error().
			Err(err).
			Str("event", "store.corrupt").
			Str("path", path).
			Msg("document is not valid JSON, treating as empty")
		return nil
	}
	return nil
}

// WriteJSON encodes v and atomically replaces the document at path.
// renameio handles temp file creation, fsync and rename so a crash never
// leaves a torn document behind.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create document directory: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}
