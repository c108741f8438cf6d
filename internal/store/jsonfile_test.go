// SPDX-License-Identifier: MIT

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestReadJSONMissingFileLeavesDefaults(t *testing.T) {
	v := doc{Name: "default"}
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &v)
	require.NoError(t, err)
	assert.Equal(t, "default", v.Name)
}

func TestReadJSONEmptyFileLeavesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	v := doc{Name: "default"}
	require.NoError(t, ReadJSON(path, &v))
	assert.Equal(t, "default", v.Name)
}

func TestReadJSONCorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	v := doc{Name: "default"}
	require.NoError(t, ReadJSON(path, &v))
	assert.Equal(t, "default", v.Name)
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "doc.json")
	in := doc{Name: "sessions", Items: []string{"a", "b"}}
	require.NoError(t, WriteJSON(path, in))

	var out doc
	require.NoError(t, ReadJSON(path, &out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteJSONOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteJSON(path, doc{Name: "one"}))
	require.NoError(t, WriteJSON(path, doc{Name: "two"}))

	var out doc
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, "two", out.Name)
}
