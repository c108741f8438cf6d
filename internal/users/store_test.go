// SPDX-License-Identifier: MIT

package users

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s, _ := tempStore(t)
	require.Zero(t, s.Count())

	require.NoError(t, s.Register("admin", "secret123"))
	assert.Equal(t, 1, s.Count())

	assert.NoError(t, s.Authenticate("admin", "secret123"))
	assert.ErrorIs(t, s.Authenticate("admin", "wrong"), ErrBadCredentials)
	assert.ErrorIs(t, s.Authenticate("ghost", "secret123"), ErrBadCredentials)
}

func TestRegistrationClosesAfterFirstAccount(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.Register("admin", "secret123"))
	assert.ErrorIs(t, s.Register("second", "secret123"), ErrRegistrationClosed)
	assert.Equal(t, 1, s.Count())
}

func TestRegisterValidatesInput(t *testing.T) {
	s, _ := tempStore(t)
	assert.ErrorIs(t, s.Register("", "secret123"), ErrInvalidAccount)
	assert.ErrorIs(t, s.Register("admin", "short"), ErrInvalidAccount)
	assert.Zero(t, s.Count())
}

func TestAccountsSurviveReopen(t *testing.T) {
	s, path := tempStore(t)
	require.NoError(t, s.Register("admin", "secret123"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
	assert.NoError(t, reopened.Authenticate("admin", "secret123"))
	assert.ErrorIs(t, reopened.Register("other", "secret123"), ErrRegistrationClosed)
}
