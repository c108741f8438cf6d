// SPDX-License-Identifier: MIT

// Package users holds the panel's local account registry. Registration is
// single-seat: the first account created closes the panel to further
// sign-ups.
package users

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/store"
)

var (
	// ErrRegistrationClosed reports that an account already exists.
	ErrRegistrationClosed = errors.New("registration closed")
	// ErrBadCredentials reports a failed login.
	ErrBadCredentials = errors.New("invalid username or password")
	// ErrInvalidAccount reports an unusable username or password.
	ErrInvalidAccount = errors.New("invalid account details")
)

type record struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

type fileState struct {
	Users []record `json:"users"`
}

// Store is the persistent account registry, backed by one JSON document.
type Store struct {
	mu    sync.Mutex
	path  string
	users []record
	log   zerolog.Logger
}

// Open loads (or initializes) the account file.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		log:  log.WithComponent("users"),
	}
	var state fileState
	if err := store.ReadJSON(path, &state); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	s.users = state.Users
	return s, nil
}

// Count reports the number of registered accounts.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Register creates the panel account. It fails with
// ErrRegistrationClosed once any account exists.
func (s *Store) Register(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 6 {
		return fmt.Errorf("%w: username required and password must be at least 6 characters", ErrInvalidAccount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) > 0 {
		return ErrRegistrationClosed
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	s.users = append(s.users, record{Username: username, PasswordHash: string(hash)})
	if err := store.WriteJSON(s.path, fileState{Users: s.users}); err != nil {
		s.users = nil
		return fmt.Errorf("persist users: %w", err)
	}
	s.log.Info().Str("event", "users.registered").Str("username", username).Msg("account created, registration closed")
	return nil
}

// Authenticate checks a username/password pair.
func (s *Store) Authenticate(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil {
				return nil
			}
			break
		}
	}
	return ErrBadCredentials
}
