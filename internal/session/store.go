// Package session owns the authenticated-identity lifecycle: login, registration,
// logout, persistence across restarts, and read access to the active credential.
// All mutations update the in-memory session and the persisted file together, so
// a restart never observes a session that was not actually established.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"practice-records-client/internal/api"
	"practice-records-client/internal/models"
)

// Store is the single source of truth for "is anyone logged in, and with what
// credential". At most one session is active per storage file.
type Store struct {
	client   *api.Client
	path     string
	validate *validator.Validate

	mu      sync.Mutex
	current *models.Session
}

// NewStore creates a Store backed by the given storage file and immediately
// attempts to restore a persisted session. A missing file means no session; an
// unparseable file is discarded and the store starts unauthenticated.
func NewStore(client *api.Client, path string) *Store {
	s := &Store{
		client:   client,
		path:     path,
		validate: validator.New(),
	}
	s.restore()
	return s
}

func (s *Store) restore() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.Token == "" {
		// Corrupt entry: drop it and start unauthenticated.
		log.Printf("session: discarding unreadable session file %s", s.path)
		_ = os.Remove(s.path)
		return
	}
	s.current = &sess
}

// Login authenticates with the remote API and establishes a session on success.
// On failure the existing session state is left untouched.
func (s *Store) Login(ctx context.Context, identifier, password string) error {
	req := models.LoginRequest{Identifier: identifier, Password: password}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid credentials payload: %w", err)
	}

	var res models.AuthTokenResponse
	if err := s.client.Do(ctx, "POST", "/auth/login", "", req, &res); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	return s.establish(identifier, &res)
}

// Register creates an account and, like Login, establishes a session immediately.
func (s *Store) Register(ctx context.Context, req models.RegisterRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid registration payload: %w", err)
	}

	var res models.AuthTokenResponse
	if err := s.client.Do(ctx, "POST", "/auth/register", "", req, &res); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	return s.establish(req.Email, &res)
}

func (s *Store) establish(email string, res *models.AuthTokenResponse) error {
	sess := &models.Session{
		Email:      email,
		DoctorUUID: res.DoctorUUID,
		Token:      res.Token,
		ExpiresAt:  res.ExpiresAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(sess); err != nil {
		return err
	}
	s.current = sess
	return nil
}

// Logout clears the in-memory session and removes the persisted entry. It is
// unconditional and cannot fail; the server-side revocation call is best effort.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	token := ""
	if s.current != nil {
		token = s.current.Token
	}
	s.current = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("session: removing session file: %v", err)
	}
	s.mu.Unlock()

	if token != "" {
		if err := s.client.Do(ctx, "POST", "/auth/logout", token, nil, nil); err != nil {
			log.Printf("session: server-side logout: %v", err)
		}
	}
}

// ChangePassword changes the account password. The session stays valid.
func (s *Store) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	sess := s.Current()
	if sess == nil {
		return errors.New("not logged in")
	}
	req := models.ChangePasswordRequest{CurrentPassword: currentPassword, NewPassword: newPassword}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid password payload: %w", err)
	}
	if err := s.client.Do(ctx, "POST", "/auth/change-password", sess.Token, req, nil); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// Current returns a copy of the active session, or nil when unauthenticated.
// The stored expiry is not checked here; see Active.
func (s *Store) Current() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	sess := *s.current
	return &sess
}

// Active reports whether a session exists and its credential is unexpired.
func (s *Store) Active() bool {
	sess := s.Current()
	return sess != nil && !sess.Expired(time.Now())
}

// persist writes the session file atomically (temp file + rename) so a crash
// mid-write never leaves a torn entry behind.
func (s *Store) persist(sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit session file: %w", err)
	}
	return nil
}
