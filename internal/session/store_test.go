package session

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-records-client/internal/api"
	"practice-records-client/internal/config"
	"practice-records-client/internal/models"
	"practice-records-client/internal/stub"
)

func newTestAPI(t *testing.T) *api.Client {
	t.Helper()
	server := stub.NewServer(config.StubConfig{
		Origin:             "http://localhost:5173",
		JWTSecret:          "test_secret",
		TokenExpiryMinutes: 60,
	}, stub.NewMemStore())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return api.NewClient(ts.URL+"/api", 5*time.Second)
}

func sessionPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "session.json")
}

func registerTestDoctor(t *testing.T, store *Store) {
	t.Helper()
	err := store.Register(context.Background(), models.RegisterRequest{
		Email:     "doc@example.com",
		Username:  "doc",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "correct-horse",
	})
	require.NoError(t, err)
}

func TestRegisterEstablishesSession(t *testing.T) {
	client := newTestAPI(t)
	store := NewStore(client, sessionPath(t))

	require.False(t, store.Active())
	registerTestDoctor(t, store)

	require.True(t, store.Active())
	sess := store.Current()
	require.NotNil(t, sess)
	assert.Equal(t, "doc@example.com", sess.Email)
	assert.NotEmpty(t, sess.Token)
	assert.NotEmpty(t, sess.DoctorUUID)
	assert.True(t, sess.ExpiresAt.After(time.Now()))
}

func TestLoginPersistsAcrossRestart(t *testing.T) {
	client := newTestAPI(t)
	path := sessionPath(t)

	first := NewStore(client, path)
	registerTestDoctor(t, first)
	first.Logout(context.Background())

	require.NoError(t, first.Login(context.Background(), "doc", "correct-horse"))
	before := first.Current()
	require.NotNil(t, before)

	// A new store over the same file behaves as if the process restarted.
	second := NewStore(client, path)
	after := second.Current()
	require.NotNil(t, after)
	assert.Equal(t, before.Token, after.Token)
	assert.Equal(t, before.Email, after.Email)
	assert.Equal(t, before.DoctorUUID, after.DoctorUUID)
	assert.True(t, before.ExpiresAt.Equal(after.ExpiresAt))
	assert.True(t, second.Active())
}

func TestCorruptSessionFileIsDiscarded(t *testing.T) {
	client := newTestAPI(t)
	path := sessionPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewStore(client, path)

	assert.Nil(t, store.Current())
	assert.False(t, store.Active())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupt session file should be removed")
}

func TestSessionFileWithoutTokenIsDiscarded(t *testing.T) {
	client := newTestAPI(t)
	path := sessionPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"email":"doc@example.com","token":""}`), 0o600))

	store := NewStore(client, path)

	assert.Nil(t, store.Current())
}

func TestLoginFailureLeavesSessionUntouched(t *testing.T) {
	client := newTestAPI(t)
	store := NewStore(client, sessionPath(t))
	registerTestDoctor(t, store)
	before := store.Current()

	err := store.Login(context.Background(), "doc", "wrong-password")

	require.Error(t, err)
	assert.Equal(t, 401, api.StatusOf(err))
	after := store.Current()
	require.NotNil(t, after)
	assert.Equal(t, before.Token, after.Token)
}

func TestLogoutClearsMemoryAndFile(t *testing.T) {
	client := newTestAPI(t)
	path := sessionPath(t)
	store := NewStore(client, path)
	registerTestDoctor(t, store)
	token := store.Current().Token

	store.Logout(context.Background())

	assert.Nil(t, store.Current())
	assert.False(t, store.Active())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// The revoked token no longer authenticates against the server.
	reqErr := client.Do(context.Background(), "GET", "/patients", token, nil, nil)
	require.Error(t, reqErr)
	assert.Equal(t, 401, api.StatusOf(reqErr))
}

func TestLogoutWithoutSessionIsANoOp(t *testing.T) {
	client := newTestAPI(t)
	store := NewStore(client, sessionPath(t))

	store.Logout(context.Background())

	assert.Nil(t, store.Current())
}

func TestChangePasswordKeepsSessionValid(t *testing.T) {
	client := newTestAPI(t)
	path := sessionPath(t)
	store := NewStore(client, path)
	registerTestDoctor(t, store)

	require.NoError(t, store.ChangePassword(context.Background(), "correct-horse", "battery-staple"))
	assert.True(t, store.Active())

	store.Logout(context.Background())
	assert.Error(t, store.Login(context.Background(), "doc", "correct-horse"))
	assert.NoError(t, store.Login(context.Background(), "doc", "battery-staple"))
}

func TestChangePasswordRequiresSession(t *testing.T) {
	client := newTestAPI(t)
	store := NewStore(client, sessionPath(t))

	err := store.ChangePassword(context.Background(), "a-password", "b-password")

	assert.Error(t, err)
}

func TestActiveEnforcesExpiryClientSide(t *testing.T) {
	client := newTestAPI(t)
	path := sessionPath(t)
	expired := models.Session{
		Email:      "doc@example.com",
		DoctorUUID: "d-1",
		Token:      "stale-token",
		ExpiresAt:  time.Now().Add(-time.Minute),
	}
	writeSessionFile(t, path, expired)

	store := NewStore(client, path)

	// The session restores but is not usable.
	require.NotNil(t, store.Current())
	assert.False(t, store.Active())
}

func writeSessionFile(t *testing.T, path string, sess models.Session) {
	t.Helper()
	data, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
