package stub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-records-client/internal/api"
	"practice-records-client/internal/config"
	"practice-records-client/internal/models"
)

func testConfig() config.StubConfig {
	return config.StubConfig{
		Origin:             "http://localhost:5173",
		JWTSecret:          "test_secret",
		TokenExpiryMinutes: 60,
	}
}

func newTestClient(t *testing.T) *api.Client {
	t.Helper()
	ts := httptest.NewServer(NewServer(testConfig(), NewMemStore()).Handler())
	t.Cleanup(ts.Close)
	return api.NewClient(ts.URL+"/api", 5*time.Second)
}

func register(t *testing.T, client *api.Client, email, username string) models.AuthTokenResponse {
	t.Helper()
	var res models.AuthTokenResponse
	err := client.Do(context.Background(), "POST", "/auth/register", "", models.RegisterRequest{
		Email:     email,
		Username:  username,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "correct-horse",
	}, &res)
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	return res
}

func TestRegisterRejectsDuplicateIdentity(t *testing.T) {
	client := newTestClient(t)
	register(t, client, "doc@example.com", "doc")

	err := client.Do(context.Background(), "POST", "/auth/register", "", models.RegisterRequest{
		Email:     "doc@example.com",
		Username:  "other",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "correct-horse",
	}, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, api.StatusOf(err))
}

func TestRegisterValidatesPayload(t *testing.T) {
	client := newTestClient(t)

	err := client.Do(context.Background(), "POST", "/auth/register", "", models.RegisterRequest{
		Email:     "not-an-email",
		Username:  "doc",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "short",
	}, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, api.StatusOf(err))
}

func TestLoginAcceptsEmailOrUsername(t *testing.T) {
	client := newTestClient(t)
	register(t, client, "doc@example.com", "doc")

	for _, identifier := range []string{"doc@example.com", "doc"} {
		var res models.AuthTokenResponse
		err := client.Do(context.Background(), "POST", "/auth/login", "", models.LoginRequest{
			Identifier: identifier,
			Password:   "correct-horse",
		}, &res)
		require.NoError(t, err, "login with %q", identifier)
		assert.NotEmpty(t, res.Token)
		assert.True(t, res.ExpiresAt.After(time.Now()))
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	client := newTestClient(t)
	register(t, client, "doc@example.com", "doc")

	err := client.Do(context.Background(), "POST", "/auth/login", "", models.LoginRequest{
		Identifier: "doc",
		Password:   "wrong-password",
	}, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, api.StatusOf(err))
}

func TestProtectedRoutesRequireValidToken(t *testing.T) {
	client := newTestClient(t)

	err := client.Do(context.Background(), "GET", "/patients", "", nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, api.StatusOf(err))

	err = client.Do(context.Background(), "GET", "/patients", "garbage-token", nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, api.StatusOf(err))
}

func TestLogoutRevokesToken(t *testing.T) {
	client := newTestClient(t)
	res := register(t, client, "doc@example.com", "doc")

	require.NoError(t, client.Do(context.Background(), "GET", "/patients", res.Token, nil, nil))
	require.NoError(t, client.Do(context.Background(), "POST", "/auth/logout", res.Token, nil, nil))

	err := client.Do(context.Background(), "GET", "/patients", res.Token, nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, api.StatusOf(err))
}

func createPatientFor(t *testing.T, client *api.Client, token, doctorUUID, first, last string) models.Patient {
	t.Helper()
	var patient models.Patient
	err := client.Do(context.Background(), "POST", "/patients/create", token, models.CreatePatientRequest{
		DoctorUUID: doctorUUID,
		FirstName:  first,
		LastName:   last,
	}, &patient)
	require.NoError(t, err)
	return patient
}

func TestPatientsAreScopedToTheirDoctor(t *testing.T) {
	client := newTestClient(t)
	alice := register(t, client, "alice@example.com", "alice")
	bob := register(t, client, "bob@example.com", "bob")

	patient := createPatientFor(t, client, alice.Token, alice.DoctorUUID, "Carol", "White")

	// Bob's listing does not include Alice's patient.
	var listing models.ListPatientsResponse
	require.NoError(t, client.Do(context.Background(), "GET", "/patients", bob.Token, nil, &listing))
	assert.Empty(t, listing.Patients)

	// Bob cannot touch it directly either.
	err := client.Do(context.Background(), "DELETE", "/patients/"+patient.UUID, bob.Token, nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, api.StatusOf(err))
}

func TestAnamnesisSelectionMustShareParent(t *testing.T) {
	client := newTestClient(t)
	doc := register(t, client, "doc@example.com", "doc")
	first := createPatientFor(t, client, doc.Token, doc.DoctorUUID, "Carol", "White")
	second := createPatientFor(t, client, doc.Token, doc.DoctorUUID, "Dan", "Green")

	var foreign models.Anamnesis
	require.NoError(t, client.Do(context.Background(), "POST", "/patients/"+second.UUID+"/anamneses", doc.Token,
		models.AnamnesisInput{Note: "other patient's visit", IncludeVisitUUIDs: []string{}}, &foreign))

	var target models.Anamnesis
	require.NoError(t, client.Do(context.Background(), "POST", "/patients/"+first.UUID+"/anamneses", doc.Token,
		models.AnamnesisInput{Note: "visit", IncludeVisitUUIDs: []string{}}, &target))

	err := client.Do(context.Background(), "PATCH", "/patients/"+first.UUID+"/anamneses/"+target.UUID, doc.Token,
		models.UpdateAnamnesisRequest{IncludeVisitUUIDs: []string{foreign.UUID}}, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, api.StatusOf(err))
}

func TestListAnamnesesNewestFirstAndPaged(t *testing.T) {
	store := NewMemStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.CreateAnamnesis(&models.Anamnesis{
			UUID:        string(rune('a' + i)),
			PatientUUID: "p-1",
			Note:        "visit",
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}

	page, err := store.ListAnamneses("p-1", "", 1, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "d", page[0].UUID)
	assert.Equal(t, "c", page[1].UUID)
	assert.Equal(t, "b", page[2].UUID)

	rest, err := store.ListAnamneses("p-1", "", 2, 3)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a", rest[0].UUID)
}

func TestBackupRoundTrip(t *testing.T) {
	client := newTestClient(t)
	doc := register(t, client, "doc@example.com", "doc")
	patient := createPatientFor(t, client, doc.Token, doc.DoctorUUID, "Carol", "White")

	backup, err := client.DoRaw(context.Background(), "GET", "/backup", doc.Token, nil)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	// Restore into a fresh server: the patient and the login both survive.
	other := newTestClient(t)
	restoreDoc := register(t, other, "temp@example.com", "temp")
	require.NoError(t, other.Upload(context.Background(), "/backup/restore", restoreDoc.Token,
		"backup", "practice-backup.json", strings.NewReader(string(backup)), nil))

	var login models.AuthTokenResponse
	require.NoError(t, other.Do(context.Background(), "POST", "/auth/login", "", models.LoginRequest{
		Identifier: "doc@example.com",
		Password:   "correct-horse",
	}, &login))

	var listing models.ListPatientsResponse
	require.NoError(t, other.Do(context.Background(), "GET", "/patients", login.Token, nil, &listing))
	require.Len(t, listing.Patients, 1)
	assert.Equal(t, patient.UUID, listing.Patients[0].UUID)
}

func TestUploadReturnsServedURL(t *testing.T) {
	client := newTestClient(t)
	doc := register(t, client, "doc@example.com", "doc")

	var res models.UploadResponse
	err := client.Upload(context.Background(), "/files/upload", doc.Token,
		"file", "logo.png", strings.NewReader("png bytes"), &res)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.URL, "/static/branding/"))
	assert.True(t, strings.HasSuffix(res.URL, "_logo.png"))
}

func TestTokenRoundTrip(t *testing.T) {
	token, expiresAt, err := GenerateToken("d-1", "test_secret", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := ValidateToken(token, "test_secret")
	require.NoError(t, err)
	assert.Equal(t, "d-1", claims.DoctorUUID)

	_, err = ValidateToken(token, "other_secret")
	assert.Error(t, err)
}
