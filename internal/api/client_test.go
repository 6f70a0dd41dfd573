package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoAttachesBearerTokenAndJSONHeaders(t *testing.T) {
	var gotAuth, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	var out struct {
		OK bool `json:"ok"`
	}
	err := client.Do(context.Background(), "GET", "/things", "secret-token", nil, &out)

	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
}

func TestDoOmitsAuthorizationWithoutToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	err := client.Do(context.Background(), "POST", "/auth/login", "", map[string]string{"identifier": "doc"}, nil)

	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestDoTreatsNoContentAsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	var out struct {
		Name string `json:"name"`
	}
	err := client.Do(context.Background(), "DELETE", "/things/1", "tok", nil, &out)

	require.NoError(t, err)
	assert.Empty(t, out.Name)
}

func TestDoSurfacesStatusAndBodyOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"patient not found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	err := client.Do(context.Background(), "GET", "/patients/nope", "tok", nil, nil)

	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.Contains(t, err.Error(), "patient not found")
}

func TestStatusOfReturnsZeroForOtherErrors(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond)
	err := client.Do(context.Background(), "GET", "/unreachable", "", nil, nil)

	require.Error(t, err)
	assert.Zero(t, StatusOf(err))
}

func TestDoRawReturnsBinaryBody(t *testing.T) {
	payload := []byte("%PDF-1.4\nbinary content\n%%EOF\n")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(payload)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	data, err := client.DoRaw(context.Background(), "POST", "/pdf", "tok", map[string]any{"include_visit_uuids": []string{}})

	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestUploadSendsMultipartFile(t *testing.T) {
	var gotField, gotName, gotContent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		gotField, gotName, gotContent = "file", header.Filename, string(content)
		json.NewEncoder(w).Encode(map[string]string{"url": "/uploads/logo.png"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	var out struct {
		URL string `json:"url"`
	}
	err := client.Upload(context.Background(), "/files/upload", "tok", "file", "logo.png", strings.NewReader("png bytes"), &out)

	require.NoError(t, err)
	assert.Equal(t, "file", gotField)
	assert.Equal(t, "logo.png", gotName)
	assert.Equal(t, "png bytes", gotContent)
	assert.Equal(t, "/uploads/logo.png", out.URL)
}

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	client := NewClient("http://localhost:3600/api/", time.Second)
	assert.Equal(t, "http://localhost:3600/api", client.BaseURL)
}
