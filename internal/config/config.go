package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configuration for the client and the bundled stub server.
type Config struct {
	APIBaseURL         string
	SessionFile        string
	HTTPTimeoutSeconds int
	PatientPageSize    int
	VisitPageSize      int
	Stub               StubConfig
}

// StubConfig holds configuration for the local stand-in API server.
type StubConfig struct {
	Port               string
	Origin             string
	JWTSecret          string
	TokenExpiryMinutes int
	DatabaseDSN        string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	timeout, err := strconv.Atoi(getEnv("HTTP_TIMEOUT_SECONDS", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT_SECONDS: %w", err)
	}

	patientPageSize, err := strconv.Atoi(getEnv("PATIENT_PAGE_SIZE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid PATIENT_PAGE_SIZE: %w", err)
	}

	visitPageSize, err := strconv.Atoi(getEnv("VISIT_PAGE_SIZE", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid VISIT_PAGE_SIZE: %w", err)
	}

	tokenExpiry, err := strconv.Atoi(getEnv("STUB_TOKEN_EXPIRY_MINUTES", "720"))
	if err != nil {
		return nil, fmt.Errorf("invalid STUB_TOKEN_EXPIRY_MINUTES: %w", err)
	}

	sessionFile := getEnv("SESSION_FILE", "")
	if sessionFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory for session file: %w", err)
		}
		sessionFile = filepath.Join(home, ".practice-records", "session.json")
	}

	return &Config{
		APIBaseURL:         getEnv("API_BASE_URL", "http://localhost:3600/api"),
		SessionFile:        sessionFile,
		HTTPTimeoutSeconds: timeout,
		PatientPageSize:    patientPageSize,
		VisitPageSize:      visitPageSize,
		Stub: StubConfig{
			Port:               getEnv("STUB_PORT", "3600"),
			Origin:             getEnv("STUB_ORIGIN", "http://localhost:5173"),
			JWTSecret:          getEnv("STUB_JWT_SECRET", "default_stub_secret"),
			TokenExpiryMinutes: tokenExpiry,
			DatabaseDSN:        getEnv("STUB_DB_DSN", ""),
		},
	}, nil
}

// Helper function to get environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
