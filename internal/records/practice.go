package records

import (
	"context"
	"errors"
	"io"

	"practice-records-client/internal/api"
	"practice-records-client/internal/models"
	"practice-records-client/internal/session"
)

// ErrNoSession is returned by account-level operations that cannot meaningfully
// degrade to an empty result.
var ErrNoSession = errors.New("no active session")

// Practice groups the account-level remote operations: the practitioner's
// account, the practice letterhead profile, database backup and restore, and
// generic file upload.
type Practice struct {
	client   *api.Client
	sessions *session.Store
}

// NewPractice creates a Practice bound to the given API client and session store.
func NewPractice(client *api.Client, sessions *session.Store) *Practice {
	return &Practice{client: client, sessions: sessions}
}

func (p *Practice) token() (string, error) {
	if !p.sessions.Active() {
		return "", ErrNoSession
	}
	return p.sessions.Current().Token, nil
}

// Account fetches the authenticated practitioner's account record.
func (p *Practice) Account(ctx context.Context) (*models.DoctorAccount, error) {
	token, err := p.token()
	if err != nil {
		return nil, err
	}
	var account models.DoctorAccount
	if err := p.client.Do(ctx, "GET", "/doctors/me", token, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateAccount resends the full account field set.
func (p *Practice) UpdateAccount(ctx context.Context, account models.DoctorAccount) (*models.DoctorAccount, error) {
	token, err := p.token()
	if err != nil {
		return nil, err
	}
	var updated models.DoctorAccount
	if err := p.client.Do(ctx, "PATCH", "/doctors/me", token, account, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Profile fetches the practice profile. A missing profile is not an error; the
// zero value is returned for a 404 so a fresh account can fill it in.
func (p *Practice) Profile(ctx context.Context) (*models.PracticeProfile, error) {
	token, err := p.token()
	if err != nil {
		return nil, err
	}
	var res models.ProfileResponse
	if err := p.client.Do(ctx, "GET", "/doctor/profile", token, nil, &res); err != nil {
		if api.StatusOf(err) == 404 {
			return &models.PracticeProfile{}, nil
		}
		return nil, err
	}
	return &res.Profile, nil
}

// SaveProfile upserts the practice profile.
func (p *Practice) SaveProfile(ctx context.Context, profile models.PracticeProfile) (*models.PracticeProfile, error) {
	token, err := p.token()
	if err != nil {
		return nil, err
	}
	var res models.ProfileResponse
	if err := p.client.Do(ctx, "PUT", "/doctor/profile", token, profile, &res); err != nil {
		return nil, err
	}
	return &res.Profile, nil
}

// DownloadBackup fetches the full-database backup as an opaque binary stream.
func (p *Practice) DownloadBackup(ctx context.Context) ([]byte, error) {
	token, err := p.token()
	if err != nil {
		return nil, err
	}
	return p.client.DoRaw(ctx, "GET", "/backup", token, nil)
}

// RestoreBackup uploads a previously downloaded backup for restoration.
func (p *Practice) RestoreBackup(ctx context.Context, fileName string, backup io.Reader) error {
	token, err := p.token()
	if err != nil {
		return err
	}
	return p.client.Upload(ctx, "/backup/restore", token, "backup", fileName, backup, nil)
}

// UploadFile uploads a file (practice logo, signature image) and returns its URL.
func (p *Practice) UploadFile(ctx context.Context, fileName string, file io.Reader) (string, error) {
	token, err := p.token()
	if err != nil {
		return "", err
	}
	var res models.UploadResponse
	if err := p.client.Upload(ctx, "/files/upload", token, "file", fileName, file, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

// Health checks connectivity to the remote API. No session is required.
func (p *Practice) Health(ctx context.Context) error {
	return p.client.Do(ctx, "GET", "/health", "", nil, nil)
}
