// Package stub is an in-process stand-in for the remote records API, wire
// compatible with the real backend. It backs the client's offline mode and the
// test suite: a gin router with JWT-authenticated routes over a pluggable
// store (in-memory by default, MySQL via GORM when a DSN is configured).
package stub

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"practice-records-client/internal/models"
)

// Doctor is the stub's account record. The password is stored bcrypt-hashed.
type Doctor struct {
	UUID         string `json:"uuid"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PasswordHash string `json:"-"`
}

// Store persists the stub's records.
type Store interface {
	CreateDoctor(doc *Doctor) error
	FindDoctorByIdentifier(identifier string) (*Doctor, error)
	GetDoctor(uuid string) (*Doctor, error)
	UpdateDoctor(doc *Doctor) error
	SetPasswordHash(doctorUUID, hash string) error

	CreatePatient(p *models.Patient) error
	ListPatients(doctorUUID, query string, page, pageSize int) ([]models.Patient, error)
	GetPatient(uuid string) (*models.Patient, error)
	UpdatePatient(p *models.Patient) error
	DeletePatient(uuid string) error

	CreateAnamnesis(a *models.Anamnesis) error
	ListAnamneses(patientUUID, query string, page, pageSize int) ([]models.Anamnesis, error)
	GetAnamnesis(uuid string) (*models.Anamnesis, error)
	UpdateAnamnesis(a *models.Anamnesis) error
	DeleteAnamnesis(uuid string) error

	Profile(doctorUUID string) (*models.PracticeProfile, error)
	SaveProfile(doctorUUID string, profile *models.PracticeProfile) error

	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Store errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// memStore is the default Store: everything in memory, newest records first.
type memStore struct {
	mu        sync.Mutex
	doctors   map[string]*Doctor
	patients  []*models.Patient
	anamneses []*models.Anamnesis
	profiles  map[string]*models.PracticeProfile
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() Store {
	return &memStore{
		doctors:  make(map[string]*Doctor),
		profiles: make(map[string]*models.PracticeProfile),
	}
}

func (m *memStore) CreateDoctor(doc *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.doctors {
		if strings.EqualFold(d.Email, doc.Email) || strings.EqualFold(d.Username, doc.Username) {
			return ErrConflict
		}
	}
	cp := *doc
	m.doctors[doc.UUID] = &cp
	return nil
}

func (m *memStore) FindDoctorByIdentifier(identifier string) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.doctors {
		if strings.EqualFold(d.Email, identifier) || strings.EqualFold(d.Username, identifier) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetDoctor(uuid string) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[uuid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) UpdateDoctor(doc *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.doctors[doc.UUID]
	if !ok {
		return ErrNotFound
	}
	existing.Email = doc.Email
	existing.Username = doc.Username
	existing.FirstName = doc.FirstName
	existing.LastName = doc.LastName
	return nil
}

func (m *memStore) SetPasswordHash(doctorUUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[doctorUUID]
	if !ok {
		return ErrNotFound
	}
	d.PasswordHash = hash
	return nil
}

func (m *memStore) CreatePatient(p *models.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.patients = append([]*models.Patient{&cp}, m.patients...)
	return nil
}

func (m *memStore) ListPatients(doctorUUID, query string, page, pageSize int) ([]models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]models.Patient, 0)
	term := strings.ToLower(strings.TrimSpace(query))
	for _, p := range m.patients {
		if p.DoctorUUID != doctorUUID {
			continue
		}
		if term != "" {
			name := strings.ToLower(p.FirstName + " " + p.LastName)
			if !strings.Contains(name, term) && !strings.Contains(strings.ToLower(p.Phone), term) {
				continue
			}
		}
		matched = append(matched, *p)
	}
	return paginate(matched, page, pageSize), nil
}

func (m *memStore) GetPatient(uuid string) (*models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.UUID == uuid {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) UpdatePatient(p *models.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.patients {
		if existing.UUID == p.UUID {
			cp := *p
			m.patients[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) DeletePatient(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	kept := m.patients[:0]
	for _, p := range m.patients {
		if p.UUID == uuid {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	m.patients = kept
	if !found {
		return ErrNotFound
	}
	// Cascade: a patient's visits do not outlive the patient.
	keptAnm := m.anamneses[:0]
	for _, a := range m.anamneses {
		if a.PatientUUID != uuid {
			keptAnm = append(keptAnm, a)
		}
	}
	m.anamneses = keptAnm
	return nil
}

func (m *memStore) CreateAnamnesis(a *models.Anamnesis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.anamneses = append([]*models.Anamnesis{&cp}, m.anamneses...)
	return nil
}

func (m *memStore) ListAnamneses(patientUUID, query string, page, pageSize int) ([]models.Anamnesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]models.Anamnesis, 0)
	term := strings.ToLower(strings.TrimSpace(query))
	for _, a := range m.anamneses {
		if a.PatientUUID != patientUUID {
			continue
		}
		if term != "" {
			haystack := strings.ToLower(a.Note + " " + a.Diagnosis + " " + a.Therapy)
			if !strings.Contains(haystack, term) {
				continue
			}
		}
		matched = append(matched, *a)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, page, pageSize), nil
}

func (m *memStore) GetAnamnesis(uuid string) (*models.Anamnesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.anamneses {
		if a.UUID == uuid {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) UpdateAnamnesis(a *models.Anamnesis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.anamneses {
		if existing.UUID == a.UUID {
			cp := *a
			m.anamneses[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) DeleteAnamnesis(uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.anamneses[:0]
	found := false
	for _, a := range m.anamneses {
		if a.UUID == uuid {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	m.anamneses = kept
	if !found {
		return ErrNotFound
	}
	return nil
}

func (m *memStore) Profile(doctorUUID string) (*models.PracticeProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[doctorUUID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) SaveProfile(doctorUUID string, profile *models.PracticeProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *profile
	m.profiles[doctorUUID] = &cp
	return nil
}

// snapshot is the backup serialization of the whole store.
type snapshot struct {
	Doctors   []*Doctor                          `json:"doctors"`
	Patients  []*models.Patient                  `json:"patients"`
	Anamneses []*models.Anamnesis                `json:"anamneses"`
	Profiles  map[string]*models.PracticeProfile `json:"profiles"`
	Hashes    map[string]string                  `json:"credential_hashes"`
}

func (m *memStore) Snapshot() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := snapshot{
		Patients:  m.patients,
		Anamneses: m.anamneses,
		Profiles:  m.profiles,
		Hashes:    make(map[string]string),
	}
	for _, d := range m.doctors {
		snap.Doctors = append(snap.Doctors, d)
		snap.Hashes[d.UUID] = d.PasswordHash
	}
	return json.Marshal(snap)
}

func (m *memStore) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors = make(map[string]*Doctor)
	for _, d := range snap.Doctors {
		if hash, ok := snap.Hashes[d.UUID]; ok {
			d.PasswordHash = hash
		}
		m.doctors[d.UUID] = d
	}
	m.patients = snap.Patients
	m.anamneses = snap.Anamneses
	m.profiles = snap.Profiles
	if m.profiles == nil {
		m.profiles = make(map[string]*models.PracticeProfile)
	}
	return nil
}

func paginate[T any](items []T, page, pageSize int) []T {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}
