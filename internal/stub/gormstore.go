package stub

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"practice-records-client/internal/models"
)

// gormStore persists the stub's records in MySQL, for a stand-in that
// survives restarts. Selected by setting STUB_DB_DSN.
type gormStore struct {
	db *gorm.DB
}

type doctorRecord struct {
	UUID         string `gorm:"primaryKey;type:varchar(36)"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	Username     string `gorm:"uniqueIndex;size:255;not null"`
	FirstName    string `gorm:"size:100"`
	LastName     string `gorm:"size:100"`
	PasswordHash string `gorm:"size:255;not null"`
}

type patientRecord struct {
	UUID        string `gorm:"primaryKey;type:varchar(36)"`
	DoctorUUID  string `gorm:"size:36;index"`
	FirstName   string `gorm:"size:100;not null"`
	LastName    string `gorm:"size:100;not null"`
	Phone       string `gorm:"size:50"`
	Address     string `gorm:"size:255"`
	DateOfBirth string `gorm:"size:20"`
	Sex         string `gorm:"size:20"`
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

type anamnesisRecord struct {
	UUID        string `gorm:"primaryKey;type:varchar(36)"`
	PatientUUID string `gorm:"size:36;index"`
	Note        string `gorm:"type:text"`
	Diagnosis   string `gorm:"type:text"`
	Therapy     string `gorm:"type:text"`
	OtherInfo   string `gorm:"type:text"`
	// JSON-encoded list of visit identifiers.
	IncludeVisitUUIDs string `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         *time.Time
}

type profileRecord struct {
	DoctorUUID     string `gorm:"primaryKey;type:varchar(36)"`
	PracticeName   string `gorm:"size:255;not null"`
	Department     string `gorm:"size:255"`
	RoleTitle      string `gorm:"size:255"`
	Address        string `gorm:"size:255"`
	Phone          string `gorm:"size:50"`
	Email          string `gorm:"size:255"`
	Website        string `gorm:"size:255"`
	LogoPath       string `gorm:"size:255"`
	ProtocolPrefix string `gorm:"size:50"`
	HeaderNote     string `gorm:"type:text"`
	FooterNote     string `gorm:"type:text"`
}

// NewGormStore connects to MySQL and migrates the stub schema.
func NewGormStore(dsn string) (Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&doctorRecord{}, &patientRecord{}, &anamnesisRecord{}, &profileRecord{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func (g *gormStore) CreateDoctor(doc *Doctor) error {
	var count int64
	g.db.Model(&doctorRecord{}).
		Where("email = ? OR username = ?", doc.Email, doc.Username).
		Count(&count)
	if count > 0 {
		return ErrConflict
	}
	rec := doctorRecord{
		UUID:         doc.UUID,
		Email:        doc.Email,
		Username:     doc.Username,
		FirstName:    doc.FirstName,
		LastName:     doc.LastName,
		PasswordHash: doc.PasswordHash,
	}
	return g.db.Create(&rec).Error
}

func (g *gormStore) FindDoctorByIdentifier(identifier string) (*Doctor, error) {
	var rec doctorRecord
	err := g.db.Where("email = ? OR username = ?", identifier, identifier).First(&rec).Error
	if err != nil {
		return nil, mapGormErr(err)
	}
	return doctorFromRecord(&rec), nil
}

func (g *gormStore) GetDoctor(uuid string) (*Doctor, error) {
	var rec doctorRecord
	if err := g.db.First(&rec, "uuid = ?", uuid).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return doctorFromRecord(&rec), nil
}

func (g *gormStore) UpdateDoctor(doc *Doctor) error {
	res := g.db.Model(&doctorRecord{}).Where("uuid = ?", doc.UUID).Updates(map[string]interface{}{
		"email":      doc.Email,
		"username":   doc.Username,
		"first_name": doc.FirstName,
		"last_name":  doc.LastName,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormStore) SetPasswordHash(doctorUUID, hash string) error {
	res := g.db.Model(&doctorRecord{}).Where("uuid = ?", doctorUUID).Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormStore) CreatePatient(p *models.Patient) error {
	return g.db.Create(patientToRecord(p)).Error
}

func (g *gormStore) ListPatients(doctorUUID, query string, page, pageSize int) ([]models.Patient, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	q := g.db.Where("doctor_uuid = ?", doctorUUID)
	if query != "" {
		like := "%" + query + "%"
		q = q.Where("CONCAT(first_name, ' ', last_name) LIKE ? OR phone LIKE ?", like, like)
	}
	var recs []patientRecord
	err := q.Order("created_at DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.Patient, 0, len(recs))
	for i := range recs {
		out = append(out, *patientFromRecord(&recs[i]))
	}
	return out, nil
}

func (g *gormStore) GetPatient(uuid string) (*models.Patient, error) {
	var rec patientRecord
	if err := g.db.First(&rec, "uuid = ?", uuid).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return patientFromRecord(&rec), nil
}

func (g *gormStore) UpdatePatient(p *models.Patient) error {
	res := g.db.Model(&patientRecord{}).Where("uuid = ?", p.UUID).Updates(patientToRecord(p))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormStore) DeletePatient(uuid string) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&patientRecord{}, "uuid = ?", uuid)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&anamnesisRecord{}, "patient_uuid = ?", uuid).Error
	})
}

func (g *gormStore) CreateAnamnesis(a *models.Anamnesis) error {
	rec, err := anamnesisToRecord(a)
	if err != nil {
		return err
	}
	return g.db.Create(rec).Error
}

func (g *gormStore) ListAnamneses(patientUUID, query string, page, pageSize int) ([]models.Anamnesis, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 5
	}
	q := g.db.Where("patient_uuid = ?", patientUUID)
	if query != "" {
		like := "%" + query + "%"
		q = q.Where("note LIKE ? OR diagnosis LIKE ? OR therapy LIKE ?", like, like, like)
	}
	var recs []anamnesisRecord
	err := q.Order("created_at DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.Anamnesis, 0, len(recs))
	for i := range recs {
		a, err := anamnesisFromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func (g *gormStore) GetAnamnesis(uuid string) (*models.Anamnesis, error) {
	var rec anamnesisRecord
	if err := g.db.First(&rec, "uuid = ?", uuid).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return anamnesisFromRecord(&rec)
}

func (g *gormStore) UpdateAnamnesis(a *models.Anamnesis) error {
	rec, err := anamnesisToRecord(a)
	if err != nil {
		return err
	}
	res := g.db.Model(&anamnesisRecord{}).Where("uuid = ?", a.UUID).Updates(rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormStore) DeleteAnamnesis(uuid string) error {
	res := g.db.Delete(&anamnesisRecord{}, "uuid = ?", uuid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *gormStore) Profile(doctorUUID string) (*models.PracticeProfile, error) {
	var rec profileRecord
	if err := g.db.First(&rec, "doctor_uuid = ?", doctorUUID).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return &models.PracticeProfile{
		PracticeName:   rec.PracticeName,
		Department:     rec.Department,
		RoleTitle:      rec.RoleTitle,
		Address:        rec.Address,
		Phone:          rec.Phone,
		Email:          rec.Email,
		Website:        rec.Website,
		LogoPath:       rec.LogoPath,
		ProtocolPrefix: rec.ProtocolPrefix,
		HeaderNote:     rec.HeaderNote,
		FooterNote:     rec.FooterNote,
	}, nil
}

func (g *gormStore) SaveProfile(doctorUUID string, profile *models.PracticeProfile) error {
	rec := profileRecord{
		DoctorUUID:     doctorUUID,
		PracticeName:   profile.PracticeName,
		Department:     profile.Department,
		RoleTitle:      profile.RoleTitle,
		Address:        profile.Address,
		Phone:          profile.Phone,
		Email:          profile.Email,
		Website:        profile.Website,
		LogoPath:       profile.LogoPath,
		ProtocolPrefix: profile.ProtocolPrefix,
		HeaderNote:     profile.HeaderNote,
		FooterNote:     profile.FooterNote,
	}
	return g.db.Save(&rec).Error
}

func (g *gormStore) Snapshot() ([]byte, error) {
	snap := snapshot{
		Profiles: make(map[string]*models.PracticeProfile),
		Hashes:   make(map[string]string),
	}

	var doctors []doctorRecord
	if err := g.db.Find(&doctors).Error; err != nil {
		return nil, err
	}
	for i := range doctors {
		doc := doctorFromRecord(&doctors[i])
		snap.Doctors = append(snap.Doctors, doc)
		snap.Hashes[doc.UUID] = doc.PasswordHash
	}

	var patients []patientRecord
	if err := g.db.Order("created_at DESC").Find(&patients).Error; err != nil {
		return nil, err
	}
	for i := range patients {
		snap.Patients = append(snap.Patients, patientFromRecord(&patients[i]))
	}

	var anamneses []anamnesisRecord
	if err := g.db.Order("created_at DESC").Find(&anamneses).Error; err != nil {
		return nil, err
	}
	for i := range anamneses {
		a, err := anamnesisFromRecord(&anamneses[i])
		if err != nil {
			return nil, err
		}
		snap.Anamneses = append(snap.Anamneses, a)
	}

	var profiles []profileRecord
	if err := g.db.Find(&profiles).Error; err != nil {
		return nil, err
	}
	for _, rec := range profiles {
		profile, err := g.Profile(rec.DoctorUUID)
		if err != nil {
			return nil, err
		}
		snap.Profiles[rec.DoctorUUID] = profile
	}

	return json.Marshal(snap)
}

func (g *gormStore) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	return g.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&doctorRecord{}, &patientRecord{}, &anamnesisRecord{}, &profileRecord{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		for _, doc := range snap.Doctors {
			if hash, ok := snap.Hashes[doc.UUID]; ok {
				doc.PasswordHash = hash
			}
			if err := tx.Create(&doctorRecord{
				UUID:         doc.UUID,
				Email:        doc.Email,
				Username:     doc.Username,
				FirstName:    doc.FirstName,
				LastName:     doc.LastName,
				PasswordHash: doc.PasswordHash,
			}).Error; err != nil {
				return err
			}
		}
		for _, p := range snap.Patients {
			if err := tx.Create(patientToRecord(p)).Error; err != nil {
				return err
			}
		}
		for _, a := range snap.Anamneses {
			rec, err := anamnesisToRecord(a)
			if err != nil {
				return err
			}
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
		}
		for doctorID, profile := range snap.Profiles {
			if err := tx.Create(&profileRecord{
				DoctorUUID:     doctorID,
				PracticeName:   profile.PracticeName,
				Department:     profile.Department,
				RoleTitle:      profile.RoleTitle,
				Address:        profile.Address,
				Phone:          profile.Phone,
				Email:          profile.Email,
				Website:        profile.Website,
				LogoPath:       profile.LogoPath,
				ProtocolPrefix: profile.ProtocolPrefix,
				HeaderNote:     profile.HeaderNote,
				FooterNote:     profile.FooterNote,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func doctorFromRecord(rec *doctorRecord) *Doctor {
	return &Doctor{
		UUID:         rec.UUID,
		Email:        rec.Email,
		Username:     rec.Username,
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		PasswordHash: rec.PasswordHash,
	}
}

func patientToRecord(p *models.Patient) *patientRecord {
	return &patientRecord{
		UUID:        p.UUID,
		DoctorUUID:  p.DoctorUUID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Phone:       p.Phone,
		Address:     p.Address,
		DateOfBirth: p.DateOfBirth,
		Sex:         p.Sex,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func patientFromRecord(rec *patientRecord) *models.Patient {
	return &models.Patient{
		UUID:        rec.UUID,
		DoctorUUID:  rec.DoctorUUID,
		FirstName:   rec.FirstName,
		LastName:    rec.LastName,
		Phone:       rec.Phone,
		Address:     rec.Address,
		DateOfBirth: rec.DateOfBirth,
		Sex:         rec.Sex,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func anamnesisToRecord(a *models.Anamnesis) (*anamnesisRecord, error) {
	included, err := json.Marshal(a.IncludeVisitUUIDs)
	if err != nil {
		return nil, err
	}
	return &anamnesisRecord{
		UUID:              a.UUID,
		PatientUUID:       a.PatientUUID,
		Note:              a.Note,
		Diagnosis:         a.Diagnosis,
		Therapy:           a.Therapy,
		OtherInfo:         a.OtherInfo,
		IncludeVisitUUIDs: string(included),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}, nil
}

func anamnesisFromRecord(rec *anamnesisRecord) (*models.Anamnesis, error) {
	var included []string
	if rec.IncludeVisitUUIDs != "" {
		if err := json.Unmarshal([]byte(rec.IncludeVisitUUIDs), &included); err != nil {
			return nil, err
		}
	}
	return &models.Anamnesis{
		UUID:              rec.UUID,
		PatientUUID:       rec.PatientUUID,
		Note:              rec.Note,
		Diagnosis:         rec.Diagnosis,
		Therapy:           rec.Therapy,
		OtherInfo:         rec.OtherInfo,
		IncludeVisitUUIDs: included,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}, nil
}

func mapGormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
