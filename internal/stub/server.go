package stub

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"practice-records-client/internal/config"
	"practice-records-client/internal/models"
)

// Server is the stand-in API server.
type Server struct {
	cfg    config.StubConfig
	store  Store
	engine *gin.Engine

	mu      sync.Mutex
	revoked map[string]bool
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg config.StubConfig, store Store) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		revoked: make(map[string]bool),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	engine.Use(cors.New(corsConfig))

	api := engine.Group("/api")
	api.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	api.POST("/auth/register", s.register)
	api.POST("/auth/login", s.login)

	private := api.Group("")
	private.Use(s.authMiddleware())
	{
		private.POST("/auth/logout", s.logout)
		private.POST("/auth/change-password", s.changePassword)

		private.GET("/patients", s.listPatients)
		private.POST("/patients/create", s.createPatient)
		private.PATCH("/patients/:uuid", s.updatePatient)
		private.DELETE("/patients/:uuid", s.deletePatient)

		private.GET("/patients/:uuid/anamneses", s.listAnamneses)
		private.POST("/patients/:uuid/anamneses", s.createAnamnesis)
		private.PATCH("/patients/:uuid/anamneses/:anamnesis", s.updateAnamnesis)
		private.DELETE("/patients/:uuid/anamneses/:anamnesis", s.deleteAnamnesis)
		private.POST("/patients/:uuid/anamneses/:anamnesis/pdf", s.generatePDF)

		private.GET("/doctors/me", s.getAccount)
		private.PATCH("/doctors/me", s.updateAccount)
		private.GET("/doctor/profile", s.getProfile)
		private.PUT("/doctor/profile", s.saveProfile)

		private.GET("/backup", s.downloadBackup)
		private.POST("/backup/restore", s.restoreBackup)
		private.POST("/files/upload", s.uploadFile)
	}

	s.engine = engine
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the server on the configured port.
func (s *Server) Run() error {
	return s.engine.Run(":" + s.cfg.Port)
}

func (s *Server) isRevoked(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[token]
}

func (s *Server) issueToken(c *gin.Context, doctorUUID string) {
	ttl := time.Duration(s.cfg.TokenExpiryMinutes) * time.Minute
	token, expiresAt, err := GenerateToken(doctorUUID, s.cfg.JWTSecret, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, models.AuthTokenResponse{
		Token:      token,
		ExpiresAt:  expiresAt,
		DoctorUUID: doctorUUID,
		TokenUUID:  uuid.NewString(),
	})
}

// ===== Auth =====

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Username  string `json:"username" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Password  string `json:"password" binding:"required,min=8"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid registration payload: " + err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	doc := &Doctor{
		UUID:         uuid.NewString(),
		Email:        req.Email,
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateDoctor(doc); err != nil {
		if err == ErrConflict {
			c.JSON(http.StatusConflict, gin.H{"error": "account with this email or username already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.issueToken(c, doc.UUID)
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid login payload: " + err.Error()})
		return
	}

	doc, err := s.store.FindDoctorByIdentifier(req.Identifier)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(doc.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	s.issueToken(c, doc.UUID)
}

func (s *Server) logout(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) {
		s.mu.Lock()
		s.revoked[authHeader[len(prefix):]] = true
		s.mu.Unlock()
	}
	c.Status(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	doc, err := s.store.GetDoctor(doctorUUID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(doc.PasswordHash), []byte(req.CurrentPassword)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "current password is incorrect"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}
	if err := s.store.SetPasswordHash(doc.UUID, string(hash)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ===== Patients =====

func (s *Server) listPatients(c *gin.Context) {
	page := positiveQueryInt(c, "current_page", 1)
	pageSize := positiveQueryInt(c, "page_size", 10)
	patients, err := s.store.ListPatients(doctorUUID(c), c.Query("query"), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.ListPatientsResponse{Patients: patients})
}

type patientRequest struct {
	FirstName   string `json:"first_name" binding:"required"`
	LastName    string `json:"last_name" binding:"required"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	DateOfBirth string `json:"date_of_birth"`
	Sex         string `json:"sex"`
}

func (s *Server) createPatient(c *gin.Context) {
	var req patientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient payload: " + err.Error()})
		return
	}
	patient := models.Patient{
		UUID:        uuid.NewString(),
		DoctorUUID:  doctorUUID(c),
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		Address:     req.Address,
		DateOfBirth: req.DateOfBirth,
		Sex:         req.Sex,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreatePatient(&patient); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (s *Server) updatePatient(c *gin.Context) {
	var req patientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patient payload: " + err.Error()})
		return
	}
	existing, err := s.store.GetPatient(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
		return
	}
	if existing.DoctorUUID != doctorUUID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "patient belongs to another doctor"})
		return
	}

	now := time.Now().UTC()
	existing.FirstName = req.FirstName
	existing.LastName = req.LastName
	existing.Phone = req.Phone
	existing.Address = req.Address
	existing.DateOfBirth = req.DateOfBirth
	existing.Sex = req.Sex
	existing.UpdatedAt = &now
	if err := s.store.UpdatePatient(existing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (s *Server) deletePatient(c *gin.Context) {
	existing, err := s.store.GetPatient(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
		return
	}
	if existing.DoctorUUID != doctorUUID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "patient belongs to another doctor"})
		return
	}
	if err := s.store.DeletePatient(existing.UUID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ===== Anamneses =====

func (s *Server) patientForDoctor(c *gin.Context) *models.Patient {
	patient, err := s.store.GetPatient(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
		return nil
	}
	if patient.DoctorUUID != doctorUUID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "patient belongs to another doctor"})
		return nil
	}
	return patient
}

func (s *Server) listAnamneses(c *gin.Context) {
	patient := s.patientForDoctor(c)
	if patient == nil {
		return
	}
	page := positiveQueryInt(c, "current_page", 1)
	pageSize := positiveQueryInt(c, "page_size", 5)
	anamneses, err := s.store.ListAnamneses(patient.UUID, c.Query("query"), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.ListAnamnesesResponse{Anamneses: anamneses})
}

type anamnesisRequest struct {
	Note              string   `json:"anamnesis" binding:"required"`
	Diagnosis         string   `json:"diagnosis"`
	Therapy           string   `json:"therapy"`
	OtherInfo         string   `json:"other_info"`
	IncludeVisitUUIDs []string `json:"include_visit_uuids"`
}

// sameParentVisits checks that every referenced visit belongs to the patient.
func (s *Server) sameParentVisits(patientUUID string, uuids []string) bool {
	for _, id := range uuids {
		visit, err := s.store.GetAnamnesis(id)
		if err != nil || visit.PatientUUID != patientUUID {
			return false
		}
	}
	return true
}

func (s *Server) createAnamnesis(c *gin.Context) {
	patient := s.patientForDoctor(c)
	if patient == nil {
		return
	}
	var req anamnesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anamnesis payload: " + err.Error()})
		return
	}
	if !s.sameParentVisits(patient.UUID, req.IncludeVisitUUIDs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "included visits must belong to the same patient"})
		return
	}

	anamnesis := models.Anamnesis{
		UUID:              uuid.NewString(),
		PatientUUID:       patient.UUID,
		Note:              req.Note,
		Diagnosis:         req.Diagnosis,
		Therapy:           req.Therapy,
		OtherInfo:         req.OtherInfo,
		IncludeVisitUUIDs: req.IncludeVisitUUIDs,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.CreateAnamnesis(&anamnesis); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, anamnesis)
}

type updateAnamnesisRequest struct {
	IncludeVisitUUIDs []string `json:"include_visit_uuids"`
}

func (s *Server) updateAnamnesis(c *gin.Context) {
	patient := s.patientForDoctor(c)
	if patient == nil {
		return
	}
	existing, err := s.store.GetAnamnesis(c.Param("anamnesis"))
	if err != nil || existing.PatientUUID != patient.UUID {
		c.JSON(http.StatusNotFound, gin.H{"error": "anamnesis not found"})
		return
	}
	var req updateAnamnesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	if req.IncludeVisitUUIDs != nil {
		if !s.sameParentVisits(patient.UUID, req.IncludeVisitUUIDs) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "included visits must belong to the same patient"})
			return
		}
		existing.IncludeVisitUUIDs = req.IncludeVisitUUIDs
	}
	now := time.Now().UTC()
	existing.UpdatedAt = &now
	if err := s.store.UpdateAnamnesis(existing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (s *Server) deleteAnamnesis(c *gin.Context) {
	patient := s.patientForDoctor(c)
	if patient == nil {
		return
	}
	existing, err := s.store.GetAnamnesis(c.Param("anamnesis"))
	if err != nil || existing.PatientUUID != patient.UUID {
		c.JSON(http.StatusNotFound, gin.H{"error": "anamnesis not found"})
		return
	}
	if err := s.store.DeleteAnamnesis(existing.UUID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type generatePDFRequest struct {
	IncludeVisitUUIDs []string `json:"include_visit_uuids"`
}

// generatePDF composes the summary document server-side: only the current
// visit when only_current is set, otherwise the visits named in the request,
// otherwise the selection stored on the record.
func (s *Server) generatePDF(c *gin.Context) {
	patient := s.patientForDoctor(c)
	if patient == nil {
		return
	}
	target, err := s.store.GetAnamnesis(c.Param("anamnesis"))
	if err != nil || target.PatientUUID != patient.UUID {
		c.JSON(http.StatusNotFound, gin.H{"error": "anamnesis not found"})
		return
	}

	var req generatePDFRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
			return
		}
	}

	var included []string
	switch {
	case c.Query("only_current") == "true":
		included = nil
	case len(req.IncludeVisitUUIDs) > 0:
		included = req.IncludeVisitUUIDs
	default:
		included = target.IncludeVisitUUIDs
	}
	if !s.sameParentVisits(patient.UUID, included) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "included visits must belong to the same patient"})
		return
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-1.4\n%% practice summary %s %s\n", patient.FirstName, patient.LastName)
	fmt.Fprintf(&buf, "visit %s\n%s\n", target.UUID, target.Note)
	for _, id := range included {
		if id == target.UUID {
			continue
		}
		visit, err := s.store.GetAnamnesis(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(&buf, "visit %s\n%s\n", visit.UUID, visit.Note)
	}
	buf.WriteString("%%EOF\n")
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// ===== Account & profile =====

func (s *Server) getAccount(c *gin.Context) {
	doc, err := s.store.GetDoctor(doctorUUID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, models.DoctorAccount{
		UUID:      doc.UUID,
		Email:     doc.Email,
		Username:  doc.Username,
		FirstName: doc.FirstName,
		LastName:  doc.LastName,
	})
}

type accountRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Username  string `json:"username" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
}

func (s *Server) updateAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account payload: " + err.Error()})
		return
	}
	doc := &Doctor{
		UUID:      doctorUUID(c),
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	if err := s.store.UpdateDoctor(doc); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, models.DoctorAccount{
		UUID:      doc.UUID,
		Email:     doc.Email,
		Username:  doc.Username,
		FirstName: doc.FirstName,
		LastName:  doc.LastName,
	})
}

func (s *Server) getProfile(c *gin.Context) {
	profile, err := s.store.Profile(doctorUUID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, models.ProfileResponse{Profile: *profile})
}

type profileRequest struct {
	PracticeName   string `json:"practice_name" binding:"required"`
	Department     string `json:"department"`
	RoleTitle      string `json:"role_title"`
	Address        string `json:"address" binding:"required"`
	Phone          string `json:"phone" binding:"required"`
	Email          string `json:"email"`
	Website        string `json:"website"`
	LogoPath       string `json:"logo_path"`
	ProtocolPrefix string `json:"protocol_prefix"`
	HeaderNote     string `json:"header_note"`
	FooterNote     string `json:"footer_note"`
}

func (s *Server) saveProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile payload: " + err.Error()})
		return
	}
	profile := models.PracticeProfile{
		PracticeName:   req.PracticeName,
		Department:     req.Department,
		RoleTitle:      req.RoleTitle,
		Address:        req.Address,
		Phone:          req.Phone,
		Email:          req.Email,
		Website:        req.Website,
		LogoPath:       req.LogoPath,
		ProtocolPrefix: req.ProtocolPrefix,
		HeaderNote:     req.HeaderNote,
		FooterNote:     req.FooterNote,
	}
	if err := s.store.SaveProfile(doctorUUID(c), &profile); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.ProfileResponse{Profile: profile})
}

// ===== Backup & upload =====

func (s *Server) downloadBackup(c *gin.Context) {
	data, err := s.store.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="practice-backup.json"`)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) restoreBackup(c *gin.Context) {
	file, _, err := c.Request.FormFile("backup")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "backup file required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read backup"})
		return
	}
	if err := s.store.Restore(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot restore backup: " + err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) uploadFile(c *gin.Context) {
	_, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	c.JSON(http.StatusOK, models.UploadResponse{
		URL: "/static/branding/" + uuid.NewString() + "_" + header.Filename,
	})
}

func positiveQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return n
	}
	return def
}
