package models

// DoctorAccount is the authenticated practitioner's account record.
type DoctorAccount struct {
	UUID      string `json:"uuid,omitempty"`
	Email     string `json:"email" validate:"required,email"`
	Username  string `json:"username" validate:"required"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
}

// PracticeProfile holds the practice letterhead data used on generated PDFs.
type PracticeProfile struct {
	PracticeName   string `json:"practice_name" validate:"required"`
	Department     string `json:"department,omitempty"`
	RoleTitle      string `json:"role_title,omitempty"`
	Address        string `json:"address" validate:"required"`
	Phone          string `json:"phone" validate:"required"`
	Email          string `json:"email,omitempty"`
	Website        string `json:"website,omitempty"`
	LogoPath       string `json:"logo_path,omitempty"`
	ProtocolPrefix string `json:"protocol_prefix,omitempty"`
	HeaderNote     string `json:"header_note,omitempty"`
	FooterNote     string `json:"footer_note,omitempty"`
}

// ProfileResponse is the envelope for the practice profile endpoints.
type ProfileResponse struct {
	Profile PracticeProfile `json:"profile"`
}

// UploadResponse is returned by the generic file upload endpoint.
type UploadResponse struct {
	URL string `json:"url"`
}
