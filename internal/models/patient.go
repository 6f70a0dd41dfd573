package models

import "time"

// Patient represents a person under care. Field names mirror the backend JSON.
type Patient struct {
	UUID        string     `json:"uuid"`
	DoctorUUID  string     `json:"doctor_uuid"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Phone       string     `json:"phone,omitempty"`
	Address     string     `json:"address,omitempty"`
	DateOfBirth string     `json:"date_of_birth,omitempty"`
	Sex         string     `json:"sex,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// PatientInput carries the mutable patient fields for create and update calls.
type PatientInput struct {
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Sex         string `json:"sex,omitempty"`
}

// CreatePatientRequest is the request body for POST /patients/create.
type CreatePatientRequest struct {
	DoctorUUID  string `json:"doctor_uuid"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Sex         string `json:"sex,omitempty"`
}

// UpdatePatientRequest is the request body for PATCH /patients/{uuid}.
// The backend expects the entire mutable field set resent.
type UpdatePatientRequest struct {
	UUID        string `json:"uuid"`
	DoctorUUID  string `json:"doctor_uuid"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Sex         string `json:"sex,omitempty"`
}

// ListPatientsResponse is the envelope for GET /patients.
type ListPatientsResponse struct {
	Patients []Patient `json:"patients"`
}
