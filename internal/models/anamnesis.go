package models

import "time"

// Anamnesis is a single dated clinical encounter record attached to a patient.
// The free-text note travels as "anamnesis" on the wire for historical reasons.
type Anamnesis struct {
	UUID              string     `json:"uuid"`
	PatientUUID       string     `json:"patient_uuid"`
	Note              string     `json:"anamnesis"`
	Diagnosis         string     `json:"diagnosis"`
	Therapy           string     `json:"therapy"`
	OtherInfo         string     `json:"other_info"`
	IncludeVisitUUIDs []string   `json:"include_visit_uuids,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// AnamnesisInput carries the fields for creating a visit record.
type AnamnesisInput struct {
	Note              string   `json:"anamnesis" validate:"required"`
	Diagnosis         string   `json:"diagnosis"`
	Therapy           string   `json:"therapy"`
	OtherInfo         string   `json:"other_info"`
	IncludeVisitUUIDs []string `json:"include_visit_uuids"`
}

// UpdateAnamnesisRequest is the request body for PATCH on a single visit.
// Only the included-visits selection is mutable independently of other fields;
// a nil slice means "leave the stored selection unchanged".
type UpdateAnamnesisRequest struct {
	IncludeVisitUUIDs []string `json:"include_visit_uuids,omitempty"`
}

// GeneratePDFRequest is the request body for the PDF endpoint.
type GeneratePDFRequest struct {
	IncludeVisitUUIDs []string `json:"include_visit_uuids,omitempty"`
}

// ListAnamnesesResponse is the envelope for listing a patient's visits.
type ListAnamnesesResponse struct {
	Anamneses []Anamnesis `json:"anamneses"`
}
