package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/constants"
)

// Prescription is one medical order ("receta") for data transfer between layers.
type Prescription struct {
	ID              uuid.UUID             `json:"id"`
	UserID          uuid.UUID             `json:"user_id"`
	PDFURL          string                `json:"pdf_url"`
	PDFObjectKey    string                `json:"pdf_object_key"`
	PDFOriginalName string                `json:"pdf_original_name"`
	Physician       *string               `json:"physician,omitempty"`
	Specialty       *string               `json:"specialty,omitempty"`
	IssuedOn        *string               `json:"issued_on,omitempty"` // YYYY-MM-DD
	Studies         []string              `json:"studies"`
	Diagnosis       *string               `json:"diagnosis,omitempty"`
	State           constants.RecordState `json:"state"`
	MessageID       *string               `json:"message_id,omitempty"`
	LinkIndex       int                   `json:"link_index"`
	AppointmentID   *uuid.UUID            `json:"appointment_id,omitempty"`
	ErrorMessage    *string               `json:"error_message,omitempty"`
	ExtractedJSON   json.RawMessage       `json:"extracted_json,omitempty"`
	Version         int                   `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// FromMailbox reports whether the record was discovered by a mailbox scan.
func (p *Prescription) FromMailbox() bool {
	return p.MessageID != nil && *p.MessageID != ""
}

// Parsed holds the structured fields recovered from a document.
type Parsed struct {
	Physician *string
	Specialty *string
	IssuedOn  *string
	Studies   []string
	Diagnosis *string
	RawJSON   json.RawMessage
}

// MailboxState is the slim projection scans use for dedup and retry decisions.
type MailboxState struct {
	ID        uuid.UUID
	MessageID string
	LinkIndex int
	State     constants.RecordState
	PDFURL    string
	ObjectKey string
	Version   int
}
