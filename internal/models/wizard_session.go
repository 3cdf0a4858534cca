package models

import (
	"time"

	"github.com/incapacidades/backend/internal/backend"
	"github.com/incapacidades/backend/internal/quality"
	"github.com/incapacidades/backend/internal/requirements"
	"github.com/incapacidades/backend/internal/wizard"
)

// DocumentStatus is the scoring state of an uploaded document.
type DocumentStatus string

const (
	DocumentStatusValidating DocumentStatus = "validating"
	DocumentStatusReady      DocumentStatus = "ready"
)

// DocumentSlot is the upload attached to one document label.
type DocumentSlot struct {
	Label      string           `json:"label" msgpack:"label"`
	Filename   string           `json:"filename" msgpack:"filename"`
	MIMEType   string           `json:"mimeType" msgpack:"mimeType"`
	Size       int64            `json:"size" msgpack:"size"`
	Status     DocumentStatus   `json:"status" msgpack:"status"`
	Verdict    *quality.Verdict `json:"verdict,omitempty" msgpack:"verdict,omitempty"`
	Required   bool             `json:"required" msgpack:"required"`
	UploadedAt time.Time        `json:"uploadedAt" msgpack:"uploadedAt"`
}

// Contact is how the claimant can be reached.
type Contact struct {
	Email    string `json:"email,omitempty" msgpack:"email,omitempty"`
	Telefono string `json:"telefono,omitempty" msgpack:"telefono,omitempty"`
}

// WizardSession is a point-in-time view of one intake session.
type WizardSession struct {
	ID           string               `json:"id" msgpack:"id"`
	State        wizard.State         `json:"state" msgpack:"state"`
	Step         int                  `json:"step" msgpack:"step"`
	Cedula       string               `json:"cedula,omitempty" msgpack:"cedula,omitempty"`
	Employee     *backend.Employee    `json:"employee,omitempty" msgpack:"employee,omitempty"`
	Claim        requirements.Context `json:"claim" msgpack:"claim"`
	Required     []string             `json:"required" msgpack:"required"`
	Documents    []DocumentSlot       `json:"documents" msgpack:"documents"`
	Ready        bool                 `json:"ready" msgpack:"ready"`
	Contact      Contact              `json:"contact" msgpack:"contact"`
	Receipt      *backend.Receipt     `json:"receipt,omitempty" msgpack:"receipt,omitempty"`
	SubmissionID string               `json:"submissionId,omitempty" msgpack:"submissionId,omitempty"`
	CreatedAt    time.Time            `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt" msgpack:"updatedAt"`
}
