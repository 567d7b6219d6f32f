// Package models defines the core data structures for RuleNotify.
//
// It includes the five loaded record types (practices, patients, appointments, intakes,
// events), which are shared across the store, context builder, and engine modules.
package models

import (
	"errors"
	"strings"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	// AppointmentStatusScheduled indicates the appointment is booked and upcoming.
	AppointmentStatusScheduled AppointmentStatus = "SCHEDULED"
	// AppointmentStatusCancelled indicates the appointment was cancelled.
	AppointmentStatusCancelled AppointmentStatus = "CANCELLED"
	// AppointmentStatusCompleted indicates the appointment took place.
	AppointmentStatusCompleted AppointmentStatus = "COMPLETED"
)

// IntakeStatus is the completion state of an intake form.
type IntakeStatus string

const (
	// IntakeStatusIncomplete is also the status assumed when no intake record exists.
	IntakeStatusIncomplete IntakeStatus = "INCOMPLETE"
	// IntakeStatusComplete indicates the intake form was submitted.
	IntakeStatusComplete IntakeStatus = "COMPLETE"
)

// RiskLevel is the predicted no-show risk of an appointment.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Language codes supported for patient communication.
const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"
)

// Error variables for record validation
var (
	ErrEmptyID        = errors.New("record id cannot be empty")
	ErrMissingApptRef = errors.New("intake is missing appointment_id")
)

// Practice is a clinic that owns appointments and sends notifications.
type Practice struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Timezone           string `json:"timezone"`
	ReplyToEmail       string `json:"reply_to_email"`
	DefaultSenderPhone string `json:"default_sender_phone"`
	Domain             string `json:"domain"`
}

// CommPrefs records which channels a patient has opted into.
type CommPrefs struct {
	SMS   bool `json:"sms"`
	Email bool `json:"email"`
	Call  bool `json:"call"`
}

// Patient is a person who can receive notifications.
type Patient struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	PracticeID string    `json:"practice_id"`
	Language   string    `json:"language"`
	CommPrefs  CommPrefs `json:"comm_prefs"`
	DNC        bool      `json:"dnc"` // do-not-contact suppresses every channel
	Tags       []string  `json:"tags"`
}

// FullName joins first and last name, skipping empty parts.
func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Appointment is a scheduled visit. StartTime is kept as the raw ISO string because
// source datasets mix zoned and naive timestamps; the context builder parses it.
type Appointment struct {
	ID         string            `json:"id"`
	PatientID  string            `json:"patient_id"`
	PracticeID string            `json:"practice_id"`
	StartTime  string            `json:"start_time"`
	Status     AppointmentStatus `json:"status"`
	Type       string            `json:"type"`
	Location   string            `json:"location"`
	NoShowRisk RiskLevel         `json:"no_show_risk"`
}

// Validate checks that the appointment can be indexed. Dangling patient or practice
// references are allowed; the context builder substitutes defaults for them.
func (a *Appointment) Validate() error {
	if a.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// Intake is the per-appointment intake form record.
type Intake struct {
	PatientID     string       `json:"patient_id,omitempty"`
	AppointmentID string       `json:"appointment_id"`
	Status        IntakeStatus `json:"status"`
	LastUpdated   string       `json:"last_updated"`
	Link          string       `json:"link"`
}

// Event is an activity record. Events are not keyed; the payload may reference an
// appointment and/or a patient.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt string         `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// PayloadString returns a string payload entry, or "" when absent or not a string.
func (e *Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// References reports whether the event payload points at the appointment or patient.
func (e *Event) References(appointmentID, patientID string) bool {
	if appointmentID != "" && e.PayloadString("appointment_id") == appointmentID {
		return true
	}
	return patientID != "" && e.PayloadString("patient_id") == patientID
}
