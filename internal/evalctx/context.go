// Package evalctx builds the per-appointment attribute bag that rules are evaluated
// against.
//
// A Context joins one appointment with its patient, practice, intake and related events
// at a given reference time. It is built fresh for every evaluation and never mutated
// afterwards. Fields are read only through Context.Field, which resolves a closed set of
// names (see FieldNames).
package evalctx

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/store"
)

// Context field names.
const (
	FieldAppointmentID       = "appointment_id"
	FieldPatientID           = "patient_id"
	FieldPatientFirstName    = "patient_first_name"
	FieldPatientLastName     = "patient_last_name"
	FieldPatientName         = "patient_name"
	FieldPatientPhone        = "patient_phone"
	FieldPatientEmail        = "patient_email"
	FieldPatientLanguage     = "patient_language"
	FieldPatientDNC          = "patient_dnc"
	FieldPatientCommSMS      = "patient_comm_sms"
	FieldPatientCommEmail    = "patient_comm_email"
	FieldPatientCommCall     = "patient_comm_call"
	FieldPatientTags         = "patient_tags"
	FieldPracticeID          = "practice_id"
	FieldPracticeName        = "practice_name"
	FieldPracticeTimezone    = "practice_timezone"
	FieldPracticePhone       = "practice_phone"
	FieldPracticeEmail       = "practice_email"
	FieldPracticeDomain      = "practice_domain"
	FieldAppointmentType     = "appointment_type"
	FieldAppointmentStatus   = "appointment_status"
	FieldAppointmentLocation = "appointment_location"
	FieldAppointmentStart    = "appointment_start_time"
	FieldAppointmentTime     = "appointment_time"
	FieldNoShowRisk          = "no_show_risk"
	FieldIntakeStatus        = "intake_status"
	FieldIntakeLastUpdated   = "intake_last_updated"
	FieldIntakeLink          = "intake_link"
	FieldHoursUntil          = "hours_until"
	FieldRecentEventTypes    = "recent_event_types"
	FieldRelatedEventTypes   = "related_event_types"
	FieldRelatedEventCount   = "related_event_count"
)

// FieldNames lists every name Context.Field resolves.
var FieldNames = []string{
	FieldAppointmentID, FieldPatientID,
	FieldPatientFirstName, FieldPatientLastName, FieldPatientName,
	FieldPatientPhone, FieldPatientEmail, FieldPatientLanguage, FieldPatientDNC,
	FieldPatientCommSMS, FieldPatientCommEmail, FieldPatientCommCall, FieldPatientTags,
	FieldPracticeID, FieldPracticeName, FieldPracticeTimezone,
	FieldPracticePhone, FieldPracticeEmail, FieldPracticeDomain,
	FieldAppointmentType, FieldAppointmentStatus, FieldAppointmentLocation,
	FieldAppointmentStart, FieldAppointmentTime, FieldNoShowRisk,
	FieldIntakeStatus, FieldIntakeLastUpdated, FieldIntakeLink,
	FieldHoursUntil, FieldRecentEventTypes, FieldRelatedEventTypes, FieldRelatedEventCount,
}

// RecentEventTypes are the related event types surfaced as recent events.
var RecentEventTypes = []string{"call.missed", "intake.updated", "appointment.updated"}

// Context is the flattened view of one appointment at one reference time.
type Context struct {
	AppointmentID string
	PatientID     string
	AsOf          time.Time
	HoursUntil    float64

	// HoursApproximated is set when HoursUntil is FallbackHoursUntil rather than derived
	// from the appointment start time.
	HoursApproximated bool
	DNC               bool
	RelatedEvents     []models.Event
	RecentEvents      []models.Event

	fields map[string]Value
}

// Field resolves a named field. It reports false for names outside FieldNames.
func (c *Context) Field(name string) (Value, bool) {
	v, ok := c.fields[name]
	return v, ok
}

// Builder joins record store entries into Contexts. It is safe for concurrent use.
type Builder struct {
	store *store.RecordStore

	mu        sync.Mutex
	locations map[string]*time.Location
}

// NewBuilder creates a Builder over s.
func NewBuilder(s *store.RecordStore) *Builder {
	return &Builder{store: s, locations: make(map[string]*time.Location)}
}

// Build returns the context for appointmentID at asOf, or false if the appointment is
// unknown. A missing patient, practice or intake yields empty defaults.
func (b *Builder) Build(appointmentID string, asOf time.Time) (*Context, bool) {
	appt, ok := b.store.Appointment(appointmentID)
	if !ok {
		return nil, false
	}

	var patient models.Patient
	if p, ok := b.store.Patient(appt.PatientID); ok {
		patient = *p
	} else {
		slog.Debug("Builder.Build: patient not found, using defaults", "appointment_id", appt.ID, "patient_id", appt.PatientID)
	}
	var practice models.Practice
	if p, ok := b.store.Practice(appt.PracticeID); ok {
		practice = *p
	} else {
		slog.Debug("Builder.Build: practice not found, using defaults", "appointment_id", appt.ID, "practice_id", appt.PracticeID)
	}
	intake := models.Intake{AppointmentID: appt.ID, Status: models.IntakeStatusIncomplete}
	if in, ok := b.store.Intake(appt.ID); ok {
		intake = *in
		if intake.Status == "" {
			intake.Status = models.IntakeStatusIncomplete
		}
	}

	c := &Context{
		AppointmentID: appt.ID,
		PatientID:     patient.ID,
		AsOf:          asOf,
		DNC:           patient.DNC,
	}

	displayTime := UnknownDisplayTime
	loc := b.location(practice.Timezone)
	start, err := ParseTimestamp(appt.StartTime, loc)
	if err != nil {
		c.HoursUntil = FallbackHoursUntil
		c.HoursApproximated = true
		slog.Debug("Builder.Build: unparsable start time, using fallback hours",
			"appointment_id", appt.ID, "start_time", appt.StartTime, "fallback_hours", FallbackHoursUntil)
	} else {
		c.HoursUntil = HoursBetween(start, asOf)
		displayTime = start.In(loc).Format(DisplayTimeLayout)
	}

	for _, e := range b.store.Events() {
		if !e.References(appt.ID, appt.PatientID) {
			continue
		}
		c.RelatedEvents = append(c.RelatedEvents, e)
		if isRecentType(e.Type) {
			c.RecentEvents = append(c.RecentEvents, e)
		}
	}
	relatedTypes := make([]string, 0, len(c.RelatedEvents))
	for _, e := range c.RelatedEvents {
		relatedTypes = append(relatedTypes, e.Type)
	}
	recentTypes := make([]string, 0, len(c.RecentEvents))
	for _, e := range c.RecentEvents {
		recentTypes = append(recentTypes, e.Type)
	}

	c.fields = map[string]Value{
		FieldAppointmentID:       StringValue(appt.ID),
		FieldPatientID:           StringValue(patient.ID),
		FieldPatientFirstName:    StringValue(patient.FirstName),
		FieldPatientLastName:     StringValue(patient.LastName),
		FieldPatientName:         StringValue(patient.FullName()),
		FieldPatientPhone:        StringValue(patient.Phone),
		FieldPatientEmail:        StringValue(patient.Email),
		FieldPatientLanguage:     StringValue(patient.Language),
		FieldPatientDNC:          BoolValue(patient.DNC),
		FieldPatientCommSMS:      BoolValue(patient.CommPrefs.SMS),
		FieldPatientCommEmail:    BoolValue(patient.CommPrefs.Email),
		FieldPatientCommCall:     BoolValue(patient.CommPrefs.Call),
		FieldPatientTags:         ListValue(patient.Tags),
		FieldPracticeID:          StringValue(practice.ID),
		FieldPracticeName:        StringValue(practice.Name),
		FieldPracticeTimezone:    StringValue(practice.Timezone),
		FieldPracticePhone:       StringValue(practice.DefaultSenderPhone),
		FieldPracticeEmail:       StringValue(practice.ReplyToEmail),
		FieldPracticeDomain:      StringValue(practice.Domain),
		FieldAppointmentType:     StringValue(appt.Type),
		FieldAppointmentStatus:   StringValue(string(appt.Status)),
		FieldAppointmentLocation: StringValue(appt.Location),
		FieldAppointmentStart:    StringValue(appt.StartTime),
		FieldAppointmentTime:     StringValue(displayTime),
		FieldNoShowRisk:          StringValue(string(appt.NoShowRisk)),
		FieldIntakeStatus:        StringValue(string(intake.Status)),
		FieldIntakeLastUpdated:   StringValue(intake.LastUpdated),
		FieldIntakeLink:          StringValue(intake.Link),
		FieldHoursUntil:          NumberValue(c.HoursUntil),
		FieldRecentEventTypes:    ListValue(recentTypes),
		FieldRelatedEventTypes:   ListValue(relatedTypes),
		FieldRelatedEventCount:   NumberValue(float64(len(c.RelatedEvents))),
	}
	return c, true
}

// location resolves and caches an IANA zone name. Unknown or empty names resolve to UTC.
func (b *Builder) location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if loc, ok := b.locations[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Builder.location: unknown timezone, using UTC", "timezone", name, "error", err)
		loc = time.UTC
	}
	b.locations[name] = loc
	return loc
}

func isRecentType(eventType string) bool {
	for _, t := range RecentEventTypes {
		if strings.EqualFold(eventType, t) {
			return true
		}
	}
	return false
}
