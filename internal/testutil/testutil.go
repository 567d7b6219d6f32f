// Package testutil provides common test fixtures and helpers for RuleNotify tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/store"
)

// AsOf is the reference time the fixtures are laid out around.
var AsOf = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

// Fixture appointment ids used by SampleDataset.
const (
	ApptHighRisk       = "appt_high_risk"
	ApptNoIntake       = "appt_no_intake"
	ApptSpanish        = "appt_spanish"
	ApptDoNotContact   = "appt_dnc"
	ApptLowRiskDone    = "appt_low_risk"
	ApptMissingPatient = "appt_orphan"
)

// SampleDataset returns a small dataset with one appointment per evaluation scenario.
func SampleDataset() *store.Dataset {
	start := func(h int) string { return AsOf.Add(time.Duration(h) * time.Hour).Format(time.RFC3339) }
	return &store.Dataset{
		Practices: []models.Practice{
			{ID: "prac_001", Name: "Sunrise Clinic", Timezone: "UTC", ReplyToEmail: "care@sunrise.example", DefaultSenderPhone: "+14155550000", Domain: "sunrise.example"},
		},
		Patients: []models.Patient{
			{ID: "pt_0001", FirstName: "Maya", LastName: "Lopez", Email: "maya@example.com", Phone: "+14155552001", PracticeID: "prac_001", Language: models.LanguageEnglish, CommPrefs: models.CommPrefs{SMS: true}},
			{ID: "pt_0002", FirstName: "John", LastName: "Ramirez", Email: "john@example.com", Phone: "+14155552002", PracticeID: "prac_001", Language: models.LanguageEnglish},
			{ID: "pt_0003", FirstName: "Lucia", LastName: "Garcia", Email: "lucia@example.com", Phone: "+14155552003", PracticeID: "prac_001", Language: models.LanguageSpanish, CommPrefs: models.CommPrefs{SMS: true}},
			{ID: "pt_0004", FirstName: "Sam", LastName: "Lee", Email: "sam@example.com", Phone: "+14155552004", PracticeID: "prac_001", Language: models.LanguageEnglish, DNC: true},
			{ID: "pt_0005", FirstName: "Ana", LastName: "Silva", Email: "ana@example.com", Phone: "+14155552005", PracticeID: "prac_001", Language: models.LanguageEnglish, Tags: []string{"vip"}},
		},
		Appointments: []models.Appointment{
			{ID: ApptHighRisk, PatientID: "pt_0001", PracticeID: "prac_001", StartTime: start(20), Status: models.AppointmentStatusScheduled, Type: "Oncology infusion", Location: "Main Campus", NoShowRisk: models.RiskHigh},
			{ID: ApptNoIntake, PatientID: "pt_0002", PracticeID: "prac_001", StartTime: start(30), Status: models.AppointmentStatusScheduled, Type: "MRI", Location: "Imaging Center", NoShowRisk: models.RiskMedium},
			{ID: ApptSpanish, PatientID: "pt_0003", PracticeID: "prac_001", StartTime: start(40), Status: models.AppointmentStatusScheduled, Type: "Ortho follow-up", Location: "Main Campus", NoShowRisk: models.RiskLow},
			{ID: ApptDoNotContact, PatientID: "pt_0004", PracticeID: "prac_001", StartTime: start(10), Status: models.AppointmentStatusScheduled, Type: "PT session", Location: "Main Campus", NoShowRisk: models.RiskHigh},
			{ID: ApptLowRiskDone, PatientID: "pt_0005", PracticeID: "prac_001", StartTime: start(-5), Status: models.AppointmentStatusCompleted, Type: "OB/GYN", Location: "Main Campus", NoShowRisk: models.RiskLow},
			{ID: ApptMissingPatient, PatientID: "pt_9999", PracticeID: "prac_9999", StartTime: "not a time", Status: models.AppointmentStatusScheduled, Type: "Cardiology", NoShowRisk: models.RiskMedium},
		},
		Intakes: []models.Intake{
			{AppointmentID: ApptHighRisk, PatientID: "pt_0001", Status: models.IntakeStatusComplete, Link: "https://sunrise.example/intake/appt_high_risk"},
			{AppointmentID: ApptSpanish, PatientID: "pt_0003", Status: models.IntakeStatusComplete},
			{AppointmentID: ApptDoNotContact, PatientID: "pt_0004", Status: models.IntakeStatusIncomplete},
			{AppointmentID: ApptLowRiskDone, PatientID: "pt_0005", Status: models.IntakeStatusComplete},
		},
		Events: []models.Event{
			{ID: "evt_001", Type: "call.missed", OccurredAt: "2025-09-09T15:00:00Z", Payload: map[string]any{"patient_id": "pt_0002"}},
			{ID: "evt_002", Type: "referral", OccurredAt: "2025-09-08T10:00:00Z", Payload: map[string]any{"appointment_id": ApptHighRisk}},
		},
	}
}

// HighRiskDataset returns n high-risk appointments, each for its own patient. Odd-numbered
// appointments have no intake record; even-numbered ones have a completed intake.
func HighRiskDataset(n int) *store.Dataset {
	ds := &store.Dataset{
		Practices: []models.Practice{{ID: "prac_001", Name: "Sunrise Clinic", Timezone: "UTC"}},
	}
	for i := 1; i <= n; i++ {
		ptID := fmt.Sprintf("pt_%04d", i)
		apptID := fmt.Sprintf("appt_%04d", i)
		ds.Patients = append(ds.Patients, models.Patient{
			ID: ptID, FirstName: fmt.Sprintf("Patient%d", i), Phone: fmt.Sprintf("+1415555%04d", i), PracticeID: "prac_001", Language: models.LanguageEnglish,
		})
		ds.Appointments = append(ds.Appointments, models.Appointment{
			ID: apptID, PatientID: ptID, PracticeID: "prac_001",
			StartTime: AsOf.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			Status:    models.AppointmentStatusScheduled, Type: "Oncology", NoShowRisk: models.RiskHigh,
		})
		if i%2 == 0 {
			ds.Intakes = append(ds.Intakes, models.Intake{AppointmentID: apptID, PatientID: ptID, Status: models.IntakeStatusComplete})
		}
	}
	return ds
}

// NewRecordStore builds a record store from ds.
func NewRecordStore(t *testing.T, ds *store.Dataset) *store.RecordStore {
	t.Helper()
	return store.NewRecordStore(ds)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
