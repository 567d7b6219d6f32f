// Package store provides storage backends for RuleNotify.
//
// This file holds the dataset queries shared by the SQLite and Postgres stores.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/RuleNotify/internal/models"
)

// placeholderStyle selects how bind parameters are written.
type placeholderStyle int

const (
	placeholderQuestion placeholderStyle = iota // sqlite: ?
	placeholderDollar                           // postgres: $1, $2, ...
)

// sqlDataset runs dataset reads and writes over a *sql.DB.
type sqlDataset struct {
	db    *sql.DB
	style placeholderStyle
	name  string // store name for log messages
}

// rebind rewrites ? placeholders for the configured dialect.
func (d *sqlDataset) rebind(query string) string {
	if d.style == placeholderQuestion {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	upsertPractice = `INSERT INTO practices (id, seq, name, timezone, reply_to_email, default_sender_phone, domain)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET seq = excluded.seq, name = excluded.name, timezone = excluded.timezone,
reply_to_email = excluded.reply_to_email, default_sender_phone = excluded.default_sender_phone, domain = excluded.domain`

	upsertPatient = `INSERT INTO patients (id, seq, first_name, last_name, email, phone, practice_id, language,
pref_sms, pref_email, pref_call, dnc, tags)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET seq = excluded.seq, first_name = excluded.first_name, last_name = excluded.last_name,
email = excluded.email, phone = excluded.phone, practice_id = excluded.practice_id, language = excluded.language,
pref_sms = excluded.pref_sms, pref_email = excluded.pref_email, pref_call = excluded.pref_call,
dnc = excluded.dnc, tags = excluded.tags`

	upsertAppointment = `INSERT INTO appointments (id, seq, patient_id, practice_id, start_time, status, type, location, no_show_risk)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET seq = excluded.seq, patient_id = excluded.patient_id, practice_id = excluded.practice_id,
start_time = excluded.start_time, status = excluded.status, type = excluded.type, location = excluded.location,
no_show_risk = excluded.no_show_risk`

	upsertIntake = `INSERT INTO intakes (appointment_id, seq, patient_id, status, last_updated, link)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (appointment_id) DO UPDATE SET seq = excluded.seq, patient_id = excluded.patient_id,
status = excluded.status, last_updated = excluded.last_updated, link = excluded.link`

	upsertEvent = `INSERT INTO events (id, seq, type, occurred_at, payload)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET seq = excluded.seq, type = excluded.type, occurred_at = excluded.occurred_at,
payload = excluded.payload`
)

// save writes every record of ds inside one transaction.
func (d *sqlDataset) save(ctx context.Context, ds *Dataset) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error(d.name+" Save begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error(d.name+" Save rollback failed", "error", rbErr)
			}
		}
	}()

	for i, p := range ds.Practices {
		if _, err = tx.ExecContext(ctx, d.rebind(upsertPractice),
			p.ID, i, p.Name, p.Timezone, p.ReplyToEmail, p.DefaultSenderPhone, p.Domain); err != nil {
			return fmt.Errorf("failed to save practice %s: %w", p.ID, err)
		}
	}
	for i, p := range ds.Patients {
		tags, mErr := json.Marshal(nonNilTags(p.Tags))
		if mErr != nil {
			return fmt.Errorf("failed to encode tags for patient %s: %w", p.ID, mErr)
		}
		if _, err = tx.ExecContext(ctx, d.rebind(upsertPatient),
			p.ID, i, p.FirstName, p.LastName, p.Email, p.Phone, p.PracticeID, p.Language,
			p.CommPrefs.SMS, p.CommPrefs.Email, p.CommPrefs.Call, p.DNC, string(tags)); err != nil {
			return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
		}
	}
	for i, a := range ds.Appointments {
		if _, err = tx.ExecContext(ctx, d.rebind(upsertAppointment),
			a.ID, i, a.PatientID, a.PracticeID, a.StartTime, string(a.Status), a.Type, a.Location, string(a.NoShowRisk)); err != nil {
			return fmt.Errorf("failed to save appointment %s: %w", a.ID, err)
		}
	}
	for i, in := range ds.Intakes {
		if _, err = tx.ExecContext(ctx, d.rebind(upsertIntake),
			in.AppointmentID, i, in.PatientID, string(in.Status), in.LastUpdated, in.Link); err != nil {
			return fmt.Errorf("failed to save intake for %s: %w", in.AppointmentID, err)
		}
	}
	for i, e := range ds.Events {
		payload, mErr := json.Marshal(nonNilPayload(e.Payload))
		if mErr != nil {
			return fmt.Errorf("failed to encode payload for event %s: %w", e.ID, mErr)
		}
		if _, err = tx.ExecContext(ctx, d.rebind(upsertEvent),
			e.ID, i, e.Type, e.OccurredAt, string(payload)); err != nil {
			return fmt.Errorf("failed to save event %s: %w", e.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		slog.Error(d.name+" Save commit failed", "error", err)
		return fmt.Errorf("failed to commit dataset: %w", err)
	}
	slog.Debug(d.name+" Save succeeded",
		"practices", len(ds.Practices),
		"patients", len(ds.Patients),
		"appointments", len(ds.Appointments),
		"intakes", len(ds.Intakes),
		"events", len(ds.Events))
	return nil
}

// load reads all five tables ordered by their original load position.
func (d *sqlDataset) load(ctx context.Context) (*Dataset, error) {
	var ds Dataset
	var err error
	if ds.Practices, err = d.loadPractices(ctx); err != nil {
		return nil, err
	}
	if ds.Patients, err = d.loadPatients(ctx); err != nil {
		return nil, err
	}
	if ds.Appointments, err = d.loadAppointments(ctx); err != nil {
		return nil, err
	}
	if ds.Intakes, err = d.loadIntakes(ctx); err != nil {
		return nil, err
	}
	if ds.Events, err = d.loadEvents(ctx); err != nil {
		return nil, err
	}
	slog.Info(d.name+" loaded dataset",
		"practices", len(ds.Practices),
		"patients", len(ds.Patients),
		"appointments", len(ds.Appointments),
		"intakes", len(ds.Intakes),
		"events", len(ds.Events))
	return &ds, nil
}

func (d *sqlDataset) loadPractices(ctx context.Context) ([]models.Practice, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, timezone, reply_to_email, default_sender_phone, domain FROM practices ORDER BY seq`)
	if err != nil {
		slog.Error(d.name+" loadPractices query failed", "error", err)
		return nil, fmt.Errorf("failed to query practices: %w", err)
	}
	defer rows.Close()

	var out []models.Practice
	for rows.Next() {
		var p models.Practice
		if err := rows.Scan(&p.ID, &p.Name, &p.Timezone, &p.ReplyToEmail, &p.DefaultSenderPhone, &p.Domain); err != nil {
			return nil, fmt.Errorf("failed to scan practice row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate practice rows: %w", err)
	}
	return out, nil
}

func (d *sqlDataset) loadPatients(ctx context.Context) ([]models.Patient, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, first_name, last_name, email, phone, practice_id, language,
		pref_sms, pref_email, pref_call, dnc, tags FROM patients ORDER BY seq`)
	if err != nil {
		slog.Error(d.name+" loadPatients query failed", "error", err)
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	var out []models.Patient
	for rows.Next() {
		var p models.Patient
		var tags string
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.PracticeID, &p.Language,
			&p.CommPrefs.SMS, &p.CommPrefs.Email, &p.CommPrefs.Call, &p.DNC, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan patient row: %w", err)
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
				slog.Warn(d.name+" loadPatients: ignoring malformed tags", "patient_id", p.ID, "error", err)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patient rows: %w", err)
	}
	return out, nil
}

func (d *sqlDataset) loadAppointments(ctx context.Context) ([]models.Appointment, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, patient_id, practice_id, start_time, status, type, location, no_show_risk
		FROM appointments ORDER BY seq`)
	if err != nil {
		slog.Error(d.name+" loadAppointments query failed", "error", err)
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		var a models.Appointment
		var status, risk string
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PracticeID, &a.StartTime, &status, &a.Type, &a.Location, &risk); err != nil {
			return nil, fmt.Errorf("failed to scan appointment row: %w", err)
		}
		a.Status = models.AppointmentStatus(status)
		a.NoShowRisk = models.RiskLevel(risk)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointment rows: %w", err)
	}
	return out, nil
}

func (d *sqlDataset) loadIntakes(ctx context.Context) ([]models.Intake, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT appointment_id, patient_id, status, last_updated, link FROM intakes ORDER BY seq`)
	if err != nil {
		slog.Error(d.name+" loadIntakes query failed", "error", err)
		return nil, fmt.Errorf("failed to query intakes: %w", err)
	}
	defer rows.Close()

	var out []models.Intake
	for rows.Next() {
		var in models.Intake
		var status string
		if err := rows.Scan(&in.AppointmentID, &in.PatientID, &status, &in.LastUpdated, &in.Link); err != nil {
			return nil, fmt.Errorf("failed to scan intake row: %w", err)
		}
		in.Status = models.IntakeStatus(status)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intake rows: %w", err)
	}
	return out, nil
}

func (d *sqlDataset) loadEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, type, occurred_at, payload FROM events ORDER BY seq`)
	if err != nil {
		slog.Error(d.name+" loadEvents query failed", "error", err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var e models.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.OccurredAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				slog.Warn(d.name+" loadEvents: ignoring malformed payload", "event_id", e.ID, "error", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return out, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilPayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
