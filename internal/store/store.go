// Package store provides the record store and its loaders for RuleNotify.
//
// A RecordStore is an immutable, indexed view over the five datasets (practices,
// patients, appointments, intakes, events). Loaders read a Dataset from a JSON
// directory, SQLite, or PostgreSQL; the engine never cares which.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/BTreeMap/RuleNotify/internal/models"
)

// Dataset is the raw, ordered content of the five record collections.
type Dataset struct {
	Practices    []models.Practice    `json:"practices"`
	Patients     []models.Patient     `json:"patients"`
	Appointments []models.Appointment `json:"appointments"`
	Intakes      []models.Intake      `json:"intakes"`
	Events       []models.Event       `json:"events"`
}

// Loader supplies a Dataset from some backing source.
type Loader interface {
	Load(ctx context.Context) (*Dataset, error)
}

// Opts holds configuration shared by the loaders.
type Opts struct {
	DSN     string // database DSN for SQL loaders
	DataDir string // directory for the JSON loader
}

// Option defines a configuration option for a loader.
type Option func(*Opts)

// WithDSN sets the database DSN for SQLite or Postgres loaders.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN is an alias of WithDSN kept for call-site readability.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithDataDir sets the directory the JSON loader reads from.
func WithDataDir(dir string) Option {
	return func(o *Opts) { o.DataDir = dir }
}

// RecordStore indexes a Dataset by primary key. It is never mutated after construction
// and is safe for concurrent readers.
type RecordStore struct {
	practices      map[string]*models.Practice
	patients       map[string]*models.Patient
	appointments   map[string]*models.Appointment
	intakesByAppt  map[string]*models.Intake
	events         []models.Event
	appointmentIDs []string
	version        string
}

// NewRecordStore builds the indexes for ds. Records without an id are skipped with a
// warning rather than failing the load; a later duplicate id replaces the earlier one
// but keeps the earlier position in appointment iteration order.
func NewRecordStore(ds *Dataset) *RecordStore {
	if ds == nil {
		ds = &Dataset{}
	}
	s := &RecordStore{
		practices:     make(map[string]*models.Practice, len(ds.Practices)),
		patients:      make(map[string]*models.Patient, len(ds.Patients)),
		appointments:  make(map[string]*models.Appointment, len(ds.Appointments)),
		intakesByAppt: make(map[string]*models.Intake, len(ds.Intakes)),
		events:        append([]models.Event(nil), ds.Events...),
	}

	for i := range ds.Practices {
		p := ds.Practices[i]
		if p.ID == "" {
			slog.Warn("RecordStore: skipping practice without id", "index", i)
			continue
		}
		s.practices[p.ID] = &p
	}
	for i := range ds.Patients {
		p := ds.Patients[i]
		if p.ID == "" {
			slog.Warn("RecordStore: skipping patient without id", "index", i)
			continue
		}
		s.patients[p.ID] = &p
	}
	for i := range ds.Appointments {
		a := ds.Appointments[i]
		if err := a.Validate(); err != nil {
			slog.Warn("RecordStore: skipping invalid appointment", "index", i, "error", err)
			continue
		}
		if _, seen := s.appointments[a.ID]; !seen {
			s.appointmentIDs = append(s.appointmentIDs, a.ID)
		}
		s.appointments[a.ID] = &a
	}
	for i := range ds.Intakes {
		in := ds.Intakes[i]
		if in.AppointmentID == "" {
			slog.Warn("RecordStore: skipping intake", "index", i, "error", models.ErrMissingApptRef)
			continue
		}
		s.intakesByAppt[in.AppointmentID] = &in
	}

	s.version = datasetVersion(ds)
	slog.Debug("RecordStore built",
		"practices", len(s.practices),
		"patients", len(s.patients),
		"appointments", len(s.appointments),
		"intakes", len(s.intakesByAppt),
		"events", len(s.events),
		"version", s.version)
	return s
}

// Practice looks up a practice by id.
func (s *RecordStore) Practice(id string) (*models.Practice, bool) {
	p, ok := s.practices[id]
	return p, ok
}

// Patient looks up a patient by id.
func (s *RecordStore) Patient(id string) (*models.Patient, bool) {
	p, ok := s.patients[id]
	return p, ok
}

// Appointment looks up an appointment by id.
func (s *RecordStore) Appointment(id string) (*models.Appointment, bool) {
	a, ok := s.appointments[id]
	return a, ok
}

// Intake returns the intake for an appointment, if one was loaded.
func (s *RecordStore) Intake(appointmentID string) (*models.Intake, bool) {
	in, ok := s.intakesByAppt[appointmentID]
	return in, ok
}

// Events returns all events in load order. Callers must not modify the slice.
func (s *RecordStore) Events() []models.Event {
	return s.events
}

// AppointmentIDs returns appointment ids in load order.
func (s *RecordStore) AppointmentIDs() []string {
	return s.appointmentIDs
}

// Version identifies the dataset content; two stores built from equal datasets share it.
func (s *RecordStore) Version() string {
	return s.version
}

func datasetVersion(ds *Dataset) string {
	raw, err := json.Marshal(ds)
	if err != nil {
		slog.Warn("RecordStore: dataset not hashable, using empty version", "error", err)
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// Load runs a loader and builds a RecordStore from its output.
func Load(ctx context.Context, l Loader) (*RecordStore, error) {
	ds, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewRecordStore(ds), nil
}
