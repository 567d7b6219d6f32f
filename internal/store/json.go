// Package store provides storage backends for RuleNotify.
//
// This file implements a loader for a directory of JSON array files.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Dataset file base names. Each may also carry the "_generated" suffix used by
// exported sample datasets (e.g. patients_generated.json).
const (
	PracticesFile    = "practices"
	PatientsFile     = "patients"
	AppointmentsFile = "appointments"
	IntakesFile      = "intakes"
	EventsFile       = "events"
)

// ErrDataDirNotSet is returned when the JSON loader has no directory configured.
var ErrDataDirNotSet = errors.New("data directory not set")

// JSONLoader reads the five datasets from a directory.
type JSONLoader struct {
	dir string
}

// NewJSONLoader creates a loader reading from the configured data directory.
func NewJSONLoader(opts ...Option) (*JSONLoader, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewJSONLoader invoked", "data_dir", cfg.DataDir)
	if cfg.DataDir == "" {
		return nil, ErrDataDirNotSet
	}
	return &JSONLoader{dir: cfg.DataDir}, nil
}

// Load reads the dataset files. Appointments are required; the other collections
// default to empty when their file is absent.
func (l *JSONLoader) Load(ctx context.Context) (*Dataset, error) {
	var ds Dataset
	steps := []struct {
		name     string
		target   any
		required bool
	}{
		{PracticesFile, &ds.Practices, false},
		{PatientsFile, &ds.Patients, false},
		{AppointmentsFile, &ds.Appointments, true},
		{IntakesFile, &ds.Intakes, false},
		{EventsFile, &ds.Events, false},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := l.readInto(step.name, step.target)
		if err != nil {
			return nil, err
		}
		if !found {
			if step.required {
				return nil, fmt.Errorf("no %s file in %s: %w", step.name, l.dir, fs.ErrNotExist)
			}
			slog.Warn("JSONLoader: dataset file missing, using empty collection", "name", step.name, "dir", l.dir)
		}
	}
	slog.Info("JSONLoader loaded dataset",
		"dir", l.dir,
		"practices", len(ds.Practices),
		"patients", len(ds.Patients),
		"appointments", len(ds.Appointments),
		"intakes", len(ds.Intakes),
		"events", len(ds.Events))
	return &ds, nil
}

// readInto decodes the first existing candidate file for name into target.
func (l *JSONLoader) readInto(name string, target any) (bool, error) {
	for _, candidate := range []string{name + ".json", name + "_generated.json"} {
		path := filepath.Join(l.dir, candidate)
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			slog.Error("JSONLoader: failed to read dataset file", "error", err, "path", path)
			return false, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, target); err != nil {
			slog.Error("JSONLoader: failed to decode dataset file", "error", err, "path", path)
			return false, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		slog.Debug("JSONLoader: decoded dataset file", "path", path)
		return true, nil
	}
	return false, nil
}

// WriteJSONDir writes ds as one JSON array file per collection, the inverse of Load.
func WriteJSONDir(dir string, ds *Dataset) error {
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	files := map[string]any{
		PracticesFile:    ds.Practices,
		PatientsFile:     ds.Patients,
		AppointmentsFile: ds.Appointments,
		IntakesFile:      ds.Intakes,
		EventsFile:       ds.Events,
	}
	for name, v := range files {
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, raw, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}
