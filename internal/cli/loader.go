package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BTreeMap/RuleNotify/internal/engine"
	"github.com/BTreeMap/RuleNotify/internal/store"
	"github.com/BTreeMap/RuleNotify/internal/util"
)

// Supported dataset sources.
const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// datasetSource is a loader plus whatever must be closed after it is done.
type datasetSource struct {
	store.Loader
	io.Closer
	driver string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// resolveDriver picks the dataset driver: an explicit --db-driver wins, a DSN implies
// SQLite or Postgres, otherwise the JSON directory is used.
func (o *RootOptions) resolveDriver() string {
	driver := strings.ToLower(strings.TrimSpace(o.DBDriver))
	switch driver {
	case "sqlite":
		return DriverSQLite
	case "postgresql", "pq":
		return DriverPostgres
	case "":
		if o.DBDSN != "" {
			return util.DetectDriver(o.DBDSN)
		}
		return DriverJSON
	}
	return driver
}

// openSource opens the configured dataset source.
func (o *RootOptions) openSource() (*datasetSource, error) {
	driver := o.resolveDriver()
	switch driver {
	case DriverJSON:
		l, err := store.NewJSONLoader(store.WithDataDir(o.DataDir))
		if err != nil {
			return nil, err
		}
		return &datasetSource{Loader: l, Closer: nopCloser{}, driver: driver}, nil
	case DriverSQLite:
		s, err := store.NewSQLiteStore(store.WithDSN(o.DBDSN))
		if err != nil {
			return nil, err
		}
		return &datasetSource{Loader: s, Closer: s, driver: driver}, nil
	case DriverPostgres:
		s, err := store.NewPostgresStore(store.WithPostgresDSN(o.DBDSN))
		if err != nil {
			return nil, err
		}
		return &datasetSource{Loader: s, Closer: s, driver: driver}, nil
	default:
		return nil, fmt.Errorf("unsupported dataset driver %q", driver)
	}
}

// loadRecords reads the dataset once and indexes it.
func (o *RootOptions) loadRecords(ctx context.Context) (*store.RecordStore, error) {
	src, err := o.openSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return store.Load(ctx, src)
}

// clock resolves --as-of.
func (o *RootOptions) clock() (engine.Clock, error) {
	switch v := strings.TrimSpace(o.AsOf); strings.ToLower(v) {
	case "":
		return engine.FixedClock{T: engine.DefaultAsOf}, nil
	case "now":
		return engine.SystemClock{}, nil
	default:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid --as-of %q: %w", v, err)
		}
		return engine.FixedClock{T: t.UTC()}, nil
	}
}

func (o *RootOptions) engineOptions(clock engine.Clock) []engine.Option {
	opts := []engine.Option{engine.WithClock(clock)}
	if o.Workers > 0 {
		opts = append(opts, engine.WithWorkers(o.Workers))
	}
	if o.Limit > 0 {
		opts = append(opts, engine.WithDefaultLimit(o.Limit))
	}
	return opts
}

// newEngine loads the dataset and builds an engine over it.
func (o *RootOptions) newEngine(ctx context.Context) (*store.RecordStore, *engine.Engine, error) {
	clock, err := o.clock()
	if err != nil {
		return nil, nil, NewExitError(ExitCommandError, err.Error())
	}
	records, err := o.loadRecords(ctx)
	if err != nil {
		return nil, nil, err
	}
	return records, engine.NewEngine(records, o.engineOptions(clock)...), nil
}
