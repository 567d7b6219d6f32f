package cli

import (
	"context"
	"fmt"

	"github.com/BTreeMap/RuleNotify/internal/store"
	"github.com/spf13/cobra"
)

// datasetWriter is implemented by the SQL stores.
type datasetWriter interface {
	Save(ctx context.Context, ds *store.Dataset) error
	Close() error
}

// ImportSummary reports how many records were copied.
type ImportSummary struct {
	Target       string `json:"target"`
	Practices    int    `json:"practices"`
	Patients     int    `json:"patients"`
	Appointments int    `json:"appointments"`
	Intakes      int    `json:"intakes"`
	Events       int    `json:"events"`
}

func (s ImportSummary) String() string {
	return fmt.Sprintf("Imported into %s: %d practice(s), %d patient(s), %d appointment(s), %d intake(s), %d event(s)",
		s.Target, s.Practices, s.Patients, s.Appointments, s.Intakes, s.Events)
}

func summarize(target string, ds *store.Dataset) ImportSummary {
	return ImportSummary{
		Target:       target,
		Practices:    len(ds.Practices),
		Patients:     len(ds.Patients),
		Appointments: len(ds.Appointments),
		Intakes:      len(ds.Intakes),
		Events:       len(ds.Events),
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var fromDir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy a JSON dataset directory into the SQLite or Postgres database",
		Long: `Read the JSON dataset files from --from (default --data-dir) and upsert them into
the database named by --db-dsn. Existing rows with the same ids are replaced.`,
		Example: `  rulenotify import --from data --db-dsn /var/lib/rulenotify/records.db`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromDir == "" {
				fromDir = rootOpts.DataDir
			}
			return runImport(rootOpts, fromDir, cmd)
		},
	}
	cmd.Flags().StringVar(&fromDir, "from", "", "JSON dataset directory to import (default --data-dir)")
	return cmd
}

func runImport(opts *RootOptions, fromDir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()

	driver := opts.resolveDriver()
	if driver == DriverJSON {
		return f.Error(ExitCommandError, ErrCodeInput, "import needs a database target: set --db-dsn", nil)
	}
	src, err := store.NewJSONLoader(store.WithDataDir(fromDir))
	if err != nil {
		return f.Error(ExitCommandError, ErrCodeInput, err.Error(), nil)
	}
	ds, err := src.Load(ctx)
	if err != nil {
		return f.Error(ExitCommandError, ErrCodeDataset, err.Error(), nil)
	}

	target, err := openWriter(driver, opts.DBDSN)
	if err != nil {
		return f.Error(ExitCommandError, ErrCodeDataset, err.Error(), nil)
	}
	defer target.Close()
	if err := target.Save(ctx, ds); err != nil {
		return f.Error(ExitCommandError, ErrCodeDataset, err.Error(), nil)
	}

	summary := summarize(driver, ds)
	if f.JSON() {
		return f.Success(summary)
	}
	return f.Success(summary.String())
}

func openWriter(driver, dsn string) (datasetWriter, error) {
	switch driver {
	case DriverSQLite:
		s, err := store.NewSQLiteStore(store.WithDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported import target %q", driver)
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the configured dataset out as a JSON dataset directory",
		Long: `Load the dataset from the configured source (JSON directory, SQLite or Postgres)
and write one JSON array file per collection into --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			src, err := rootOpts.openSource()
			if err != nil {
				return f.Error(ExitCommandError, ErrCodeDataset, err.Error(), nil)
			}
			defer src.Close()
			ds, err := src.Load(cmd.Context())
			if err != nil {
				return f.Error(ExitCommandError, ErrCodeDataset, err.Error(), nil)
			}
			if err := store.WriteJSONDir(outDir, ds); err != nil {
				return f.Error(ExitCommandError, ErrCodeDataset, err.Error(), nil)
			}
			summary := summarize(outDir, ds)
			if f.JSON() {
				return f.Success(summary)
			}
			return f.Success(fmt.Sprintf("Exported to %s: %d appointment(s)", outDir, summary.Appointments))
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "export", "directory to write the JSON files into")
	return cmd
}
