// Package cli implements the rulenotify command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/BTreeMap/RuleNotify/internal/util"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	DataDir  string
	DBDriver string
	DBDSN    string
	AsOf     string // RFC 3339, "now", or empty for the fixed default
	Workers  int
	Limit    int

	TwilioFrom string
	APIAddr    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. cfg supplies flag defaults read from the
// environment.
func NewRootCommand(cfg util.Config) *cobra.Command {
	opts := &RootOptions{
		TwilioFrom: cfg.TwilioFrom,
		APIAddr:    cfg.APIAddr,
	}
	asOf := ""
	if !cfg.AsOf.IsZero() {
		asOf = cfg.AsOf.Format(time.RFC3339)
	}

	cmd := &cobra.Command{
		Use:   "rulenotify",
		Short: "RuleNotify - plain-English appointment notification rules",
		Long: `Evaluate free-text "if ... then ..." notification rules against appointment data.

Rules are parsed into structured conditions and actions, scored against every
appointment, and rendered into SMS, EMAIL and CALL payloads. Nothing is sent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			configureLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", cfg.Verbose, "verbose output (debug logging to stderr)")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.DataDir, "data-dir", cfg.DataDir, "directory of JSON dataset files (overrides $"+util.EnvDataDir+")")
	pf.StringVar(&opts.DBDriver, "db-driver", cfg.DBDriver, "dataset database driver: sqlite3 or postgres (overrides $"+util.EnvDBDriver+")")
	pf.StringVar(&opts.DBDSN, "db-dsn", cfg.DBDSN, "dataset database DSN; when set the JSON directory is ignored (overrides $"+util.EnvDBDSN+")")
	pf.StringVar(&opts.AsOf, "as-of", asOf, `reference time (RFC 3339 or "now") (overrides $`+util.EnvAsOf+")")
	pf.IntVar(&opts.Workers, "workers", cfg.Workers, "evaluation worker count (overrides $"+util.EnvWorkers+")")
	pf.IntVar(&opts.Limit, "limit", cfg.Limit, "maximum matches per rule (overrides $"+util.EnvLimit+")")

	cmd.AddCommand(NewParseCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// configureLogging installs a text slog handler on w. Warnings and errors are always
// shown; verbose adds info and debug.
func configureLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
