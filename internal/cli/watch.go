package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/RuleNotify/internal/engine"
	"github.com/BTreeMap/RuleNotify/internal/lockfile"
	"github.com/BTreeMap/RuleNotify/internal/scheduler"
	"github.com/spf13/cobra"
)

// Watch defaults.
const (
	DefaultWatchSchedule = "@every 15m"

	// ReportTimeLayout is the timestamp embedded in report file names.
	ReportTimeLayout = "20060102T150405Z"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	Schedule  string
	OutDir    string
	RulesFile string
	Once      bool
}

// WatchReport is the content of one matches-<timestamp>.json file.
type WatchReport struct {
	RunAt          string       `json:"run_at"`
	DatasetVersion string       `json:"dataset_version"`
	Results        []BatchEntry `json:"results"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	watchOpts := &WatchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [rule text]",
		Short: "Re-evaluate rules on a cron schedule and write match reports",
		Long: `Re-evaluate one rule, or every rule of a YAML rules file, on a cron schedule.

Each run reloads the dataset, evaluates at the current wall-clock time and writes
matches-<timestamp>.json into the output directory. The directory is locked so two
watch processes never write into it at once.`,
		Example: `  rulenotify watch --schedule "*/10 * * * *" --out reports "If intake is incomplete then send SMS"
  rulenotify watch --rules rules.yaml --out reports --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, watchOpts, strings.Join(args, " "), cmd)
		},
	}
	cmd.Flags().StringVar(&watchOpts.Schedule, "schedule", DefaultWatchSchedule, "cron expression or descriptor (e.g. @every 5m)")
	cmd.Flags().StringVarP(&watchOpts.OutDir, "out", "o", "reports", "directory to write match reports into")
	cmd.Flags().StringVar(&watchOpts.RulesFile, "rules", "", "YAML rules file (instead of a rule argument)")
	cmd.Flags().BoolVar(&watchOpts.Once, "once", false, "run a single evaluation immediately and exit")
	return cmd
}

// watcher owns the engine between ticks.
type watcher struct {
	opts   *RootOptions
	rules  *RuleFile
	outDir string
	eng    *engine.Engine
}

func runWatch(opts *RootOptions, watchOpts *WatchOptions, text string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	rf, err := watchRules(watchOpts.RulesFile, text)
	if err != nil {
		return f.Error(ExitCommandError, ErrCodeInput, err.Error(), nil)
	}
	if !watchOpts.Once {
		if err := scheduler.Validate(watchOpts.Schedule); err != nil {
			return f.Error(ExitCommandError, ErrCodeInput, err.Error(), nil)
		}
	}

	lock, err := lockfile.AcquireLock(watchOpts.OutDir, "watch")
	if err != nil {
		return f.Error(ExitCommandError, ErrCodeInput, err.Error(), nil)
	}
	defer lock.Release()

	records, err := opts.loadRecords(cmd.Context())
	if err != nil {
		return f.Error(ExitCommandError, ErrCodeDataset, err.Error(), nil)
	}
	w := &watcher{
		opts:   opts,
		rules:  rf,
		outDir: watchOpts.OutDir,
		eng:    engine.NewEngine(records, opts.engineOptions(engine.SystemClock{})...),
	}

	ctx := cmd.Context()
	if watchOpts.Once {
		path, err := w.tick(ctx, false)
		if err != nil {
			return f.Error(ExitCommandError, ErrCodeEval, err.Error(), nil)
		}
		if f.JSON() {
			return f.Success(map[string]string{"report": path})
		}
		fmt.Fprintf(f.Writer, "Wrote %s\n", path)
		return nil
	}

	sched := scheduler.NewScheduler()
	id, err := sched.AddJob(watchOpts.Schedule, func() {
		if _, err := w.tick(ctx, true); err != nil {
			slog.Error("watch: run failed", "error", err)
		}
	})
	if err != nil {
		<-sched.Stop().Done()
		return f.Error(ExitCommandError, ErrCodeInput, err.Error(), nil)
	}
	f.VerboseLog("Watching with schedule %q, next run at %s", watchOpts.Schedule, sched.Next(id).Format(time.RFC3339))
	slog.Info("watch started", "schedule", watchOpts.Schedule, "out", watchOpts.OutDir, "rules", len(rf.Rules))

	<-ctx.Done()
	slog.Info("watch stopping, waiting for the running evaluation")
	<-sched.Stop().Done()
	return nil
}

// watchRules resolves the rules to watch from a file or a single rule argument.
func watchRules(path, text string) (*RuleFile, error) {
	text = strings.TrimSpace(text)
	switch {
	case path != "" && text != "":
		return nil, fmt.Errorf("pass either a rule or --rules, not both")
	case path != "":
		return LoadRuleFile(path)
	case text != "":
		return &RuleFile{Rules: []RuleEntry{{Name: "rule-1", Rule: text}}}, nil
	default:
		return nil, ErrNoRules
	}
}

// tick runs one evaluation and writes its report. With reload set the dataset is read
// again first; the engine cache is dropped only when its content changed.
func (w *watcher) tick(ctx context.Context, reload bool) (string, error) {
	if reload {
		records, err := w.opts.loadRecords(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to reload dataset: %w", err)
		}
		if records.Version() != w.eng.DatasetVersion() {
			w.eng.SetStore(records)
		}
	}

	runAt := w.eng.Clock().Now()
	entries, failed, err := runRuleFile(ctx, w.eng, w.rules, w.opts.Limit)
	if err != nil {
		return "", err
	}
	report := WatchReport{
		RunAt:          runAt.Format(time.RFC3339),
		DatasetVersion: w.eng.DatasetVersion(),
		Results:        entries,
	}
	path := filepath.Join(w.outDir, "matches-"+runAt.UTC().Format(ReportTimeLayout)+".json")
	if err := writeJSONFile(path, report); err != nil {
		return "", err
	}
	slog.Info("watch: report written", "path", path, "rules", len(entries), "failed", failed)
	return path, nil
}

// writeJSONFile writes v to path through a temporary file and a rename, so readers
// never see a partial report.
func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.json")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
