package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BTreeMap/RuleNotify/internal/engine"
	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ErrNoRules is returned for a rules file that lists no rules.
var ErrNoRules = errors.New("rules file lists no rules")

// RuleFile is the YAML document read by batch and watch:
//
//	limit: 5
//	rules:
//	  - name: high-risk-calls
//	    rule: If high risk then call patient
//	  - rule: If intake is incomplete then send SMS
//	    limit: 20
type RuleFile struct {
	Limit int         `yaml:"limit,omitempty"`
	Rules []RuleEntry `yaml:"rules"`
}

// RuleEntry is one rule of a RuleFile.
type RuleEntry struct {
	Name  string `yaml:"name,omitempty"`
	Rule  string `yaml:"rule"`
	Limit int    `yaml:"limit,omitempty"`
}

// BatchEntry is the outcome of one rule of a batch run.
type BatchEntry struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
	*models.EvaluateResult
}

// LoadRuleFile reads and validates a YAML rule file. Unknown keys are rejected.
func LoadRuleFile(path string) (*RuleFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return decodeRuleFile(raw)
}

func decodeRuleFile(raw []byte) (*RuleFile, error) {
	var rf RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoRules
		}
		return nil, fmt.Errorf("failed to decode rules file: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, ErrNoRules
	}
	for i := range rf.Rules {
		e := &rf.Rules[i]
		e.Rule = strings.TrimSpace(e.Rule)
		if e.Rule == "" {
			return nil, fmt.Errorf("rules[%d]: %w", i, models.ErrEmptyRule)
		}
		if e.Limit < 0 || e.Limit > models.MaxResultLimit {
			return nil, fmt.Errorf("rules[%d]: %w", i, models.ErrLimitOutOfRange)
		}
		if e.Name == "" {
			e.Name = fmt.Sprintf("rule-%d", i+1)
		}
		if e.Limit == 0 {
			e.Limit = rf.Limit
		}
	}
	return &rf, nil
}

// runRuleFile evaluates every rule of rf. A rule that fails to parse is recorded in its
// entry and does not stop the others; cancellation does.
func runRuleFile(ctx context.Context, eng *engine.Engine, rf *RuleFile, limit int) ([]BatchEntry, int, error) {
	entries := make([]BatchEntry, 0, len(rf.Rules))
	failed := 0
	for _, r := range rf.Rules {
		l := r.Limit
		if l == 0 {
			l = limit
		}
		result, err := eng.EvaluateRun(ctx, r.Rule, l)
		entry := BatchEntry{Name: r.Name, EvaluateResult: result}
		if err != nil {
			if ctx.Err() != nil {
				return entries, failed, ctx.Err()
			}
			entry.Error = err.Error()
			failed++
		}
		entries = append(entries, entry)
	}
	return entries, failed, nil
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <rules.yaml>",
		Short: "Evaluate every rule of a YAML rules file",
		Long: `Evaluate a YAML file of rules against the dataset. Each rule is evaluated
independently; a rule that does not parse is reported and the rest still run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(rootOpts, args[0], cmd)
		},
	}
}

func runBatch(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	rf, err := LoadRuleFile(path)
	if err != nil {
		return f.Error(ExitCommandError, ErrCodeInput, err.Error(), nil)
	}
	_, eng, err := opts.newEngine(cmd.Context())
	if err != nil {
		return f.Error(GetExitCodeOr(err, ExitCommandError), ErrCodeDataset, err.Error(), nil)
	}

	entries, failed, err := runRuleFile(cmd.Context(), eng, rf, opts.Limit)
	if err != nil {
		return f.Error(ExitCommandError, ErrCodeEval, err.Error(), nil)
	}

	if f.JSON() {
		if err := f.Success(entries); err != nil {
			return err
		}
	} else {
		for i, e := range entries {
			if i > 0 {
				fmt.Fprintln(f.Writer)
			}
			fmt.Fprintf(f.Writer, "== %s: %s\n", e.Name, e.Rule)
			if e.Error != "" {
				fmt.Fprintf(f.Writer, "  Error: %s\n", e.Error)
				continue
			}
			writeMatchesText(f.Writer, e.Matches)
		}
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d rule(s) failed", failed, len(entries)))
	}
	return nil
}
