package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/RuleNotify/internal/lockfile"
	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/store"
	"github.com/BTreeMap/RuleNotify/internal/testutil"
	"github.com/BTreeMap/RuleNotify/internal/util"
)

// writeSampleDir writes the sample dataset as JSON files and returns the directory.
func writeSampleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := store.WriteJSONDir(dir, testutil.SampleDataset()); err != nil {
		t.Fatalf("failed to write sample dataset: %v", err)
	}
	return dir
}

// execute runs the root command with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(util.Config{})
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func decodeData(t *testing.T, raw string, target interface{}) CLIResponse {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, raw)
	}
	if target != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, target); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
	return CLIResponse{Status: resp.Status, Error: resp.Error}
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(util.Config{})
	for _, name := range []string{"parse", "evaluate", "batch", "watch", "serve", "import", "export"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			if err != nil || sub == nil || sub.Name() != name {
				t.Errorf("command %s not found: %v", name, err)
			}
		})
	}
}

func TestGlobalFlagsUseConfigDefaults(t *testing.T) {
	cmd := NewRootCommand(util.Config{DataDir: "/srv/data", Workers: 6, APIAddr: ":9090"})
	tests := map[string]string{
		"data-dir": "/srv/data",
		"workers":  "6",
		"format":   "text",
		"verbose":  "false",
	}
	for name, want := range tests {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			t.Errorf("missing flag --%s", name)
			continue
		}
		if f.DefValue != want {
			t.Errorf("--%s default = %q, want %q", name, f.DefValue, want)
		}
	}
	serve, _, _ := cmd.Find([]string{"serve"})
	if got := serve.Flags().Lookup("addr").DefValue; got != ":9090" {
		t.Errorf("serve --addr default = %q", got)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "--format", "yaml", "parse", "If high risk then call")
	if GetExitCode(err) != ExitCommandError {
		t.Errorf("expected command error, got %v", err)
	}
}

func TestParseText(t *testing.T) {
	out, _, err := execute(t, "parse", "If", "high", "risk", "then", "call", "patient")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	for _, want := range []string{"Rule user_rule", "risk_level", "CALL"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestParseJSONFailure(t *testing.T) {
	out, errOut, err := execute(t, "--format", "json", "parse", "call everybody")
	if GetExitCode(err) != ExitFailure || !Reported(err) {
		t.Fatalf("expected reported parse failure, got %v", err)
	}
	resp := decodeData(t, out, nil)
	if resp.Status != "error" || resp.Error == nil || resp.Error.Code != ErrCodeParse {
		t.Errorf("unexpected response %+v", resp)
	}
	if errOut != "" && strings.Contains(errOut, "Error [") {
		t.Error("JSON mode should not print text errors")
	}
}

func TestEvaluateText(t *testing.T) {
	dir := writeSampleDir(t)
	out, _, err := execute(t, "--data-dir", dir, "evaluate", "--qr",
		"If intake is incomplete then send SMS saying 'Please complete your intake form'")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !strings.Contains(out, "Triggered SMS → To: +14155552002") {
		t.Errorf("expected triggered SMS line:\n%s", out)
	}
	if !strings.Contains(out, "Message: Please complete your intake form") {
		t.Errorf("expected custom message:\n%s", out)
	}
	if !strings.Contains(out, "Suppressed: patient is on the do-not-contact list") {
		t.Errorf("expected suppressed do-not-contact match:\n%s", out)
	}
}

func TestEvaluateQRCode(t *testing.T) {
	dir := writeSampleDir(t)
	out, _, err := execute(t, "--data-dir", dir, "evaluate", "--qr", "If high risk then send SMS")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !strings.Contains(out, "Intake link for "+testutil.ApptHighRisk) {
		t.Errorf("expected intake QR section:\n%s", out)
	}
}

func TestEvaluateJSONWithTwilioPreview(t *testing.T) {
	dir := writeSampleDir(t)
	out, _, err := execute(t, "--format", "json", "--data-dir", dir, "--limit", "5",
		"evaluate", "--twilio-preview", "If high risk then call patient")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	var data EvaluateOutput
	resp := decodeData(t, out, &data)
	if resp.Status != "ok" || data.EvaluateResult == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	if data.AsOf != "2025-09-10T12:00:00Z" || data.RunID == "" {
		t.Errorf("unexpected run metadata: %+v", data.EvaluateResult)
	}
	var preview *TwilioPreview
	for i := range data.Twilio {
		if data.Twilio[i].AppointmentID == testutil.ApptHighRisk {
			preview = &data.Twilio[i]
		}
	}
	if preview == nil || len(preview.Requests) != 1 {
		t.Fatalf("expected one Twilio request for %s, got %+v", testutil.ApptHighRisk, data.Twilio)
	}
	req := preview.Requests[0]
	if req.Channel != models.ChannelCall || req.From != "+14155550000" || !strings.Contains(req.TwiML, "Say") {
		t.Errorf("unexpected call preview %+v", req)
	}
	for _, p := range data.Twilio {
		if p.AppointmentID == testutil.ApptDoNotContact {
			t.Error("suppressed match must not produce Twilio requests")
		}
	}
}

func TestEvaluateMissingDataset(t *testing.T) {
	_, errOut, err := execute(t, "--data-dir", filepath.Join(t.TempDir(), "nope"), "evaluate", "If high risk then call")
	if GetExitCode(err) != ExitCommandError {
		t.Errorf("expected command error, got %v", err)
	}
	if !strings.Contains(errOut, ErrCodeDataset) {
		t.Errorf("expected dataset error on stderr, got %q", errOut)
	}
}

func TestEvaluateInvalidAsOf(t *testing.T) {
	dir := writeSampleDir(t)
	_, _, err := execute(t, "--data-dir", dir, "--as-of", "yesterday", "evaluate", "If high risk then call")
	if GetExitCode(err) != ExitCommandError {
		t.Errorf("expected command error for bad --as-of, got %v", err)
	}
}

func writeRuleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeRuleFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", "limit: 3\nrules:\n  - rule: If high risk then call\n", false},
		{"empty document", "", true},
		{"no rules", "limit: 3\nrules: []\n", true},
		{"blank rule", "rules:\n  - rule: '  '\n", true},
		{"unknown key", "rules:\n  - rule: If high risk then call\n    when: now\n", true},
		{"limit too large", "rules:\n  - rule: If high risk then call\n    limit: 5000\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rf, err := decodeRuleFile([]byte(tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr %v, got %v", tt.wantErr, err)
			}
			if err == nil && (rf.Rules[0].Name != "rule-1" || rf.Rules[0].Limit != 3) {
				t.Errorf("defaults not applied: %+v", rf.Rules[0])
			}
		})
	}
}

func TestBatch(t *testing.T) {
	dir := writeSampleDir(t)
	path := writeRuleFile(t, `limit: 5
rules:
  - name: spanish
    rule: If patient speaks spanish then send SMS
  - name: broken
    rule: notify somebody somehow
  - rule: If high risk then call patient
    limit: 1
`)
	out, _, err := execute(t, "--format", "json", "--data-dir", dir, "batch", path)
	if GetExitCode(err) != ExitFailure {
		t.Fatalf("expected failure exit for the broken rule, got %v", err)
	}
	var entries []BatchEntry
	decodeData(t, out, &entries)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Name != "spanish" || len(entries[0].Matches) != 1 || entries[0].Matches[0].AppointmentID != testutil.ApptSpanish {
		t.Errorf("unexpected spanish entry %+v", entries[0])
	}
	if entries[1].Error == "" || len(entries[1].Matches) != 0 {
		t.Errorf("broken rule should carry an error and no matches: %+v", entries[1])
	}
	if entries[2].Name != "rule-3" || len(entries[2].Matches) != 1 {
		t.Errorf("per-rule limit not applied: %+v", entries[2])
	}
}

func TestWatchOnce(t *testing.T) {
	dir := writeSampleDir(t)
	outDir := filepath.Join(t.TempDir(), "reports")
	out, _, err := execute(t, "--data-dir", dir, "watch", "--once", "--out", outDir, "If high risk then call patient")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	reports, _ := filepath.Glob(filepath.Join(outDir, "matches-*.json"))
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %v", reports)
	}
	if !strings.Contains(out, reports[0]) {
		t.Errorf("expected report path in output %q", out)
	}
	raw, err := os.ReadFile(reports[0])
	if err != nil {
		t.Fatal(err)
	}
	var report WatchReport
	testutil.MustUnmarshalJSON(t, raw, &report)
	if len(report.Results) != 1 || report.DatasetVersion == "" || report.RunAt == "" {
		t.Errorf("unexpected report %+v", report)
	}
	if _, err := os.Stat(filepath.Join(outDir, lockfile.LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed after watch exits")
	}
}

func TestWatchLockedDirectory(t *testing.T) {
	dir := writeSampleDir(t)
	outDir := t.TempDir()
	lock, err := lockfile.AcquireLock(outDir, "test")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, _, err = execute(t, "--data-dir", dir, "watch", "--once", "--out", outDir, "If high risk then call")
	if GetExitCode(err) != ExitCommandError {
		t.Errorf("expected lock conflict to fail the command, got %v", err)
	}
}

func TestWatchRuleSources(t *testing.T) {
	if _, err := watchRules("", ""); err == nil {
		t.Error("expected error without rules")
	}
	if _, err := watchRules("rules.yaml", "If high risk then call"); err == nil {
		t.Error("expected error for both a file and a rule")
	}
	rf, err := watchRules("", "  If high risk then call ")
	if err != nil || len(rf.Rules) != 1 || rf.Rules[0].Rule != "If high risk then call" {
		t.Errorf("unexpected rules %+v, %v", rf, err)
	}
}

func TestWatchRejectsBadSchedule(t *testing.T) {
	dir := writeSampleDir(t)
	_, _, err := execute(t, "--data-dir", dir, "watch", "--schedule", "every tuesday", "--out", t.TempDir(), "If high risk then call")
	if GetExitCode(err) != ExitCommandError {
		t.Errorf("expected command error for bad schedule, got %v", err)
	}
}

func TestImportExportSQLite(t *testing.T) {
	dir := writeSampleDir(t)
	dbPath := filepath.Join(t.TempDir(), "db", "records.db")

	out, _, err := execute(t, "--db-dsn", dbPath, "import", "--from", dir)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out, "Imported into sqlite3") {
		t.Errorf("unexpected import output %q", out)
	}

	out, _, err = execute(t, "--format", "json", "--db-dsn", dbPath, "evaluate", "If patient speaks spanish then send SMS")
	if err != nil {
		t.Fatalf("evaluate from sqlite failed: %v", err)
	}
	var data EvaluateOutput
	decodeData(t, out, &data)
	if len(data.Matches) != 1 || data.Matches[0].AppointmentID != testutil.ApptSpanish {
		t.Errorf("unexpected matches from sqlite: %+v", data.Matches)
	}

	exportDir := filepath.Join(t.TempDir(), "export")
	if _, _, err := execute(t, "--db-dsn", dbPath, "export", "--out", exportDir); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	l, err := store.NewJSONLoader(store.WithDataDir(exportDir))
	if err != nil {
		t.Fatal(err)
	}
	ds, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("exported dataset not loadable: %v", err)
	}
	if len(ds.Appointments) != len(testutil.SampleDataset().Appointments) {
		t.Errorf("expected %d appointments, got %d", len(testutil.SampleDataset().Appointments), len(ds.Appointments))
	}
}

func TestImportRequiresDatabase(t *testing.T) {
	_, _, err := execute(t, "import", "--from", writeSampleDir(t))
	if GetExitCode(err) != ExitCommandError {
		t.Errorf("expected command error without --db-dsn, got %v", err)
	}
}

func TestResolveDriver(t *testing.T) {
	tests := []struct {
		opts RootOptions
		want string
	}{
		{RootOptions{}, DriverJSON},
		{RootOptions{DBDSN: "records.db"}, DriverSQLite},
		{RootOptions{DBDSN: "postgres://localhost/rules"}, DriverPostgres},
		{RootOptions{DBDriver: "sqlite", DBDSN: "x"}, DriverSQLite},
		{RootOptions{DBDriver: "PostgreSQL", DBDSN: "x"}, DriverPostgres},
	}
	for _, tt := range tests {
		if got := tt.opts.resolveDriver(); got != tt.want {
			t.Errorf("resolveDriver(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

func TestGetExitCode(t *testing.T) {
	if GetExitCode(nil) != ExitSuccess {
		t.Error("nil error should map to success")
	}
	if GetExitCode(os.ErrNotExist) != ExitFailure {
		t.Error("plain errors should map to failure")
	}
	wrapped := WrapExitError(ExitCommandError, "load", os.ErrNotExist)
	if GetExitCode(wrapped) != ExitCommandError || !strings.Contains(wrapped.Error(), "load:") {
		t.Errorf("unexpected wrapped error %v", wrapped)
	}
}
