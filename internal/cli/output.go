package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BTreeMap/RuleNotify/internal/models"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rule failed to parse, batch entry failed
	ExitCommandError = 2 // Command error (bad flags, dataset not loadable, etc.)
)

// Error codes reported in JSON output.
const (
	ErrCodeParse   = "E_PARSE"
	ErrCodeDataset = "E_DATASET"
	ErrCodeInput   = "E_INPUT"
	ErrCodeEval    = "E_EVAL"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; keeps JSON on Writer clean
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// JSON reports whether the formatter emits JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success outputs a successful result in the configured format. In text mode data is
// printed with fmt.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.JSON() {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format and returns an ExitError carrying
// exitCode, so commands can `return f.Error(...)`.
func (f *OutputFormatter) Error(exitCode int, code, message string, details interface{}) error {
	if f.JSON() {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(CLIResponse{
			Status: "error",
			Data:   details,
			Error:  &CLIError{Code: code, Message: message},
		})
	} else {
		fmt.Fprintf(f.GetErrWriter(), "Error [%s]: %s\n", code, message)
	}
	return &ExitError{Code: exitCode, Message: message, Err: errReported}
}

// errReported marks errors whose message the formatter already printed.
var errReported = errors.New("reported")

// Reported reports whether err was already written by an OutputFormatter.
func Reported(err error) bool {
	return errors.Is(err, errReported)
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// writeMatchesText prints matches in the human-readable "Triggered ..." layout.
func writeMatchesText(w io.Writer, matches []models.RuleMatch) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No appointments matched.")
		return
	}
	for i, m := range matches {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Appointment %s (patient %s) confidence %.3f\n", m.AppointmentID, m.PatientID, m.Confidence)
		if m.Suppressed {
			fmt.Fprintln(w, "  Suppressed: patient is on the do-not-contact list")
			continue
		}
		for _, a := range m.Actions {
			writePayloadText(w, a)
		}
	}
}

func writePayloadText(w io.Writer, p models.NotificationPayload) {
	fmt.Fprintf(w, "  Triggered %s → To: %s\n", p.Channel, p.To)
	switch p.Channel {
	case models.ChannelSMS:
		fmt.Fprintf(w, "    Message: %s\n", p.Message)
	case models.ChannelEmail:
		fmt.Fprintf(w, "    Subject: %s\n", p.Subject)
		fmt.Fprintf(w, "    Body: %s\n", indentContinuation(p.Body, "          "))
	case models.ChannelCall:
		fmt.Fprintf(w, "    Script: %s\n", p.Script)
	}
}

func indentContinuation(s, indent string) string {
	return strings.ReplaceAll(s, "\n", "\n"+indent)
}

// writeRuleText prints a parsed rule.
func writeRuleText(w io.Writer, rule *models.StructuredRule) {
	fmt.Fprintf(w, "Rule %s (logic %s, confidence %.2f)\n", rule.ID, rule.Logic, rule.Confidence)
	if len(rule.Conditions) == 0 {
		fmt.Fprintln(w, "  Conditions: none (matches every appointment)")
	} else {
		fmt.Fprintln(w, "  Conditions:")
		for _, c := range rule.Conditions {
			fmt.Fprintf(w, "    - %s: %s %s %v (%.1f)\n", c.Kind, c.Field, c.Operator, c.Value, c.Confidence)
		}
	}
	fmt.Fprintln(w, "  Actions:")
	for _, a := range rule.Actions {
		switch {
		case a.CustomMessage != "":
			fmt.Fprintf(w, "    - %s: %q\n", a.Channel, a.CustomMessage)
		default:
			fmt.Fprintf(w, "    - %s (%s tone)\n", a.Channel, a.Tone)
		}
	}
}
