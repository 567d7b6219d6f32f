package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BTreeMap/RuleNotify/internal/dispatch"
	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/rules"
	"github.com/BTreeMap/RuleNotify/internal/store"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

// SpanishVoiceLanguage is the <Say> language used for Spanish-speaking patients.
const SpanishVoiceLanguage = "es-MX"

// EvaluateOptions holds flags for the evaluate command.
type EvaluateOptions struct {
	QR            bool
	TwilioPreview bool
	From          string
}

// TwilioPreview groups the Twilio requests derived from one match.
type TwilioPreview struct {
	AppointmentID string             `json:"appointment_id"`
	Requests      []dispatch.Request `json:"requests"`
}

// EvaluateOutput is the JSON data of the evaluate command.
type EvaluateOutput struct {
	*models.EvaluateResult
	Twilio []TwilioPreview `json:"twilio,omitempty"`
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	evalOpts := &EvaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate <rule text>",
		Short: "Evaluate a rule against the dataset and print triggered notifications",
		Long: `Parse a rule, score it against every appointment in the dataset and print the
highest-confidence matches with their rendered SMS, EMAIL and CALL payloads.`,
		Example: `  rulenotify evaluate "If intake is incomplete then send SMS saying 'Please complete your intake form'"
  rulenotify evaluate --limit 3 --twilio-preview "If high risk then call patient"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(rootOpts, evalOpts, strings.Join(args, " "), cmd)
		},
	}
	cmd.Flags().BoolVar(&evalOpts.QR, "qr", false, "print intake links of matched appointments as terminal QR codes (text format)")
	cmd.Flags().BoolVar(&evalOpts.TwilioPreview, "twilio-preview", false, "show the Twilio API requests SMS and CALL payloads would produce")
	cmd.Flags().StringVar(&evalOpts.From, "from", rootOpts.TwilioFrom, "sender number for the Twilio preview when the practice has none (overrides $TWILIO_FROM_NUMBER)")
	return cmd
}

func runEvaluate(opts *RootOptions, evalOpts *EvaluateOptions, text string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	records, eng, err := opts.newEngine(cmd.Context())
	if err != nil {
		return f.Error(GetExitCodeOr(err, ExitCommandError), ErrCodeDataset, err.Error(), nil)
	}
	f.VerboseLog("Loaded %d appointment(s), dataset version %s", len(records.AppointmentIDs()), records.Version())

	result, err := eng.EvaluateRun(cmd.Context(), text, opts.Limit)
	if err != nil {
		var parseErr *rules.ParseError
		if errors.As(err, &parseErr) {
			return f.Error(ExitFailure, ErrCodeParse, err.Error(), result)
		}
		return f.Error(ExitCommandError, ErrCodeEval, err.Error(), nil)
	}

	var previews []TwilioPreview
	if evalOpts.TwilioPreview {
		previews = twilioPreviews(records, result.Matches, evalOpts.From)
	}

	if f.JSON() {
		return f.Success(EvaluateOutput{EvaluateResult: result, Twilio: previews})
	}

	fmt.Fprintf(f.Writer, "Rule: %s\nAs of: %s  Run: %s\n\n", result.Rule, result.AsOf, result.RunID)
	writeMatchesText(f.Writer, result.Matches)
	if len(previews) > 0 {
		fmt.Fprintln(f.Writer)
		writePreviewsText(f.Writer, previews)
	}
	if evalOpts.QR {
		writeIntakeQRCodes(f.Writer, records, result.Matches)
	}
	return nil
}

// GetExitCodeOr returns err's exit code when it carries one, otherwise def.
func GetExitCodeOr(err error, def int) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return def
}

// twilioPreviews builds Twilio requests per match. The practice's default sender phone
// is preferred over the configured from number, and Spanish-speaking patients get a
// Spanish <Say> voice.
func twilioPreviews(records *store.RecordStore, matches []models.RuleMatch, from string) []TwilioPreview {
	english := dispatch.NewPreviewer(dispatch.WithFrom(from))
	spanish := dispatch.NewPreviewer(dispatch.WithFrom(from), dispatch.WithVoiceLanguage(SpanishVoiceLanguage))

	var out []TwilioPreview
	for _, m := range matches {
		previewer, sender := english, ""
		if appt, ok := records.Appointment(m.AppointmentID); ok {
			if practice, ok := records.Practice(appt.PracticeID); ok {
				sender = practice.DefaultSenderPhone
			}
		}
		if patient, ok := records.Patient(m.PatientID); ok && patient.Language == models.LanguageSpanish {
			previewer = spanish
		}
		reqs := previewer.Preview(m, sender)
		if len(reqs) == 0 {
			continue
		}
		out = append(out, TwilioPreview{AppointmentID: m.AppointmentID, Requests: reqs})
	}
	return out
}

func writePreviewsText(w io.Writer, previews []TwilioPreview) {
	fmt.Fprintln(w, "Twilio preview:")
	for _, p := range previews {
		for _, r := range p.Requests {
			fmt.Fprintf(w, "  %s %s From=%s To=%s\n", p.AppointmentID, r.Channel, r.From, r.To)
			if r.Body != "" {
				fmt.Fprintf(w, "    Body: %s\n", r.Body)
			}
			if r.TwiML != "" {
				fmt.Fprintf(w, "    TwiML: %s\n", r.TwiML)
			}
		}
	}
}

// writeIntakeQRCodes renders the intake link of each matched appointment that has one.
func writeIntakeQRCodes(w io.Writer, records *store.RecordStore, matches []models.RuleMatch) {
	for _, m := range matches {
		if m.Suppressed {
			continue
		}
		intake, ok := records.Intake(m.AppointmentID)
		if !ok || intake.Link == "" {
			continue
		}
		fmt.Fprintf(w, "\nIntake link for %s: %s\n", m.AppointmentID, intake.Link)
		qrterminal.GenerateHalfBlock(intake.Link, qrterminal.L, w)
	}
}
