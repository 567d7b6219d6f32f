// Package render fills action templates with evaluation context fields and produces
// undelivered notification payloads.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/RuleNotify/internal/evalctx"
	"github.com/BTreeMap/RuleNotify/internal/models"
)

// ErrUnknownPlaceholder is returned when a template names a field the context does not
// define.
var ErrUnknownPlaceholder = errors.New("unknown template placeholder")

// placeholderRe matches {{name}} and {name}.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Fill substitutes every placeholder in tpl. Known fields with empty values render as
// the empty string.
func Fill(tpl string, ctx *evalctx.Context) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(ph string) string {
		m := placeholderRe.FindStringSubmatch(ph)
		name := m[1]
		if name == "" {
			name = m[2]
		}
		v, ok := ctx.Field(name)
		if !ok {
			if missing == "" {
				missing = name
			}
			return ph
		}
		return v.Text()
	})
	if missing != "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlaceholder, missing)
	}
	return out, nil
}

// Render turns actions into payloads for the context's patient. A do-not-contact patient
// gets no payloads. An action whose template cannot be filled is logged and dropped;
// the remaining actions still render.
func Render(actions []models.ParsedAction, ctx *evalctx.Context) []models.NotificationPayload {
	payloads := []models.NotificationPayload{}
	if ctx.DNC {
		slog.Debug("render.Render: patient is do-not-contact, suppressing actions",
			"appointment_id", ctx.AppointmentID, "patient_id", ctx.PatientID)
		return payloads
	}
	for _, a := range actions {
		p, err := renderAction(a, ctx)
		if err != nil {
			slog.Warn("render.Render: dropping action",
				"appointment_id", ctx.AppointmentID, "channel", a.Channel, "error", err)
			continue
		}
		payloads = append(payloads, p)
	}
	return payloads
}

func renderAction(a models.ParsedAction, ctx *evalctx.Context) (models.NotificationPayload, error) {
	body, err := Fill(a.Template, ctx)
	if err != nil {
		return models.NotificationPayload{}, err
	}
	p := models.NotificationPayload{Channel: a.Channel}
	switch a.Channel {
	case models.ChannelSMS:
		p.To = text(ctx, evalctx.FieldPatientPhone)
		p.Message = body
	case models.ChannelEmail:
		subject := a.Subject
		if subject == "" {
			subject = models.DefaultEmailSubject
		}
		if p.Subject, err = Fill(subject, ctx); err != nil {
			return models.NotificationPayload{}, err
		}
		p.To = text(ctx, evalctx.FieldPatientEmail)
		p.Body = body
	case models.ChannelCall:
		p.To = text(ctx, evalctx.FieldPatientPhone)
		p.Script = body
	default:
		return models.NotificationPayload{}, fmt.Errorf("unsupported channel %q", a.Channel)
	}
	return p, nil
}

func text(ctx *evalctx.Context, field string) string {
	v, _ := ctx.Field(field)
	return v.Text()
}
