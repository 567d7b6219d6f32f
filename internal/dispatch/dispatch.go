// Package dispatch turns rendered notification payloads into the Twilio API requests
// that would deliver them. Nothing is sent; the requests are built for preview and
// audit output.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/BTreeMap/RuleNotify/internal/models"
)

// ErrUnsupportedChannel is returned for payloads Twilio does not carry (EMAIL).
var ErrUnsupportedChannel = errors.New("channel is not delivered through Twilio")

// ErrNoRecipient is returned for payloads without a destination number.
var ErrNoRecipient = errors.New("payload has no recipient")

// Opts holds configuration options for the previewer.
type Opts struct {
	From          string // sender number used when the caller supplies none
	VoiceLanguage string // language attribute for <Say>, e.g. "es-MX"
	Voice         string // voice attribute for <Say>, e.g. "alice"
}

// Option defines a configuration option for the previewer.
type Option func(*Opts)

// WithFrom sets the default sender number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithVoiceLanguage sets the <Say> language.
func WithVoiceLanguage(lang string) Option {
	return func(o *Opts) { o.VoiceLanguage = lang }
}

// WithVoice sets the <Say> voice.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// Request is a flattened, serializable view of one Twilio API request.
type Request struct {
	Channel models.Channel `json:"channel"`
	To      string         `json:"to"`
	From    string         `json:"from"`
	Body    string         `json:"body,omitempty"`
	TwiML   string         `json:"twiml,omitempty"`
}

// Previewer builds Twilio request parameters.
type Previewer struct {
	opts Opts
}

// NewPreviewer creates a previewer.
func NewPreviewer(opts ...Option) *Previewer {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPreviewer", "From_set", cfg.From != "", "voice_language", cfg.VoiceLanguage)
	return &Previewer{opts: cfg}
}

// MessageParams builds the Messages API request for an SMS payload.
func (p *Previewer) MessageParams(payload models.NotificationPayload, from string) (*twilioApi.CreateMessageParams, error) {
	if payload.Channel != models.ChannelSMS {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, payload.Channel)
	}
	if payload.To == "" {
		return nil, ErrNoRecipient
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(payload.To)
	params.SetFrom(p.from(from))
	params.SetBody(payload.Message)
	return params, nil
}

// CallParams builds the Calls API request for a CALL payload; the script is spoken
// through a <Say> verb.
func (p *Previewer) CallParams(payload models.NotificationPayload, from string) (*twilioApi.CreateCallParams, error) {
	if payload.Channel != models.ChannelCall {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, payload.Channel)
	}
	if payload.To == "" {
		return nil, ErrNoRecipient
	}
	doc, err := p.VoiceTwiML(payload.Script)
	if err != nil {
		return nil, err
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(payload.To)
	params.SetFrom(p.from(from))
	params.SetTwiml(doc)
	return params, nil
}

// VoiceTwiML renders script as a TwiML voice response.
func (p *Previewer) VoiceTwiML(script string) (string, error) {
	say := &twiml.VoiceSay{
		Message:  script,
		Voice:    p.opts.Voice,
		Language: p.opts.VoiceLanguage,
	}
	doc, err := twiml.Voice([]twiml.Element{say})
	if err != nil {
		slog.Error("Previewer.VoiceTwiML: render failed", "error", err)
		return "", fmt.Errorf("failed to render TwiML: %w", err)
	}
	return doc, nil
}

// Preview builds the requests for every deliverable action of a match. EMAIL actions
// and actions without a recipient are skipped with a debug log. from overrides the
// configured sender when set, typically with the practice's default sender phone.
func (p *Previewer) Preview(match models.RuleMatch, from string) []Request {
	var out []Request
	for _, a := range match.Actions {
		switch a.Channel {
		case models.ChannelSMS:
			params, err := p.MessageParams(a, from)
			if err != nil {
				slog.Debug("Previewer.Preview: skipping SMS", "appointment_id", match.AppointmentID, "error", err)
				continue
			}
			out = append(out, Request{Channel: a.Channel, To: deref(params.To), From: deref(params.From), Body: deref(params.Body)})
		case models.ChannelCall:
			params, err := p.CallParams(a, from)
			if err != nil {
				slog.Debug("Previewer.Preview: skipping CALL", "appointment_id", match.AppointmentID, "error", err)
				continue
			}
			out = append(out, Request{Channel: a.Channel, To: deref(params.To), From: deref(params.From), TwiML: deref(params.Twiml)})
		default:
			slog.Debug("Previewer.Preview: channel not carried by Twilio", "appointment_id", match.AppointmentID, "channel", a.Channel)
		}
	}
	return out
}

func (p *Previewer) from(override string) string {
	if override != "" {
		return override
	}
	return p.opts.From
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
