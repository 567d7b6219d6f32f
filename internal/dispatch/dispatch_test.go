package dispatch

import (
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/RuleNotify/internal/models"
)

func TestMessageParams(t *testing.T) {
	p := NewPreviewer(WithFrom("+15550000000"))
	params, err := p.MessageParams(models.NotificationPayload{Channel: models.ChannelSMS, To: "+15551234567", Message: "Hi Maya"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *params.To != "+15551234567" || *params.From != "+15550000000" || *params.Body != "Hi Maya" {
		t.Errorf("unexpected params: to=%s from=%s body=%s", *params.To, *params.From, *params.Body)
	}

	params, _ = p.MessageParams(models.NotificationPayload{Channel: models.ChannelSMS, To: "+1", Message: "x"}, "+19990000000")
	if *params.From != "+19990000000" {
		t.Errorf("explicit sender should override default, got %s", *params.From)
	}
}

func TestMessageParamsErrors(t *testing.T) {
	p := NewPreviewer()
	if _, err := p.MessageParams(models.NotificationPayload{Channel: models.ChannelEmail, To: "a@b.c"}, ""); !errors.Is(err, ErrUnsupportedChannel) {
		t.Errorf("expected ErrUnsupportedChannel, got %v", err)
	}
	if _, err := p.MessageParams(models.NotificationPayload{Channel: models.ChannelSMS}, ""); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("expected ErrNoRecipient, got %v", err)
	}
}

func TestCallParamsSpeaksScript(t *testing.T) {
	p := NewPreviewer(WithFrom("+15550000000"), WithVoiceLanguage("es-MX"))
	params, err := p.CallParams(models.NotificationPayload{Channel: models.ChannelCall, To: "+15551234567", Script: "Hola Lucia"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc := *params.Twiml
	for _, want := range []string{"<Response>", "<Say", "Hola Lucia", "es-MX"} {
		if !strings.Contains(doc, want) {
			t.Errorf("TwiML %q missing %q", doc, want)
		}
	}
}

func TestPreviewSkipsEmail(t *testing.T) {
	p := NewPreviewer(WithFrom("+15550000000"))
	match := models.RuleMatch{
		AppointmentID: "appt_1",
		Actions: []models.NotificationPayload{
			{Channel: models.ChannelSMS, To: "+15551234567", Message: "Hi"},
			{Channel: models.ChannelEmail, To: "maya@example.com", Subject: "s", Body: "b"},
			{Channel: models.ChannelCall, To: "+15551234567", Script: "Hello"},
			{Channel: models.ChannelCall, Script: "nobody to call"},
		},
	}
	got := p.Preview(match, "")
	if len(got) != 2 {
		t.Fatalf("expected SMS and CALL requests, got %+v", got)
	}
	if got[0].Channel != models.ChannelSMS || got[0].Body != "Hi" {
		t.Errorf("unexpected SMS request: %+v", got[0])
	}
	if got[1].Channel != models.ChannelCall || !strings.Contains(got[1].TwiML, "Hello") {
		t.Errorf("unexpected CALL request: %+v", got[1])
	}
}

func TestPreviewSuppressedMatch(t *testing.T) {
	got := NewPreviewer().Preview(models.RuleMatch{AppointmentID: "appt_dnc", Suppressed: true}, "")
	if len(got) != 0 {
		t.Errorf("suppressed match should produce no requests, got %+v", got)
	}
}
