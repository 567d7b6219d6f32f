package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/RuleNotify/internal/evalctx"
	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/tone"
)

func mustParse(t *testing.T, text string) *models.StructuredRule {
	t.Helper()
	rule, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", text, err)
	}
	return rule
}

func findCondition(rule *models.StructuredRule, field string) []models.ParsedCondition {
	var out []models.ParsedCondition
	for _, c := range rule.Conditions {
		if c.Field == field {
			out = append(out, c)
		}
	}
	return out
}

func TestParseRejectsMissingBoundary(t *testing.T) {
	inputs := []string{
		"",
		"send sms to everyone",
		"high risk then call patient",
		"if high risk call patient",
		"if high risk then",
	}
	for _, text := range inputs {
		rule, err := Parse(text)
		if rule != nil {
			t.Errorf("Parse(%q) returned a rule", text)
		}
		if !errors.Is(err, ErrMalformedRule) {
			t.Errorf("Parse(%q): expected ErrMalformedRule, got %v", text, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) || pe.Text != text {
			t.Errorf("Parse(%q): expected *ParseError carrying the text, got %v", text, err)
		}
	}
}

func TestParseRejectsRuleWithoutChannel(t *testing.T) {
	_, err := Parse("if high risk then do something nice")
	if !errors.Is(err, ErrNoActions) {
		t.Errorf("expected ErrNoActions, got %v", err)
	}
}

func TestParseHighRiskCall(t *testing.T) {
	rule := mustParse(t, "If high risk then call patient")
	if rule.ID != DefaultRuleID || rule.Logic != models.LogicAll {
		t.Errorf("unexpected rule header: %+v", rule)
	}
	risk := findCondition(rule, evalctx.FieldNoShowRisk)
	if len(risk) != 2 {
		t.Fatalf("expected keyword and loose risk conditions, got %+v", rule.Conditions)
	}
	if risk[0].Confidence != ConfidenceKeyword || risk[1].Confidence != ConfidenceLoose {
		t.Errorf("unexpected confidences: %+v", risk)
	}
	for _, c := range risk {
		if c.Value != "high" || c.Operator != models.OpEquals {
			t.Errorf("unexpected risk condition: %+v", c)
		}
	}
	if rule.Confidence != ConfidenceLoose {
		t.Errorf("rule confidence should be the weakest condition, got %v", rule.Confidence)
	}
	if len(rule.Actions) != 1 || rule.Actions[0].Channel != models.ChannelCall {
		t.Fatalf("expected one CALL action, got %+v", rule.Actions)
	}
	if rule.Actions[0].Template != tone.Template(models.ChannelCall, tone.Default) {
		t.Errorf("expected default call template, got %q", rule.Actions[0].Template)
	}
}

func TestParseCanonicalRisk(t *testing.T) {
	rule := mustParse(t, "if no-show risk is medium then send sms")
	risk := findCondition(rule, evalctx.FieldNoShowRisk)
	if len(risk) == 0 || risk[0].Confidence != ConfidenceCanonical || risk[0].Value != "medium" {
		t.Errorf("expected canonical medium risk first, got %+v", risk)
	}
}

func TestParseCustomMessagePreservesCase(t *testing.T) {
	rule := mustParse(t, "If intake is incomplete then send SMS saying 'Please complete your intake form'")
	if len(rule.Actions) != 1 {
		t.Fatalf("expected only SMS, got %+v", rule.Actions)
	}
	a := rule.Actions[0]
	if a.Channel != models.ChannelSMS || a.CustomMessage != "Please complete your intake form" || a.Template != a.CustomMessage {
		t.Errorf("unexpected action: %+v", a)
	}
	intake := findCondition(rule, evalctx.FieldIntakeStatus)
	if len(intake) != 1 || intake[0].Value != "INCOMPLETE" || intake[0].Confidence != ConfidenceCanonical {
		t.Errorf("unexpected intake conditions: %+v", intake)
	}
}

func TestParseQuotedTextDoesNotAddChannels(t *testing.T) {
	rule := mustParse(t, `if risk is high then email patient with message "please call or text us"`)
	if len(rule.Actions) != 1 || rule.Actions[0].Channel != models.ChannelEmail {
		t.Fatalf("quoted words must not trigger channels, got %+v", rule.Actions)
	}
	if rule.Actions[0].CustomMessage != "please call or text us" {
		t.Errorf("unexpected custom message: %q", rule.Actions[0].CustomMessage)
	}
}

func TestParseCustomMessageIntroNamesChannel(t *testing.T) {
	tests := []struct {
		text     string
		channels []models.Channel
		message  string
	}{
		{"If high risk then send message 'Please call us'", []models.Channel{models.ChannelSMS}, "Please call us"},
		{"If intake is incomplete then message 'Finish your intake'", []models.Channel{models.ChannelSMS}, "Finish your intake"},
		{`If high risk then sms: "See you soon"`, []models.Channel{models.ChannelSMS}, "See you soon"},
		{"If high risk then email: 'Your visit is tomorrow'", []models.Channel{models.ChannelEmail}, "Your visit is tomorrow"},
		{"If high risk then script: 'Hello, this is the clinic'", []models.Channel{models.ChannelCall}, "Hello, this is the clinic"},
		{"If high risk then call patient and sms: 'We will call'", []models.Channel{models.ChannelSMS, models.ChannelCall}, "We will call"},
		{"If high risk then email patient with message 'Call us'", []models.Channel{models.ChannelEmail}, "Call us"},
	}
	for _, tt := range tests {
		rule := mustParse(t, tt.text)
		if len(rule.Actions) != len(tt.channels) {
			t.Errorf("%q: expected %v, got %+v", tt.text, tt.channels, rule.Actions)
			continue
		}
		for i, a := range rule.Actions {
			if a.Channel != tt.channels[i] || a.CustomMessage != tt.message {
				t.Errorf("%q: action %d = %+v, want %s with %q", tt.text, i, a, tt.channels[i], tt.message)
			}
		}
	}
}

func TestParseSpanishTone(t *testing.T) {
	rule := mustParse(t, "If patient speaks spanish then send SMS")
	lang := findCondition(rule, evalctx.FieldPatientLanguage)
	if len(lang) != 1 || lang[0].Value != models.LanguageSpanish {
		t.Fatalf("expected es language condition, got %+v", rule.Conditions)
	}
	a := rule.Actions[0]
	if a.Tone != string(tone.Spanish) || a.Template != tone.Template(models.ChannelSMS, tone.Spanish) {
		t.Errorf("expected Spanish SMS template, got %+v", a)
	}
}

func TestParseEmailSubject(t *testing.T) {
	rule := mustParse(t, "4. If appointment is within 24 hours then send email subject 'See you soon'")
	if rule.ID != "rule_4" {
		t.Errorf("expected rule_4, got %q", rule.ID)
	}
	if len(rule.Actions) != 1 || rule.Actions[0].Subject != "See you soon" {
		t.Fatalf("expected email with subject, got %+v", rule.Actions)
	}
	if rule.Actions[0].CustomMessage != "" {
		t.Errorf("subject must not be taken as the body: %+v", rule.Actions[0])
	}
	hours := findCondition(rule, evalctx.FieldHoursUntil)
	if len(hours) != 1 || hours[0].Value != 24.0 || hours[0].Operator != models.OpLTE {
		t.Errorf("unexpected time condition: %+v", hours)
	}

	rule = mustParse(t, "if risk is low then email")
	if rule.Actions[0].Subject != models.DefaultEmailSubject {
		t.Errorf("expected default subject, got %q", rule.Actions[0].Subject)
	}
}

func TestParseMultipleChannelsInFixedOrder(t *testing.T) {
	rule := mustParse(t, "when appointment is tomorrow then call, email and text the patient")
	var got []models.Channel
	for _, a := range rule.Actions {
		got = append(got, a.Channel)
	}
	want := []models.Channel{models.ChannelSMS, models.ChannelEmail, models.ChannelCall}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
	if h := findCondition(rule, evalctx.FieldHoursUntil); len(h) != 1 || h[0].Value != 24.0 {
		t.Errorf("expected tomorrow => 24h, got %+v", h)
	}
}

func TestParseLogic(t *testing.T) {
	tests := []struct {
		text string
		want models.Logic
	}{
		{"if high risk or intake is incomplete then call", models.LogicAny},
		{"if high risk and intake is incomplete then call", models.LogicAll},
		{"if appointment is 24 hours or less away then call", models.LogicAll},
	}
	for _, tt := range tests {
		if got := mustParse(t, tt.text).Logic; got != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.text, tt.want, got)
		}
	}
}

func TestParseConditionTable(t *testing.T) {
	tests := []struct {
		clause string
		field  string
		op     models.Operator
		value  any
	}{
		{"appointment is soon", evalctx.FieldHoursUntil, models.OpLTE, 48.0},
		{"appointment is within 2 days", evalctx.FieldHoursUntil, models.OpLTE, 48.0},
		{"appointment is more than 72 hours away", evalctx.FieldHoursUntil, models.OpGTE, 72.0},
		{"missing intake", evalctx.FieldIntakeStatus, models.OpEquals, "INCOMPLETE"},
		{"intake is complete", evalctx.FieldIntakeStatus, models.OpEquals, "COMPLETE"},
		{"spanish-speaking patient", evalctx.FieldPatientLanguage, models.OpEquals, "es"},
		{"patient speaks english", evalctx.FieldPatientLanguage, models.OpEquals, "en"},
		{"appointment type is physical therapy and high risk", evalctx.FieldAppointmentType, models.OpContains, "physical therapy"},
		{"mri", evalctx.FieldAppointmentType, models.OpContains, "mri"},
		{"status is cancelled", evalctx.FieldAppointmentStatus, models.OpEquals, "CANCELLED"},
		{"location is downtown", evalctx.FieldAppointmentLocation, models.OpContains, "downtown"},
		{"practice is sunrise clinic", evalctx.FieldPracticeName, models.OpContains, "sunrise clinic"},
		{"patient prefers email", evalctx.FieldPatientCommEmail, models.OpEquals, "true"},
		{"patient prefers texts", evalctx.FieldPatientCommSMS, models.OpEquals, "true"},
		{"patient is tagged vip", evalctx.FieldPatientTags, models.OpContains, "vip"},
		{"patient missed a call", evalctx.FieldRecentEventTypes, models.OpContains, "call.missed"},
		{"there was a referral", evalctx.FieldRelatedEventTypes, models.OpContains, "referral"},
	}
	for _, tt := range tests {
		rule := mustParse(t, "if "+tt.clause+" then send sms")
		conds := findCondition(rule, tt.field)
		if len(conds) == 0 {
			t.Errorf("%q: no condition on %s, got %+v", tt.clause, tt.field, rule.Conditions)
			continue
		}
		if conds[0].Operator != tt.op || conds[0].Value != tt.value {
			t.Errorf("%q: expected %s %v, got %+v", tt.clause, tt.op, tt.value, conds[0])
		}
	}
}

func TestParseStatusOnlyAcceptsEnumValues(t *testing.T) {
	rule := mustParse(t, "if status is pending then send sms")
	if conds := findCondition(rule, evalctx.FieldAppointmentStatus); len(conds) != 0 {
		t.Errorf("non-enum status should not produce a condition: %+v", conds)
	}
}

func TestParseKeepsDuplicateConditions(t *testing.T) {
	rule := mustParse(t, "if risk is high and high risk then call")
	risk := findCondition(rule, evalctx.FieldNoShowRisk)
	if len(risk) < 3 {
		t.Fatalf("expected canonical, keyword and loose conditions, got %+v", risk)
	}
	if risk[0].Confidence != ConfidenceCanonical || risk[1].Confidence != ConfidenceKeyword {
		t.Errorf("conditions should follow table order: %+v", risk)
	}
}

func TestParseUnconditionalRule(t *testing.T) {
	rule := mustParse(t, "if anything at all then send sms")
	if len(rule.Conditions) != 0 || rule.Confidence != DefaultRuleConfidence {
		t.Errorf("expected vacuous rule with default confidence, got %+v", rule)
	}
}

func TestParseUrgentTone(t *testing.T) {
	rule := mustParse(t, "if high risk then send an urgent sms")
	if rule.Actions[0].Tone != string(tone.Urgent) {
		t.Errorf("expected urgent tone, got %q", rule.Actions[0].Tone)
	}
	if !strings.HasPrefix(rule.Actions[0].Template, "URGENT") {
		t.Errorf("expected urgent template, got %q", rule.Actions[0].Template)
	}
}
