// Package rules compiles free-text notification rules of the form
// "if <conditions> then <actions>" into models.StructuredRule values.
//
// Conditions come from the ordered pattern table in patterns.go. Actions are found by
// channel keyword in the "then" clause; each carries either the literal quoted message
// from the rule or a canned template chosen by the rule's tone.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/tone"
)

// DefaultRuleConfidence is the confidence of a rule with no conditions.
const DefaultRuleConfidence = 0.5

// DefaultRuleID is used for rules without a leading "N." number.
const DefaultRuleID = "user_rule"

var (
	// ErrMalformedRule is returned when no "if|when ... then ..." boundary is found.
	ErrMalformedRule = errors.New("rule must have the form 'if <conditions> then <actions>'")
	// ErrNoActions is returned when the "then" clause names no known channel.
	ErrNoActions = errors.New("rule names no notification channel (sms, email, call)")
)

// ParseError reports why a rule could not be compiled.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse rule %q: %v", e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	boundaryRe = regexp.MustCompile(`(?is)^\s*(?:(\d+)\.\s*)?.*?\b(?:if|when)\s+(.+?)\s+then\s+(.+?)\s*$`)

	// "or less", "or more" and similar belong to a time phrase, not to the rule logic.
	comparativeOrRe = regexp.MustCompile(`\bor (?:less|fewer|more|sooner|later)\b`)
	disjunctionRe   = regexp.MustCompile(`\bor\b`)

	// Groups: 1 loose intro word, 2 channel-colon intro, 3 and 4 the quoted text.
	customMessageRe = regexp.MustCompile(`(?i)\b(?:(saying|message|with)\s*:?|(sms|text|email|call|script)\s*:)\s*(?:'([^']*)'|"([^"]*)")`)
	subjectRe       = regexp.MustCompile(`(?i)\bsubject\s*:?\s*(?:'([^']*)'|"([^"]*)")`)
	quotedRe        = regexp.MustCompile(`'[^']*'|"[^"]*"`)
)

// channelKeywords are tested against the "then" clause with quoted text removed.
// Actions are emitted in this order.
var channelKeywords = []struct {
	channel models.Channel
	re      *regexp.Regexp
}{
	{models.ChannelSMS, regexp.MustCompile(`\b(?:sms|texts?|texting|message)\b`)},
	{models.ChannelEmail, regexp.MustCompile(`\be-?mails?\b`)},
	{models.ChannelCall, regexp.MustCompile(`\b(?:call|phone)\b`)},
}

// Parse compiles one rule. It fails with a *ParseError wrapping ErrMalformedRule or
// ErrNoActions; it never returns a rule without actions.
func Parse(text string) (*models.StructuredRule, error) {
	m := boundaryRe.FindStringSubmatch(text)
	if m == nil {
		slog.Debug("rules.Parse: no if/then boundary", "text", text)
		return nil, &ParseError{Text: text, Err: ErrMalformedRule}
	}
	number, ifClause, thenClause := m[1], m[2], m[3]

	rule := &models.StructuredRule{
		ID:           DefaultRuleID,
		OriginalText: strings.TrimSpace(text),
		Logic:        detectLogic(ifClause),
		Conditions:   parseConditions(ifClause),
	}
	if number != "" {
		rule.ID = "rule_" + number
	}

	rule.Actions = parseActions(thenClause, tone.Classify(ifClause+" "+thenClause))
	if len(rule.Actions) == 0 {
		slog.Debug("rules.Parse: no channel in then clause", "text", text)
		return nil, &ParseError{Text: text, Err: ErrNoActions}
	}

	rule.Confidence = DefaultRuleConfidence
	for i, c := range rule.Conditions {
		if i == 0 || c.Confidence < rule.Confidence {
			rule.Confidence = c.Confidence
		}
	}

	slog.Debug("rules.Parse: compiled rule",
		"id", rule.ID,
		"logic", rule.Logic,
		"conditions", len(rule.Conditions),
		"actions", len(rule.Actions),
		"confidence", rule.Confidence)
	return rule, nil
}

func detectLogic(ifClause string) models.Logic {
	lower := comparativeOrRe.ReplaceAllString(strings.ToLower(ifClause), " ")
	if disjunctionRe.MatchString(lower) {
		return models.LogicAny
	}
	return models.LogicAll
}

// parseConditions applies every row of conditionPatterns to the clause, in order.
func parseConditions(ifClause string) []models.ParsedCondition {
	lower := strings.ToLower(ifClause)
	var out []models.ParsedCondition
	for _, p := range conditionPatterns {
		for _, groups := range p.re.FindAllStringSubmatch(lower, -1) {
			value, ok := p.normalize(groups)
			if !ok {
				continue
			}
			field := p.field
			if p.kind == models.ConditionPreference {
				field = preferenceField(groups[1])
			}
			out = append(out, models.ParsedCondition{
				Kind:       p.kind,
				Field:      field,
				Operator:   p.op,
				Value:      value,
				Confidence: p.confidence,
			})
		}
	}
	return out
}

// parseActions finds the channels named in the then clause. A quoted custom message
// applies to every channel; otherwise each channel gets the canned template for the
// rule's tone.
func parseActions(thenClause string, ruleTone tone.Tag) []models.ParsedAction {
	custom, introChannel, explicit := customMessage(thenClause)
	subject := firstQuoted(subjectRe, thenClause)

	masked := customMessageRe.ReplaceAllString(thenClause, " ")
	masked = subjectRe.ReplaceAllString(masked, " ")
	masked = strings.ToLower(quotedRe.ReplaceAllString(masked, " "))

	channels := make(map[models.Channel]bool, len(channelKeywords))
	for _, ck := range channelKeywords {
		if ck.re.MatchString(masked) {
			channels[ck.channel] = true
		}
	}
	// "sms: '...'" always names its channel; a bare "message '...'" only counts
	// when nothing else in the clause does.
	if introChannel != "" && (explicit || len(channels) == 0) {
		channels[introChannel] = true
	}

	var actions []models.ParsedAction
	for _, ck := range channelKeywords {
		if !channels[ck.channel] {
			continue
		}
		a := models.ParsedAction{
			Channel:       ck.channel,
			CustomMessage: custom,
			Template:      custom,
		}
		if custom == "" {
			a.Tone = string(ruleTone)
			a.Template = tone.Template(ck.channel, ruleTone)
		}
		if ck.channel == models.ChannelEmail {
			a.Subject = subject
			if a.Subject == "" {
				a.Subject = models.DefaultEmailSubject
			}
		}
		actions = append(actions, a)
	}
	return actions
}

// customMessage extracts the first quoted custom message and the channel its intro
// word implies, if any. explicit is set for the "<channel>:" form.
func customMessage(s string) (text string, channel models.Channel, explicit bool) {
	m := customMessageRe.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	text = m[3]
	if text == "" {
		text = m[4]
	}
	switch strings.ToLower(m[1] + m[2]) {
	case "message", "sms", "text":
		channel = models.ChannelSMS
	case "email":
		channel = models.ChannelEmail
	case "call", "script":
		channel = models.ChannelCall
	}
	return text, channel, m[2] != ""
}

// firstQuoted returns the quoted text of the first match of re, whichever quote style
// was used.
func firstQuoted(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
