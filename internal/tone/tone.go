// Package tone provides a fixed whitelist of message tones, keyword-based tone
// classification of rule text, and the canned notification templates selected by
// (channel, tone).
package tone

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/BTreeMap/RuleNotify/internal/models"
)

// ---- Whitelist ----

// Tag names a message tone.
type Tag string

const (
	Urgent   Tag = "urgent"
	Spanish  Tag = "spanish"
	Reminder Tag = "reminder"
	Default  Tag = "default"
)

// AllTags is the hard-coded set of tones a template exists for.
var AllTags = map[Tag]bool{
	Urgent:   true,
	Spanish:  true,
	Reminder: true,
	Default:  true,
}

// Precedence is the order tones are tested in. The first tone with a keyword present
// in the text wins; Default matches when nothing else does.
var Precedence = []Tag{Urgent, Spanish, Reminder}

// keywords maps each tone to the cue words that select it.
var keywords = map[Tag][]string{
	Urgent:   {"urgent", "urgently", "important", "asap", "immediately"},
	Spanish:  {"spanish", "español", "espanol"},
	Reminder: {"reminder", "remind"},
}

// ---- Public API ----

// Classify returns the tone cued by text.
func Classify(text string) Tag {
	fold := cases.Fold()
	folded := fold.String(text)
	for _, tag := range Precedence {
		for _, kw := range keywords[tag] {
			if strings.Contains(folded, fold.String(kw)) {
				return tag
			}
		}
	}
	return Default
}

// ValidateTag normalizes a tone name, returning Default for anything outside AllTags.
func ValidateTag(name string) Tag {
	t := Tag(strings.TrimSpace(strings.ToLower(name)))
	if AllTags[t] {
		return t
	}
	return Default
}

// Template returns the canned body for a (channel, tone) pair. Placeholders use
// {field} syntax and resolve against evaluation context fields.
func Template(channel models.Channel, tag Tag) string {
	byTone, ok := templates[channel]
	if !ok {
		return ""
	}
	if tpl, ok := byTone[ValidateTag(string(tag))]; ok {
		return tpl
	}
	return byTone[Default]
}

// ---- Templates ----

var templates = map[models.Channel]map[Tag]string{
	models.ChannelSMS: {
		Urgent:   "URGENT: {patient_first_name}, please contact {practice_name} about your {appointment_type} appointment.",
		Reminder: "Hi {patient_first_name}, reminder about your {appointment_type} appointment at {practice_name}.",
		Spanish:  "Hola {patient_first_name}, recordatorio sobre su cita de {appointment_type}.",
		Default:  "Hi {patient_first_name}, this is a reminder about your {appointment_type} appointment.",
	},
	models.ChannelEmail: {
		Urgent:   "Dear {patient_first_name},\n\nThis is an urgent reminder about your {appointment_type} appointment.\n\nPlease contact us immediately.\n\nBest regards,\n{practice_name}",
		Reminder: "Dear {patient_first_name},\n\nThis is a friendly reminder about your upcoming {appointment_type} appointment.\n\nThank you,\n{practice_name}",
		Spanish:  "Estimado/a {patient_first_name},\n\nEste es un recordatorio sobre su cita de {appointment_type}.\n\nGracias,\n{practice_name}",
		Default:  "Dear {patient_first_name},\n\nThis is a reminder about your {appointment_type} appointment.\n\nBest regards,\n{practice_name}",
	},
	models.ChannelCall: {
		Urgent:   "Hi {patient_first_name}, this is {practice_name} calling urgently about your {appointment_type} appointment.",
		Reminder: "Hi {patient_first_name}, this is {practice_name} calling to remind you about your {appointment_type} appointment.",
		Spanish:  "Hola {patient_first_name}, le llama {practice_name} sobre su cita de {appointment_type}.",
		Default:  "Hi {patient_first_name}, this is {practice_name} calling about your {appointment_type} appointment.",
	},
}
