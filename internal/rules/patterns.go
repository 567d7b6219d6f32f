package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/RuleNotify/internal/evalctx"
	"github.com/BTreeMap/RuleNotify/internal/models"
)

// Confidence weights attached to conditions, by how literally the phrase matched.
const (
	ConfidenceCanonical = 0.9 // exact canonical phrasing, e.g. "risk is high"
	ConfidenceKeyword   = 0.8 // a fixed keyword phrase, e.g. "high risk"
	ConfidenceLoose     = 0.7 // loose co-occurrence of cue words in the clause
)

// normalizer turns regexp submatches into a condition value. It reports false to reject
// the match.
type normalizer func(groups []string) (any, bool)

// pattern is one row of the condition table.
type pattern struct {
	kind       models.ConditionKind
	re         *regexp.Regexp
	field      string
	op         models.Operator
	normalize  normalizer
	confidence float64
}

// conditionPatterns is scanned top to bottom against the lower-cased "if" clause.
// Every match of every row yields its own condition, in table order then match order;
// nothing is deduplicated, so a field can appear several times with different weights.
//
// Order: risk, time, intake, language, appointment type, appointment status, location,
// practice, communication preference, tag, event.
var conditionPatterns = []pattern{
	// Risk level.
	{models.ConditionRiskLevel, regexp.MustCompile(`\b(?:no[- ]?show )?risk (?:level )?is (high|medium|low)\b`),
		evalctx.FieldNoShowRisk, models.OpEquals, firstGroup, ConfidenceCanonical},
	{models.ConditionRiskLevel, regexp.MustCompile(`\b(high|medium|low)[- ](?:no[- ]?show[- ])?risk\b`),
		evalctx.FieldNoShowRisk, models.OpEquals, firstGroup, ConfidenceKeyword},
	{models.ConditionRiskLevel, regexp.MustCompile(`\b(?:risk|likelihood)\b.*?\b(high|medium|low)\b|\b(high|medium|low)\b.*?\b(?:risk|likelihood)\b`),
		evalctx.FieldNoShowRisk, models.OpEquals, firstGroup, ConfidenceLoose},

	// Time until the appointment.
	{models.ConditionTimeBased, regexp.MustCompile(`\bwithin (?:the next )?(\d+) (?:hours?|hrs?)\b`),
		evalctx.FieldHoursUntil, models.OpLTE, hours, ConfidenceCanonical},
	{models.ConditionTimeBased, regexp.MustCompile(`\b(?:less than|under|in) (\d+) (?:hours?|hrs?)\b`),
		evalctx.FieldHoursUntil, models.OpLTE, hours, ConfidenceCanonical},
	{models.ConditionTimeBased, regexp.MustCompile(`\b(\d+) (?:hours?|hrs?) (?:or less|or fewer|before|until)\b`),
		evalctx.FieldHoursUntil, models.OpLTE, hours, ConfidenceCanonical},
	{models.ConditionTimeBased, regexp.MustCompile(`\b(?:more than|over|at least) (\d+) (?:hours?|hrs?)\b`),
		evalctx.FieldHoursUntil, models.OpGTE, hours, ConfidenceCanonical},
	{models.ConditionTimeBased, regexp.MustCompile(`\bwithin (?:the next )?(\d+) days?\b`),
		evalctx.FieldHoursUntil, models.OpLTE, days, ConfidenceKeyword},
	{models.ConditionTimeBased, regexp.MustCompile(`\b(?:more than|over|at least) (\d+) days?\b`),
		evalctx.FieldHoursUntil, models.OpGTE, days, ConfidenceKeyword},
	{models.ConditionTimeBased, regexp.MustCompile(`\btomorrow\b`),
		evalctx.FieldHoursUntil, models.OpLTE, constant(24.0), ConfidenceKeyword},
	{models.ConditionTimeBased, regexp.MustCompile(`\bsoon\b`),
		evalctx.FieldHoursUntil, models.OpLTE, constant(48.0), ConfidenceKeyword},

	// Intake status.
	{models.ConditionStatus, regexp.MustCompile(`\bintake (?:form )?(?:status )?is (incomplete|complete)\b`),
		evalctx.FieldIntakeStatus, models.OpEquals, upperGroup, ConfidenceCanonical},
	{models.ConditionStatus, regexp.MustCompile(`\b(?:incomplete|missing|unfinished) intake\b|\bintake (?:form )?(?:is )?(?:missing|not (?:filled|submitted|completed|complete|done))\b`),
		evalctx.FieldIntakeStatus, models.OpEquals, constant(string(models.IntakeStatusIncomplete)), ConfidenceKeyword},
	{models.ConditionStatus, regexp.MustCompile(`\b(?:completed|finished|submitted) intake\b`),
		evalctx.FieldIntakeStatus, models.OpEquals, constant(string(models.IntakeStatusComplete)), ConfidenceKeyword},

	// Patient language.
	{models.ConditionLanguage, regexp.MustCompile(`\b(?:speaks|language is|prefers language) (spanish|english|español|es|en)\b`),
		evalctx.FieldPatientLanguage, models.OpEquals, languageCode, ConfidenceCanonical},
	{models.ConditionLanguage, regexp.MustCompile(`\b(spanish|english)[- ]speaking\b`),
		evalctx.FieldPatientLanguage, models.OpEquals, languageCode, ConfidenceKeyword},

	// Appointment type.
	{models.ConditionAppointmentType, regexp.MustCompile(`\b(?:appointment |visit )?type (?:is|contains|includes) ([a-z0-9/ -]+?)(?:\s+(?:and|or)\b|$)`),
		evalctx.FieldAppointmentType, models.OpContains, trimmedGroup, ConfidenceCanonical},
	{models.ConditionAppointmentType, regexp.MustCompile(`\b(oncology|ortho|mri|ob/gyn|pt session|cardiology|dermatology|pediatric)`),
		evalctx.FieldAppointmentType, models.OpContains, firstGroup, ConfidenceKeyword},

	// Appointment status. Only the enumerated statuses are accepted.
	{models.ConditionStatus, regexp.MustCompile(`\b(?:appointment )?status is (scheduled|cancelled|canceled|completed)\b`),
		evalctx.FieldAppointmentStatus, models.OpEquals, appointmentStatus, ConfidenceCanonical},
	{models.ConditionStatus, regexp.MustCompile(`\b(scheduled|cancelled|canceled|completed) appointment\b`),
		evalctx.FieldAppointmentStatus, models.OpEquals, appointmentStatus, ConfidenceKeyword},

	// Location.
	{models.ConditionLocation, regexp.MustCompile(`\blocation (?:is|contains|includes) ([a-z0-9 .,'/-]+?)(?:\s+(?:and|or)\b|$)`),
		evalctx.FieldAppointmentLocation, models.OpContains, trimmedGroup, ConfidenceCanonical},
	{models.ConditionLocation, regexp.MustCompile(`\bat the ([a-z0-9 .'-]+?) (?:office|location|campus)\b`),
		evalctx.FieldAppointmentLocation, models.OpContains, trimmedGroup, ConfidenceLoose},

	// Practice.
	{models.ConditionPractice, regexp.MustCompile(`\bpractice (?:name )?(?:is|contains|includes) ([a-z0-9 .&'-]+?)(?:\s+(?:and|or)\b|$)`),
		evalctx.FieldPracticeName, models.OpContains, trimmedGroup, ConfidenceCanonical},
	{models.ConditionPractice, regexp.MustCompile(`\bclinic (?:name )?is ([a-z0-9 .&'-]+?)(?:\s+(?:and|or)\b|$)`),
		evalctx.FieldPracticeName, models.OpContains, trimmedGroup, ConfidenceKeyword},

	// Communication preferences. The field is resolved from the captured channel word
	// by preferenceField.
	{models.ConditionPreference, regexp.MustCompile(`\bprefers (sms|texts?|e-?mails?|calls?|phone calls?)\b`),
		"", models.OpEquals, constant("true"), ConfidenceKeyword},
	{models.ConditionPreference, regexp.MustCompile(`\b(?:opted in|consented|consents) to (sms|texts?|e-?mails?|calls?|phone calls?)\b`),
		"", models.OpEquals, constant("true"), ConfidenceLoose},

	// Patient tags.
	{models.ConditionTag, regexp.MustCompile(`\b(?:tagged(?: as)?|has tag|tag is) ['"]?([a-z0-9_-]+)`),
		evalctx.FieldPatientTags, models.OpContains, firstGroup, ConfidenceKeyword},

	// Related events.
	{models.ConditionEvent, regexp.MustCompile(`\bmissed (?:a |the )?(?:phone )?call\b`),
		evalctx.FieldRecentEventTypes, models.OpContains, constant("call.missed"), ConfidenceKeyword},
	{models.ConditionEvent, regexp.MustCompile(`\bintake (?:was |has been )?updated\b`),
		evalctx.FieldRecentEventTypes, models.OpContains, constant("intake.updated"), ConfidenceKeyword},
	{models.ConditionEvent, regexp.MustCompile(`\b(?:appointment (?:was |has been )?(?:updated|rescheduled)|rescheduled)\b`),
		evalctx.FieldRecentEventTypes, models.OpContains, constant("appointment.updated"), ConfidenceKeyword},
	{models.ConditionEvent, regexp.MustCompile(`\breferral\b`),
		evalctx.FieldRelatedEventTypes, models.OpContains, constant("referral"), ConfidenceLoose},
}

// preferenceField maps a channel word captured by a preference row to its context field.
func preferenceField(word string) string {
	switch {
	case strings.HasPrefix(word, "sms"), strings.HasPrefix(word, "text"):
		return evalctx.FieldPatientCommSMS
	case strings.Contains(word, "mail"):
		return evalctx.FieldPatientCommEmail
	default:
		return evalctx.FieldPatientCommCall
	}
}

// ---- normalizers ----

// firstGroup returns the first non-empty capture group.
func firstGroup(groups []string) (any, bool) {
	for _, g := range groups[1:] {
		if g != "" {
			return g, true
		}
	}
	return nil, false
}

func trimmedGroup(groups []string) (any, bool) {
	v, ok := firstGroup(groups)
	if !ok {
		return nil, false
	}
	s := strings.Trim(strings.TrimSpace(v.(string)), ".,'\"")
	if s == "" {
		return nil, false
	}
	return s, true
}

func upperGroup(groups []string) (any, bool) {
	v, ok := firstGroup(groups)
	if !ok {
		return nil, false
	}
	return strings.ToUpper(v.(string)), true
}

func hours(groups []string) (any, bool) {
	n, err := strconv.Atoi(groups[1])
	if err != nil {
		return nil, false
	}
	return float64(n), true
}

func days(groups []string) (any, bool) {
	n, err := strconv.Atoi(groups[1])
	if err != nil {
		return nil, false
	}
	return float64(n * 24), true
}

func constant(v any) normalizer {
	return func([]string) (any, bool) { return v, true }
}

func languageCode(groups []string) (any, bool) {
	switch groups[1] {
	case "spanish", "español", "es":
		return models.LanguageSpanish, true
	case "english", "en":
		return models.LanguageEnglish, true
	}
	return nil, false
}

func appointmentStatus(groups []string) (any, bool) {
	switch groups[1] {
	case "scheduled":
		return string(models.AppointmentStatusScheduled), true
	case "cancelled", "canceled":
		return string(models.AppointmentStatusCancelled), true
	case "completed":
		return string(models.AppointmentStatusCompleted), true
	}
	return nil, false
}
