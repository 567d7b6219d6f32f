package models

// ConditionKind groups parsed conditions by what they test.
type ConditionKind string

const (
	ConditionRiskLevel       ConditionKind = "risk_level"
	ConditionTimeBased       ConditionKind = "time_based"
	ConditionStatus          ConditionKind = "status"
	ConditionLanguage        ConditionKind = "language"
	ConditionAppointmentType ConditionKind = "appointment_type"
	ConditionLocation        ConditionKind = "location"
	ConditionPractice        ConditionKind = "practice"
	ConditionPreference      ConditionKind = "preference"
	ConditionTag             ConditionKind = "tag"
	ConditionEvent           ConditionKind = "event"
)

// Operator is the comparison a condition applies to a context field.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpLTE      Operator = "<="
	OpGTE      Operator = ">="
)

// Logic combines a rule's conditions.
type Logic string

const (
	// LogicAll requires every condition to hold. It is the default.
	LogicAll Logic = "ALL"
	// LogicAny requires at least one condition to hold.
	LogicAny Logic = "ANY"
)

// Channel is a notification channel.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
	ChannelCall  Channel = "CALL"
)

// DefaultEmailSubject is used when a rule does not quote a subject.
const DefaultEmailSubject = "Appointment Reminder"

// ParsedCondition is a single typed predicate extracted from a rule's "if" clause.
// Value is a string for equals/contains and a float64 for numeric operators.
type ParsedCondition struct {
	Kind       ConditionKind `json:"kind"`
	Field      string        `json:"field"`
	Operator   Operator      `json:"operator"`
	Value      any           `json:"value"`
	Confidence float64       `json:"confidence"`
}

// ParsedAction is a notification intent extracted from a rule's "then" clause.
// Template holds the SMS message, EMAIL body, or CALL script; Subject is set for EMAIL.
type ParsedAction struct {
	Channel       Channel `json:"channel"`
	Template      string  `json:"template"`
	Subject       string  `json:"subject,omitempty"`
	CustomMessage string  `json:"custom_message,omitempty"`
	Tone          string  `json:"tone,omitempty"`
}

// StructuredRule is the compiled form of one free-text rule. Conditions are an ordered
// list: the same field may appear more than once with different confidences.
type StructuredRule struct {
	ID           string            `json:"id"`
	OriginalText string            `json:"original_text"`
	Logic        Logic             `json:"logic"`
	Conditions   []ParsedCondition `json:"conditions"`
	Actions      []ParsedAction    `json:"actions"`
	Confidence   float64           `json:"confidence"`
}

// NotificationPayload is a rendered, undelivered notification.
type NotificationPayload struct {
	Channel Channel `json:"type"`
	To      string  `json:"to"`
	Message string  `json:"message,omitempty"`
	Subject string  `json:"subject,omitempty"`
	Body    string  `json:"body,omitempty"`
	Script  string  `json:"script,omitempty"`
}

// RuleMatch is one appointment that satisfied a rule. Suppressed is set when the patient
// is on do-not-contact, in which case Actions is always empty.
type RuleMatch struct {
	AppointmentID string                `json:"appointment_id"`
	PatientID     string                `json:"patient_id"`
	Confidence    float64               `json:"confidence"`
	Actions       []NotificationPayload `json:"triggered_actions"`
	Suppressed    bool                  `json:"suppressed,omitempty"`
}
