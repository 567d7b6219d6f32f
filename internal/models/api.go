package models

import "errors"

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// Validation constants for rule requests
const (
	// MaxRuleTextLength bounds the free-text rule accepted over the API.
	MaxRuleTextLength = 2048
	// MaxResultLimit bounds the number of matches a single request may ask for.
	MaxResultLimit = 1000
)

var (
	ErrEmptyRule       = errors.New("rule text is required")
	ErrRuleTooLong     = errors.New("rule text exceeds maximum length")
	ErrLimitOutOfRange = errors.New("limit must be between 0 and 1000")
)

// RuleRequest is the payload for parse and evaluate requests.
type RuleRequest struct {
	Rule  string `json:"rule"`
	Limit int    `json:"limit,omitempty"`
}

// Validate performs basic validation on a RuleRequest.
func (r *RuleRequest) Validate() error {
	if r.Rule == "" {
		return ErrEmptyRule
	}
	if len(r.Rule) > MaxRuleTextLength {
		return ErrRuleTooLong
	}
	if r.Limit < 0 || r.Limit > MaxResultLimit {
		return ErrLimitOutOfRange
	}
	return nil
}

// EvaluateResult is the result body of an evaluate request.
type EvaluateResult struct {
	RunID   string      `json:"run_id"`
	AsOf    string      `json:"as_of"`
	Rule    string      `json:"rule"`
	Matches []RuleMatch `json:"matches"`
}

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ErrorWithResult creates an error API response that still carries data, such as an
// empty match list for a rule that failed to parse.
func ErrorWithResult(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		WithResult(result).
		Build()
}
