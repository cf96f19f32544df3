// Package models defines the core data structures for Fernly.
//
// It includes the intent vocabulary, the persisted learning document, conversation
// turns, and the JSON envelopes shared by the HTTP API.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum accepted length of a single user message.
	MaxMessageLength = 4096
	// MinUnrecognizedLength is the shortest message worth queueing for categorization.
	MinUnrecognizedLength = 5
	// MaxUnrecognizedMessages bounds the unrecognized queue; the lowest counts are evicted.
	MaxUnrecognizedMessages = 100
	// MinSuggestionLength is the shortest free-text suggestion accepted as a learned response.
	MinSuggestionLength = 10
	// LearnedResponseMinHelpful is the helpful count a learned response needs before it can override templates.
	LearnedResponseMinHelpful = 2
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrUnknownIntent      = errors.New("unknown intent")
	ErrInvalidCategory    = errors.New("invalid categorization label")
	ErrMalformedPattern   = errors.New("learned pattern does not compile")
	ErrSuggestionTooShort = errors.New("suggestion is too short to learn from")
	ErrSessionNotFound    = errors.New("session not found")
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one entry in the append-only conversation history.
type ConversationTurn struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Intent     Intent    `json:"intent,omitempty"`
	ResponseID string    `json:"response_id,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusDegraded indicates the request succeeded but learning data could not be persisted.
	APIStatusDegraded APIStatus = "degraded"
)

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

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Degraded creates a response for a turn that was answered while persistence was unavailable.
func Degraded(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusDegraded).
		WithMessage(message).
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
