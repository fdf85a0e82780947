package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"  // bad request or config
	ErrCatExecution   ErrorCategory = "execution"   // a judge or command failed
	ErrCatTimeout     ErrorCategory = "timeout"     // a deadline passed
	ErrCatState       ErrorCategory = "state"       // illegal phase transition
	ErrCatConsensus   ErrorCategory = "consensus"   // no usable consensus
	ErrCatTransport   ErrorCategory = "transport"   // ordered log unreachable or rejecting writes
	ErrCatProtocol    ErrorCategory = "protocol"    // malformed log payloads
	ErrCatPersistence ErrorCategory = "persistence" // summary store failure
	ErrCatNotFound    ErrorCategory = "not_found"
	ErrCatInternal    ErrorCategory = "internal"
)

// retryableByDefault lists categories a caller may retry unchanged.
var retryableByDefault = map[ErrorCategory]bool{
	ErrCatExecution: true,
	ErrCatTimeout:   true,
	ErrCatTransport: true,
}

// Error codes carried by DomainError.Code and by error messages on the log.
const (
	CodeAgentTimeout         = "AGENT_TIMEOUT"
	CodeAgentFailed          = "AGENT_FAILED"
	CodeAgentUnavailable     = "AGENT_UNAVAILABLE"
	CodeNoUsableScores       = "NO_USABLE_SCORES"
	CodeLogPublishFailed     = "LOG_PUBLISH_FAILED"
	CodeLogUnavailable       = "LOG_UNAVAILABLE"
	CodeEntryTooLarge        = "ENTRY_TOO_LARGE"
	CodeTopicNotFound        = "TOPIC_NOT_FOUND"
	CodeChunkReassembly      = "CHUNK_REASSEMBLY_FAILED"
	CodeUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	CodeMalformedPayload     = "MALFORMED_PAYLOAD"
	CodeUnsupportedAlgorithm = "UNSUPPORTED_ALGORITHM"
	CodePersistenceFailed    = "PERSISTENCE_FAILED"
	CodeEvaluationNotFound   = "EVALUATION_NOT_FOUND"
	CodeInvalidState         = "INVALID_STATE"
	CodeNotFound             = "NOT_FOUND"
	CodeTimeout              = "TIMEOUT"

	CodeEmptyContent    = "EMPTY_CONTENT"
	CodeContentTooLarge = "CONTENT_TOO_LARGE"
	CodeNoCriteria      = "NO_CRITERIA"
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeNoAgents        = "NO_AGENTS"
	CodeNoScores        = "NO_SCORES"
	CodeInvalidTimeout  = "INVALID_TIMEOUT"
	CodeInvalidScore    = "INVALID_SCORE"
)

// DomainError is the structured error every layer returns. Code is stable
// and is what reaches error messages on the log and API responses.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

func newError(cat ErrorCategory, code, message string) *DomainError {
	return &DomainError{
		Category:  cat,
		Code:      code,
		Message:   message,
		Retryable: retryableByDefault[cat],
	}
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError with the same category and code, so
// errors.Is(err, ErrTopicNotFound("")) works regardless of message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail attaches a key/value for logs and error payloads.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func ErrValidation(code, message string) *DomainError {
	return newError(ErrCatValidation, code, message)
}

func ErrExecution(code, message string) *DomainError {
	return newError(ErrCatExecution, code, message)
}

func ErrTimeout(message string) *DomainError {
	return newError(ErrCatTimeout, CodeTimeout, message)
}

func ErrState(code, message string) *DomainError {
	return newError(ErrCatState, code, message)
}

// ErrTransport is retryable: the log may come back.
func ErrTransport(code, message string) *DomainError {
	return newError(ErrCatTransport, code, message)
}

// ErrProtocol reports a log payload that cannot be decoded.
func ErrProtocol(code, message string) *DomainError {
	return newError(ErrCatProtocol, code, message)
}

func ErrPersistence(message string) *DomainError {
	return newError(ErrCatPersistence, CodePersistenceFailed, message)
}

func ErrNotFound(resource, id string) *DomainError {
	return newError(ErrCatNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id))
}

// ErrTopicNotFound reports a topic the ordered log does not know.
func ErrTopicNotFound(topicID string) *DomainError {
	return newError(ErrCatNotFound, CodeTopicNotFound, fmt.Sprintf("topic not found: %s", topicID)).
		WithDetail("topic_id", topicID)
}

// ErrEvaluationNotFound reports an id missing from the summary store.
func ErrEvaluationNotFound(id string) *DomainError {
	return newError(ErrCatNotFound, CodeEvaluationNotFound, fmt.Sprintf("evaluation not found: %s", id)).
		WithDetail("evaluation_id", id)
}

// ErrAgentTimeout reports a judge that missed the round deadline. It is
// not retryable: the round has moved on.
func ErrAgentTimeout(agent string, round int) *DomainError {
	err := newError(ErrCatTimeout, CodeAgentTimeout, fmt.Sprintf("agent %s did not respond in round %d", agent, round))
	err.Retryable = false
	return err.WithDetail("agent", agent).WithDetail("round", round)
}

// ErrAgentError reports a judge that answered with a failure.
func ErrAgentError(agent string, cause error) *DomainError {
	err := newError(ErrCatExecution, CodeAgentFailed, fmt.Sprintf("agent %s failed", agent))
	err.Retryable = false
	return err.WithCause(cause).WithDetail("agent", agent)
}

// ErrNoUsableScores is the fatal outcome when round 0 produced nothing.
func ErrNoUsableScores(requested int) *DomainError {
	return newError(ErrCatConsensus, CodeNoUsableScores,
		fmt.Sprintf("none of %d requested agents produced a usable score", requested)).
		WithDetail("requested", requested)
}

func asDomain(err error) (*DomainError, bool) {
	var d *DomainError
	if errors.As(err, &d) && d != nil {
		return d, true
	}
	return nil, false
}

// IsRetryable reports whether err is a DomainError marked retryable.
func IsRetryable(err error) bool {
	d, ok := asDomain(err)
	return ok && d.Retryable
}

// GetCategory returns err's category, or internal for foreign errors.
func GetCategory(err error) ErrorCategory {
	if d, ok := asDomain(err); ok {
		return d.Category
	}
	return ErrCatInternal
}

func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// GetCode returns err's code, or "" for foreign errors.
func GetCode(err error) string {
	if d, ok := asDomain(err); ok {
		return d.Code
	}
	return ""
}
