package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput covers bad paths, empty files and malformed requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidConfig is an InvalidInput raised for bad sizes, overlaps or backend names.
	ErrInvalidConfig = fmt.Errorf("%w: invalid config", ErrInvalidInput)
	// ErrUnsupportedFormat is an InvalidInput raised when no extractor handles a file.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrInvalidInput)
	// ErrExtractionEmpty means the extractor produced no text.
	ErrExtractionEmpty = errors.New("no text extracted")
	// ErrEmbeddingUnavailable means the embedding model failed or answered with a bad vector.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrCompletionFailure means the generative model failed or answered unparseably.
	ErrCompletionFailure = errors.New("completion failure")
	// ErrCorruptStore means persisted chunk records could not be decoded.
	ErrCorruptStore = errors.New("corrupt store")
)

// CollaboratorError describes a failed call to an external model.
type CollaboratorError struct {
	Kind       error
	Op         string
	Retryable  bool
	StatusCode int
	// Payload is the raw response body, kept for diagnosis.
	Payload string
	Err     error
}

func (e *CollaboratorError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CollaboratorError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether err is a collaborator failure worth retrying.
func IsRetryable(err error) bool {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// RetryableStatus reports whether an HTTP status code is transient.
// Zero stands for a transport failure with no response.
func RetryableStatus(code int) bool {
	return code == 0 || code == 429 || code >= 500
}

// RawPayload returns the collaborator payload carried by err, if any.
func RawPayload(err error) string {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Payload
	}
	return ""
}
