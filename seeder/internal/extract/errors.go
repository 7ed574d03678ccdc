package extract

import (
	"errors"
	"fmt"
)

// Kind tags every extraction error as retryable or not.
type Kind int

const (
	Transient Kind = iota + 1
	Permanent
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

var (
	ErrNoExtractor  = errors.New("extract: no extractor for source")
	ErrNotFound     = errors.New("extract: not found")
	ErrNoTranscript = errors.New("extract: no transcript available")
	ErrEmpty        = errors.New("extract: empty content")
	ErrInvalidURL   = errors.New("extract: cannot parse source url")
)

// Error is returned by every Extractor.
type Error struct {
	Kind   Kind
	Op     string // extractor name
	URL    string
	Status int // HTTP status when the failure came from a response
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s %s: http %d: %v", e.Op, e.Kind, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying may succeed.
func (e *Error) Transient() bool { return e.Kind == Transient }

func transientErr(op, url string, err error) *Error {
	return &Error{Kind: Transient, Op: op, URL: url, Err: err}
}

func permanentErr(op, url string, err error) *Error {
	return &Error{Kind: Permanent, Op: op, URL: url, Err: err}
}

// IsPermanent reports whether err is an extraction error that must not be retried.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Permanent
}
