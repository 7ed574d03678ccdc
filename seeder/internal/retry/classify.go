// CLAUDE:SUMMARY Error classifier: maps extraction/delivery errors to Transient or Fatal.
// CLAUDE:DEPENDS none
// CLAUDE:EXPORTS Classify, Class, StatusRetryable, StatusFromMessage
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// Class says whether an error is worth retrying.
type Class string

const (
	Transient Class = "transient" // network, timeout, 429, 5xx
	Fatal     Class = "fatal"     // validation, 4xx, permanent extraction failures
)

// transienter is implemented by errors that know their own class,
// such as extraction errors.
type transienter interface {
	Transient() bool
}

// statusCoder is implemented by HTTP errors carrying a response status.
type statusCoder interface {
	HTTPStatus() int
}

// Classify determines the retry class of err. Cancellation of the caller's
// context is always Fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}

	var tr transienter
	if errors.As(err, &tr) {
		if tr.Transient() {
			return Transient
		}
		return Fatal
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() > 0 {
		if StatusRetryable(sc.HTTPStatus()) {
			return Transient
		}
		return Fatal
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	// Message scanning is reserved for bare errors.New/fmt.Errorf chains;
	// a typed error that got this far is not a transport failure.
	if !plain(err) {
		return Fatal
	}
	msg := strings.ToLower(err.Error())
	if code := StatusFromMessage(msg); code > 0 {
		if StatusRetryable(code) {
			return Transient
		}
		return Fatal
	}
	if isNetworkMessage(msg) {
		return Transient
	}
	return Fatal
}

// StatusRetryable reports whether an HTTP status is worth retrying.
func StatusRetryable(code int) bool {
	return code == 429 || (code >= 500 && code < 600)
}

// StatusFromMessage extracts an HTTP status code from an error message.
// Returns 0 if no code found. Handles "http 503", "http: 404", "status 429", etc.
func StatusFromMessage(errMsg string) int {
	msg := strings.ToLower(errMsg)
	for _, prefix := range []string{"http ", "http: ", "status ", "status: "} {
		idx := strings.Index(msg, prefix)
		if idx < 0 {
			continue
		}
		numStr := strings.TrimSpace(msg[idx+len(prefix):])
		if sp := strings.IndexAny(numStr, " :,)"); sp > 0 {
			numStr = numStr[:sp]
		}
		if code, err := strconv.Atoi(numStr); err == nil && code >= 100 && code < 600 {
			return code
		}
	}
	return 0
}

var networkPhrases = []string{
	"i/o timeout",
	"tls handshake timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"unexpected eof",
}

func isNetworkMessage(msg string) bool {
	for _, p := range networkPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// plain reports whether every error in the chain comes from errors.New or
// fmt.Errorf.
func plain(err error) bool {
	switch fmt.Sprintf("%T", err) {
	case "*errors.errorString":
		return true
	case "*fmt.wrapError", "*fmt.wrapErrors":
	default:
		return false
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return plain(u.Unwrap())
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if !plain(e) {
				return false
			}
		}
		return true
	}
	return true
}
