package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure a conversion attempt can end with.
type ErrorKind string

const (
	KindDecode              ErrorKind = "decode_error"
	KindNetwork             ErrorKind = "network_error"
	KindProviderRejected    ErrorKind = "provider_rejected"
	KindProviderFailedAsync ErrorKind = "provider_failed_async"
	KindTimeout             ErrorKind = "timeout"
	KindConfiguration       ErrorKind = "configuration_error"
)

// Recovery is the action offered to the user after a failure.
type Recovery string

const (
	RecoveryRetry     Recovery = "retry"
	RecoveryGoBack    Recovery = "go_back"
	RecoverySupplyOwn Recovery = "supply_own"
)

var (
	ErrDecode              = &Error{Kind: KindDecode}
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrProviderRejected    = &Error{Kind: KindProviderRejected}
	ErrProviderFailedAsync = &Error{Kind: KindProviderFailedAsync}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
)

// Error is a classified failure. Op names the stage that failed, for example
// "replicate.poll".
type Error struct {
	Kind       ErrorKind
	Op         string
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func NewError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so callers can write errors.Is(err, domain.ErrTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// KindOf classifies any error. Context deadlines count as timeouts; anything
// unclassified is reported as a network error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

// Classify wraps err in an *Error unless it already is one.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

func (k ErrorKind) Recovery() Recovery {
	switch k {
	case KindDecode, KindTimeout:
		return RecoveryGoBack
	case KindConfiguration:
		return RecoverySupplyOwn
	default:
		return RecoveryRetry
	}
}

func (k ErrorKind) Retryable() bool {
	return k != KindConfiguration && k != ""
}

// UserMessage is the plain-language text shown for a failure kind.
func (k ErrorKind) UserMessage() string {
	switch k {
	case KindDecode:
		return "The image could not be read. Please upload a JPEG, PNG or WebP photo."
	case KindNetwork:
		return "The image service could not be reached. Please try again."
	case KindProviderRejected:
		return "The image service rejected the request. Please try again."
	case KindProviderFailedAsync:
		return "The image service could not finish the conversion. Please try again."
	case KindTimeout:
		return "The conversion took too long. Please upload your photo again."
	case KindConfiguration:
		return "Pixel art generation is not available right now. You can upload your own design instead."
	default:
		return "Something went wrong."
	}
}
