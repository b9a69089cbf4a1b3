package types

import (
	"context"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

type ToolErrorKind string

const (
	KindUpstreamError   ToolErrorKind = "upstream_error"
	KindUpstreamTimeout ToolErrorKind = "upstream_timeout"
	KindNotConfigured   ToolErrorKind = "not_configured"
	KindInvalidInput    ToolErrorKind = "invalid_input"
)

// MaxUpstreamBody is how much of an upstream response body is kept in errors.
const MaxUpstreamBody = 512

// ToolError is a failure a tool reports back to the client as an error result.
type ToolError struct {
	Kind     ToolErrorKind
	Upstream string
	Status   int
	Message  string
	cause    error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	if e.Upstream != "" {
		b.WriteString(e.Upstream)
		if e.Status != 0 {
			fmt.Fprintf(&b, " (%d)", e.Status)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

func (e *ToolError) Unwrap() error {
	return e.cause
}

func NewUpstreamError(upstream string, status int, body string) *ToolError {
	return &ToolError{
		Kind:     KindUpstreamError,
		Upstream: upstream,
		Status:   status,
		Message:  Truncate(strings.TrimSpace(body), MaxUpstreamBody),
	}
}

func NewUpstreamTimeout(upstream string, cause error) *ToolError {
	return &ToolError{
		Kind:     KindUpstreamTimeout,
		Upstream: upstream,
		Message:  "request timed out",
		cause:    cause,
	}
}

func NewNotConfigured(message string) *ToolError {
	return &ToolError{
		Kind:    KindNotConfigured,
		Message: message,
	}
}

func NewInvalidInput(message string) *ToolError {
	return &ToolError{
		Kind:    KindInvalidInput,
		Message: message,
	}
}

// WrapUpstream classifies err coming from upstream. Timeouts become
// KindUpstreamTimeout, existing ToolErrors pass through and anything else
// becomes KindUpstreamError.
func WrapUpstream(upstream string, err error) error {
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	if IsTimeout(err) {
		return NewUpstreamTimeout(upstream, err)
	}
	wrapped := NewUpstreamError(upstream, 0, err.Error())
	wrapped.cause = err
	return wrapped
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
