package executor

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrorClass buckets a failure so the scheduler and callers can decide
// whether retrying makes sense.
type ErrorClass string

const (
	ErrorClassTransient   ErrorClass = "transient"    // network blip, timeout; retry later
	ErrorClassRateLimited ErrorClass = "rate_limited"  // provider/site asked us to back off
	ErrorClassConfig      ErrorClass = "config"        // bad selector, bad DSN; won't succeed on retry without a fix
	ErrorClassUnknown     ErrorClass = "unknown"
)

// ConfigError reports an assignment whose configuration cannot produce a
// runnable job (no active rules, missing capture config, missing
// source/target). It is raised before any job record is created.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}

// ErrorInfo is the classified, sanitized view of a job failure stored on
// ExtractionJob.ErrorMessage/ErrorDetails, splitting a safe-to-display
// summary from full diagnostic detail.
type ErrorInfo struct {
	Class   ErrorClass
	Message string // safe to show a user: no credentials, no internal paths
	Detail  string // full error text, for logs only
}

var credentialLikePattern = regexp.MustCompile(`(?i)(password|secret|token|apikey|api_key|authorization)(\s*[=:]\s*)\S+`)

// ClassifyError inspects err and produces an ErrorInfo. Context
// cancellation and deadline errors classify as transient since they
// usually reflect a timeout worth retrying, not a permanent problem.
func ClassifyError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}

	detail := err.Error()
	message := sanitizeErrorMessage(detail)

	var configErr *ConfigError
	switch {
	case errors.As(err, &configErr):
		return ErrorInfo{Class: ErrorClassConfig, Message: message, Detail: detail}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorInfo{Class: ErrorClassTransient, Message: message, Detail: detail}
	case isRateLimitError(err):
		return ErrorInfo{Class: ErrorClassRateLimited, Message: message, Detail: detail}
	case isConfigError(detail):
		return ErrorInfo{Class: ErrorClassConfig, Message: message, Detail: detail}
	case isTransientError(detail):
		return ErrorInfo{Class: ErrorClassTransient, Message: message, Detail: detail}
	default:
		return ErrorInfo{Class: ErrorClassUnknown, Message: message, Detail: detail}
	}
}

// rateLimitError is implemented by llmclient.ErrRateLimited without this
// package importing llmclient directly, avoiding a dependency cycle risk
// as the executor grows.
type rateLimitError interface {
	Error() string
}

func isRateLimitError(err error) bool {
	var rl rateLimitError
	if errors.As(err, &rl) {
		return strings.Contains(strings.ToLower(rl.Error()), "rate limit")
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit") || strings.Contains(err.Error(), "429")
}

func isConfigError(detail string) bool {
	lower := strings.ToLower(detail)
	for _, marker := range []string{"no match for selector", "no match for xpath", "unsupported", "unsupported db type", "parse dsn", "required column"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isTransientError(detail string) bool {
	lower := strings.ToLower(detail)
	for _, marker := range []string{"timeout", "connection refused", "eof", "reset by peer", "temporary failure", "no such host"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// sanitizeErrorMessage strips anything that looks like a credential
// before an error message is stored where a user might read it.
func sanitizeErrorMessage(detail string) string {
	return credentialLikePattern.ReplaceAllString(detail, "${1}${2}[REDACTED]")
}
