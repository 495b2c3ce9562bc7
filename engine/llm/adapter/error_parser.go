package llmadapter

import (
	"net/http"
	"strconv"
	"strings"
)

// ErrorParser handles the extraction and classification of errors from LLM and embedding providers
type ErrorParser struct {
	provider string
}

// NewErrorParser creates a new error parser for the given provider
func NewErrorParser(provider string) *ErrorParser {
	return &ErrorParser{
		provider: provider,
	}
}

// statusPatterns is ordered so that the more specific status wins when a message holds several codes.
var statusPatterns = []struct {
	pattern string
	status  int
}{
	{"429", http.StatusTooManyRequests},
	{"401", http.StatusUnauthorized},
	{"403", http.StatusForbidden},
	{"404", http.StatusNotFound},
	{"400", http.StatusBadRequest},
	{"422", http.StatusUnprocessableEntity},
	{"503", http.StatusServiceUnavailable},
	{"502", http.StatusBadGateway},
	{"504", http.StatusGatewayTimeout},
	{"500", http.StatusInternalServerError},
}

// ParseError attempts to extract structured error information from raw errors.
// It returns nil when nothing recognizable is found.
func (p *ErrorParser) ParseError(err error) *Error {
	if err == nil {
		return nil
	}
	errMsg := err.Error()
	errMsgLower := strings.ToLower(errMsg)
	if statusCode := p.extractHTTPStatusCode(errMsgLower); statusCode > 0 {
		return NewError(statusCode, errMsg, p.provider, err)
	}
	if llmErr := p.matchProviderPatterns(errMsgLower, errMsg, err); llmErr != nil {
		return llmErr
	}
	return p.matchNetworkPatterns(errMsgLower, errMsg, err)
}

// extractHTTPStatusCode attempts to extract HTTP status codes from error messages
func (p *ErrorParser) extractHTTPStatusCode(errMsg string) int {
	for _, prefix := range []string{"status code: ", "status code ", "status ", "http ", "error "} {
		idx := strings.Index(errMsg, prefix)
		if idx < 0 {
			continue
		}
		start := idx + len(prefix)
		end := start
		for end < len(errMsg) && end < start+3 && errMsg[end] >= '0' && errMsg[end] <= '9' {
			end++
		}
		if end-start != 3 {
			continue
		}
		if code, err := strconv.Atoi(errMsg[start:end]); err == nil && code >= 400 && code < 600 {
			return code
		}
	}
	for _, sp := range statusPatterns {
		if containsCode(errMsg, sp.pattern) {
			return sp.status
		}
	}
	return 0
}

// containsCode matches a three-digit code that is not part of a longer number.
func containsCode(msg, code string) bool {
	for offset := 0; ; {
		idx := strings.Index(msg[offset:], code)
		if idx < 0 {
			return false
		}
		idx += offset
		end := idx + len(code)
		before := idx == 0 || !isDigit(msg[idx-1])
		after := end == len(msg) || !isDigit(msg[end])
		if before && after {
			return true
		}
		offset = idx + 1
	}
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// matchProviderPatterns matches provider-specific error patterns
func (p *ErrorParser) matchProviderPatterns(errMsgLower, errMsg string, originalErr error) *Error {
	rateLimitPatterns := []string{
		"rate limit", "rate-limit", "ratelimit", "too many requests",
		"throttled", "throttling", "requests per minute",
	}
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(errMsgLower, pattern) {
			return NewError(http.StatusTooManyRequests, errMsg, p.provider, originalErr)
		}
	}
	if strings.Contains(errMsgLower, "insufficient_quota") || strings.Contains(errMsgLower, "quota exceeded") {
		return NewErrorWithCode(ErrCodeQuotaExceeded, errMsg, p.provider, originalErr)
	}
	unavailablePatterns := []string{
		"service unavailable", "service_unavailable", "temporarily unavailable",
		"overloaded", "try again later",
	}
	for _, pattern := range unavailablePatterns {
		if strings.Contains(errMsgLower, pattern) {
			return NewError(http.StatusServiceUnavailable, errMsg, p.provider, originalErr)
		}
	}
	authPatterns := []string{
		"unauthorized", "invalid api key", "invalid_api_key", "incorrect api key",
		"authentication", "access denied",
	}
	for _, pattern := range authPatterns {
		if strings.Contains(errMsgLower, pattern) {
			return NewError(http.StatusUnauthorized, errMsg, p.provider, originalErr)
		}
	}
	if strings.Contains(errMsgLower, "deploymentnotfound") ||
		strings.Contains(errMsgLower, "invalid model") ||
		strings.Contains(errMsgLower, "model not found") {
		return NewErrorWithCode(ErrCodeInvalidModel, errMsg, p.provider, originalErr)
	}
	if strings.Contains(errMsgLower, "content_filter") || strings.Contains(errMsgLower, "content policy") {
		return NewErrorWithCode(ErrCodeContentPolicy, errMsg, p.provider, originalErr)
	}
	if strings.Contains(errMsgLower, "context_length_exceeded") || strings.Contains(errMsgLower, "maximum context length") {
		return NewErrorWithCode(ErrCodeContextLength, errMsg, p.provider, originalErr)
	}
	return nil
}

// matchNetworkPatterns matches network-level error patterns
func (p *ErrorParser) matchNetworkPatterns(errMsgLower, errMsg string, originalErr error) *Error {
	timeoutPatterns := []string{
		"timeout", "timed out", "deadline exceeded",
	}
	for _, pattern := range timeoutPatterns {
		if strings.Contains(errMsgLower, pattern) {
			return NewErrorWithCode(ErrCodeTimeout, errMsg, p.provider, originalErr)
		}
	}
	connectionPatterns := []string{
		"connection reset", "connection refused", "connection failed",
		"network error", "no such host", "eof",
	}
	for _, pattern := range connectionPatterns {
		if strings.Contains(errMsgLower, pattern) {
			if strings.Contains(errMsgLower, "reset") {
				return NewErrorWithCode(ErrCodeConnectionReset, errMsg, p.provider, originalErr)
			}
			return NewErrorWithCode(ErrCodeConnectionRefused, errMsg, p.provider, originalErr)
		}
	}
	return nil
}
