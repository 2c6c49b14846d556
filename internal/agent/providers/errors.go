package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorReason categorizes why a provider request failed.
type ErrorReason string

const (
	// ReasonBilling indicates payment/quota issues (HTTP 402)
	ReasonBilling ErrorReason = "billing"

	// ReasonRateLimit indicates rate limiting (HTTP 429)
	ReasonRateLimit ErrorReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403)
	ReasonAuth ErrorReason = "auth"

	// ReasonTimeout indicates request timeout
	ReasonTimeout ErrorReason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx)
	ReasonServerError ErrorReason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400)
	ReasonInvalidRequest ErrorReason = "invalid_request"

	// ReasonModelUnavailable means the deployment does not exist (HTTP 404)
	ReasonModelUnavailable ErrorReason = "model_unavailable"

	// ReasonContentFilter indicates content was blocked by safety filters
	ReasonContentFilter ErrorReason = "content_filter"

	// ReasonCanceled means the caller went away
	ReasonCanceled ErrorReason = "canceled"

	// ReasonUnknown indicates an unclassified error
	ReasonUnknown ErrorReason = "unknown"
)

// IsRetryable returns true if retrying the same request may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from the model service.
type ProviderError struct {
	Reason   ErrorReason
	Provider string
	Model    string

	// Status is the HTTP status code, if any.
	Status int

	// Code is the service error code, e.g. "content_filter".
	Code string

	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError classifies cause. Structured errors from the OpenAI
// client are inspected for status and code before falling back to message
// patterns.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause == nil {
		return err
	}
	err.Message = cause.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(cause, &apiErr):
		err.Status = apiErr.HTTPStatusCode
		err.Message = apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			err.Code = code
		}
		err.Reason = classifyStatusCode(apiErr.HTTPStatusCode)
		if reason := classifyErrorCode(err.Code); reason != ReasonUnknown {
			err.Reason = reason
		}
	case errors.As(cause, &reqErr):
		err.Status = reqErr.HTTPStatusCode
		err.Reason = classifyStatusCode(reqErr.HTTPStatusCode)
	}
	if err.Reason == ReasonUnknown {
		err.Reason = ClassifyError(cause)
	}
	return err
}

// ClassifyError inspects an unstructured error.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	containsAny := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
	switch {
	case containsAny("timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case containsAny("rate limit", "rate_limit", "too many requests", "429"):
		return ReasonRateLimit
	case containsAny("unauthorized", "invalid api key", "access denied", "401", "403"):
		return ReasonAuth
	case containsAny("quota", "billing", "402"):
		return ReasonBilling
	case containsAny("content_filter", "content management policy", "responsibleaipolicyviolation"):
		return ReasonContentFilter
	case containsAny("deploymentnotfound", "deployment not found", "does not exist"):
		return ReasonModelUnavailable
	case containsAny("internal server", "server error", "bad gateway", "service unavailable", "500", "502", "503", "504"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func classifyStatusCode(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyErrorCode(code string) ErrorReason {
	switch strings.ToLower(code) {
	case "rate_limit_exceeded", "429":
		return ReasonRateLimit
	case "invalid_api_key", "401":
		return ReasonAuth
	case "insufficient_quota":
		return ReasonBilling
	case "deploymentnotfound", "model_not_found":
		return ReasonModelUnavailable
	case "content_filter", "responsibleaipolicyviolation":
		return ReasonContentFilter
	case "server_error", "internal_error":
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
