package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category groups REST failures by what the user should be told.
type Category string

const (
	CategoryInvalidAmount       Category = "invalid_amount"
	CategoryUnauthenticated     Category = "unauthenticated"
	CategoryForbidden           Category = "forbidden"
	CategoryNotFound            Category = "not_found"
	CategoryConflict            Category = "conflict"
	CategoryInsufficientBalance Category = "insufficient_balance"
	CategoryServerError         Category = "server_error"
	CategoryUnknown             Category = "unknown"
)

var userMessages = map[Category]string{
	CategoryInvalidAmount:       "The bid amount is not valid for this auction.",
	CategoryUnauthenticated:     "Please sign in again.",
	CategoryForbidden:           "You are not allowed to do that on this auction.",
	CategoryNotFound:            "The auction or bid no longer exists.",
	CategoryConflict:            "The auction has already ended or changed.",
	CategoryInsufficientBalance: "Your balance is too low for this bid.",
	CategoryServerError:         "The server had a problem. Please try again later.",
	CategoryUnknown:             "The request could not be completed.",
}

// APIError represents a non-2xx response from the auction API.
type APIError struct {
	StatusCode int
	Code       string // Server error code, if any
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auction api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if a read should be retried.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Category maps the status and server code to a user-facing category.
func (e *APIError) Category() Category {
	if e.mentionsBalance() {
		return CategoryInsufficientBalance
	}

	switch {
	case e.StatusCode == http.StatusBadRequest, e.StatusCode == http.StatusUnprocessableEntity:
		return CategoryInvalidAmount
	case e.StatusCode == http.StatusUnauthorized:
		return CategoryUnauthenticated
	case e.StatusCode == http.StatusForbidden:
		return CategoryForbidden
	case e.StatusCode == http.StatusNotFound:
		return CategoryNotFound
	case e.StatusCode == http.StatusConflict, e.StatusCode == http.StatusGone:
		return CategoryConflict
	case e.StatusCode == http.StatusPaymentRequired:
		return CategoryInsufficientBalance
	case e.StatusCode >= 500, e.StatusCode == http.StatusTooManyRequests:
		return CategoryServerError
	default:
		return CategoryUnknown
	}
}

// UserMessage returns text suitable to show once to the user.
func (e *APIError) UserMessage() string {
	return userMessages[e.Category()]
}

func (e *APIError) mentionsBalance() bool {
	s := strings.ToUpper(e.Code + " " + e.Message)
	return strings.Contains(s, "BALANCE") || strings.Contains(s, "INSUFFICIENT_FUNDS")
}

// UserMessage returns the user-facing text for any error returned by this
// package. Errors that are not API errors are reported as server problems.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return userMessages[CategoryServerError]
}

type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// newAPIError builds an APIError from a failed response body.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{
		StatusCode: status,
		Message:    http.StatusText(status),
		Body:       body,
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		e.Code = eb.Code
		if e.Code == "" {
			e.Code = eb.Error
		}
		if eb.Message != "" {
			e.Message = eb.Message
		}
	}
	return e
}
