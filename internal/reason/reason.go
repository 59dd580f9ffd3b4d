// Package reason classifies why a provisioning row did not succeed.
//
// # Reason Codes
//
// Every non-success outcome carries exactly one code from a closed set:
//
//	invalid_input_schema     Row is missing required fields or has the wrong shape
//	duplicate_key            Natural key repeats an earlier row of the same kind
//	out_of_scope             Feature intentionally not automated yet (devices)
//	auth_invalid             Remote API rejected the credential (401)
//	permission_denied        Remote API refused the operation (403)
//	non_retryable_external   Any other 4xx, or an error with no status code
//	retry_exhausted          5xx or transport failure after client retries
//	invalid_response_schema  Remote API returned data that could not be decoded
//	ambiguous_match          A lookup returned zero or several candidates
//	half_applied             Reserved for partially completed multi-step writes
//
// # Classes
//
// Codes are grouped by what a retry driver should do with them:
//
//	input          Fix the input file; never sent to the remote API
//	non_retryable  Needs a human decision before resubmitting
//	retryable      Eligible for an external retry pass
//	unclassified   No status code could be found; treated as non-retryable
//
// The mapping functions are pure and total: every input produces exactly one
// Info, and no error is ever dropped.
package reason

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Code is a value from the closed reason taxonomy.
type Code string

const (
	InvalidInputSchema    Code = "invalid_input_schema"
	DuplicateKey          Code = "duplicate_key"
	OutOfScope            Code = "out_of_scope"
	AuthInvalid           Code = "auth_invalid"
	PermissionDenied      Code = "permission_denied"
	NonRetryableExternal  Code = "non_retryable_external"
	RetryExhausted        Code = "retry_exhausted"
	InvalidResponseSchema Code = "invalid_response_schema"
	AmbiguousMatch        Code = "ambiguous_match"
	HalfApplied           Code = "half_applied"
)

// Codes lists every reason code in documentation order.
var Codes = []Code{
	InvalidInputSchema,
	DuplicateKey,
	OutOfScope,
	AuthInvalid,
	PermissionDenied,
	NonRetryableExternal,
	RetryExhausted,
	InvalidResponseSchema,
	AmbiguousMatch,
	HalfApplied,
}

// Valid reports whether c belongs to the taxonomy.
func (c Code) Valid() bool {
	for _, known := range Codes {
		if c == known {
			return true
		}
	}
	return false
}

func (c Code) String() string { return string(c) }

// Class groups codes by how a retry driver should treat them.
type Class string

const (
	ClassInput        Class = "input"
	ClassNonRetryable Class = "non_retryable"
	ClassRetryable    Class = "retryable"
	ClassUnclassified Class = "unclassified"
)

// Info is the classified form of a failure.
type Info struct {
	Code       Code
	Class      Class
	Message    string
	HTTPStatus int // 0 when the failure carried no status
}

// Retryable reports whether an external retry pass may resubmit the row.
func (i Info) Retryable() bool {
	return i.Class == ClassRetryable
}

// ErrInvalidResponse marks a remote response that could not be decoded.
// Clients wrap decode failures with it so MapError can tell them apart from
// transport problems.
var ErrInvalidResponse = errors.New("invalid response from provisioning api")

// statusCoder is satisfied by structured API errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// Input builds the Info for a row rejected before reaching the remote API.
func Input(code Code, message string) Info {
	return Info{Code: code, Class: ClassInput, Message: message}
}

// ClassifyHTTPStatus maps an HTTP status to its reason.
//
//	401      -> auth_invalid (non-retryable)
//	403      -> permission_denied (non-retryable)
//	other 4xx -> non_retryable_external
//	anything else -> retry_exhausted (retryable)
func ClassifyHTTPStatus(status int) Info {
	info := Info{HTTPStatus: status, Message: statusMessage(status)}

	switch {
	case status == http.StatusUnauthorized:
		info.Code = AuthInvalid
		info.Class = ClassNonRetryable
	case status == http.StatusForbidden:
		info.Code = PermissionDenied
		info.Class = ClassNonRetryable
	case status >= 400 && status < 500:
		info.Code = NonRetryableExternal
		info.Class = ClassNonRetryable
	default:
		info.Code = RetryExhausted
		info.Class = ClassRetryable
	}
	return info
}

// MapError normalizes whatever the remote-call layer returned into an Info.
//
// Precedence: structured errors carrying a status code, then decode failures,
// then timeouts and network errors, then the unclassified fallback. The
// original error text is kept as the message in every case.
func MapError(err error) Info {
	if err == nil {
		return Info{}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		info := ClassifyHTTPStatus(sc.HTTPStatus())
		info.Message = err.Error()
		return info
	}

	if errors.Is(err, ErrInvalidResponse) {
		return Info{Code: InvalidResponseSchema, Class: ClassNonRetryable, Message: err.Error()}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return Info{Code: RetryExhausted, Class: ClassRetryable, Message: err.Error()}
	}

	return Info{Code: NonRetryableExternal, Class: ClassUnclassified, Message: err.Error()}
}

func statusMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected status"
}
