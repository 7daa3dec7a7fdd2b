// Package errors defines the rejection taxonomy produced by the request
// inspection pipeline and the JSON body every rejection is rendered as.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Code is the machine-readable classification carried by every rejection.
type Code string

// Inspection codes
const (
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeExcessiveNesting   Code = "EXCESSIVE_NESTING"
	CodeExcessiveFields    Code = "EXCESSIVE_FIELDS"
	CodeHeaderFlood        Code = "HEADER_FLOOD_DETECTED"
	CodeHeaderTooLong      Code = "HEADER_TOO_LONG"
	CodeMaliciousCookie    Code = "MALICIOUS_COOKIE"
	CodeCookieTooLong      Code = "COOKIE_TOO_LONG"
	CodeSuspiciousInput    Code = "SUSPICIOUS_INPUT"
	CodeSuspiciousQuery    Code = "SUSPICIOUS_QUERY"
	CodeReDoSPattern       Code = "REDOS_PATTERN"
	CodeDOMClobbering      Code = "DOM_CLOBBERING_BLOCKED"
	CodeTemplateInjection  Code = "TEMPLATE_INJECTION"
	CodePathTraversal      Code = "PATH_TRAVERSAL_BLOCKED"
	CodeInvalidPath        Code = "INVALID_PATH"
	CodeInvalidFilename    Code = "INVALID_FILENAME"
	CodeMaliciousCSS       Code = "MALICIOUS_CSS"
	CodeInvalidRedirect    Code = "INVALID_REDIRECT"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// Rejection is a terminal verdict: the request is answered with Status and a
// JSON body built from Message, Code and Details.
type Rejection struct {
	Status  int
	Code    Code
	Message string
	// Details are optional diagnostic fields rendered at the top level of the body.
	Details map[string]interface{}
}

var _ error = (*Rejection)(nil)

// New creates a rejection. Status and code are mandatory; an empty message
// falls back to the HTTP status text.
func New(status int, code Code, message string) *Rejection {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Rejection{Status: status, Code: code, Message: message}
}

// Error implements error
func (r *Rejection) Error() string {
	return fmt.Sprintf("[%s] %s", r.Code, r.Message)
}

// With returns a copy of the rejection with one diagnostic field added.
func (r *Rejection) With(key string, value interface{}) *Rejection {
	out := *r
	out.Details = make(map[string]interface{}, len(r.Details)+1)
	for k, v := range r.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// Is matches rejections by code.
func (r *Rejection) Is(target error) bool {
	if r == nil {
		return target == nil
	}
	other, ok := target.(*Rejection)
	return ok && other.Code == r.Code
}

// MarshalJSON renders {"error": message, "code": code, ...details}. Details
// never override the two mandatory keys.
func (r *Rejection) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{}, len(r.Details)+2)
	for k, v := range r.Details {
		result[k] = v
	}
	result["error"] = r.Message
	result["code"] = r.Code
	return json.Marshal(result)
}

// Constructors for the inspection taxonomy

func RateLimitExceeded(limit int) *Rejection {
	return New(http.StatusTooManyRequests, CodeRateLimitExceeded,
		"Too many requests, please try again later").With("limit", limit)
}

func PayloadTooLarge(maxSize int64) *Rejection {
	return New(http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
		"Request payload too large").With("maxSize", maxSize)
}

func ExcessiveNesting(depth, maxDepth int) *Rejection {
	return New(http.StatusBadRequest, CodeExcessiveNesting,
		"Request body is nested too deeply").With("depth", depth).With("maxDepth", maxDepth)
}

func ExcessiveFields(fields, maxFields int) *Rejection {
	return New(http.StatusBadRequest, CodeExcessiveFields,
		"Request body contains too many fields").With("fieldCount", fields).With("maxFields", maxFields)
}

func HeaderFlood(count, maxHeaders int) *Rejection {
	return New(http.StatusBadRequest, CodeHeaderFlood,
		"Too many request headers").With("headerCount", count).With("maxHeaders", maxHeaders)
}

func HeaderTooLong(name string, maxLength int) *Rejection {
	return New(http.StatusBadRequest, CodeHeaderTooLong,
		fmt.Sprintf("Header %s exceeds maximum length", name)).With("header", name).With("maxLength", maxLength)
}

func MaliciousCookie(reason string) *Rejection {
	return New(http.StatusBadRequest, CodeMaliciousCookie, "Malicious cookie detected").With("reason", reason)
}

func CookieTooLong(maxLength int) *Rejection {
	return New(http.StatusBadRequest, CodeCookieTooLong, "Cookie exceeds maximum length").With("maxLength", maxLength)
}

func SuspiciousInput() *Rejection {
	return New(http.StatusBadRequest, CodeSuspiciousInput, "Request body contains suspicious input")
}

func SuspiciousQuery() *Rejection {
	return New(http.StatusBadRequest, CodeSuspiciousQuery, "Query parameters contain suspicious input")
}

func ReDoSPattern() *Rejection {
	return New(http.StatusBadRequest, CodeReDoSPattern, "Input matches a regular expression denial of service pattern")
}

func DOMClobbering() *Rejection {
	return New(http.StatusBadRequest, CodeDOMClobbering, "DOM clobbering attempt blocked")
}

func TemplateInjection() *Rejection {
	return New(http.StatusBadRequest, CodeTemplateInjection, "Template injection attempt blocked")
}

func PathTraversal() *Rejection {
	return New(http.StatusBadRequest, CodePathTraversal, "Path traversal attempt blocked")
}

func InvalidPath() *Rejection {
	return New(http.StatusBadRequest, CodeInvalidPath, "Invalid request path")
}

func InvalidFilename(filename string) *Rejection {
	return New(http.StatusBadRequest, CodeInvalidFilename, "Invalid upload filename").With("filename", filename)
}

func MaliciousCSS() *Rejection {
	return New(http.StatusBadRequest, CodeMaliciousCSS, "Malicious CSS detected")
}

func InvalidRedirect(param string) *Rejection {
	return New(http.StatusBadRequest, CodeInvalidRedirect, "Redirect target is not allowed").With("parameter", param)
}

// Application boundary codes

func Validation(detail string) *Rejection {
	return New(http.StatusBadRequest, CodeValidationError, detail)
}

func NotFound(detail string) *Rejection {
	return New(http.StatusNotFound, CodeNotFound, detail)
}

func ServiceUnavailable(detail string) *Rejection {
	return New(http.StatusServiceUnavailable, CodeServiceUnavailable, detail)
}

// Internal is the only rejection that may result from a failure outside the
// inspectors; the message never leaks the cause.
func Internal() *Rejection {
	return New(http.StatusInternalServerError, CodeInternalError, "Internal server error")
}
