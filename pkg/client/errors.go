package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// resourceExhaustedMarker is how the engine tags overload in 503 titles and
// 500 details.
const resourceExhaustedMarker = "RESOURCE_EXHAUSTED"

// ProblemDetails is an RFC 7807 error body.
type ProblemDetails struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// HTTPError is returned for every non-2xx response.
type HTTPError struct {
	OperationID string
	Method      string
	Path        string
	Status      int
	Header      http.Header
	// Problem is nil when the body was not problem-details JSON.
	Problem *ProblemDetails
	// Body holds the raw response body when Problem is nil.
	Body string
	// Backpressure is set for responses that signal engine overload.
	Backpressure bool
}

func (e *HTTPError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (%s) failed with status %d", e.Method, e.Path, e.OperationID, e.Status)
	if e.Problem != nil {
		if e.Problem.Title != "" {
			sb.WriteString(": " + e.Problem.Title)
		}
		if e.Problem.Detail != "" {
			sb.WriteString(": " + e.Problem.Detail)
		}
	} else if e.Body != "" {
		sb.WriteString(": " + truncate(e.Body, 200))
	}
	return sb.String()
}

// StatusCode implements resilience.StatusCoder.
func (e *HTTPError) StatusCode() int {
	return e.Status
}

func newHTTPError(operationID, method, path string, status int, header http.Header, body []byte) *HTTPError {
	httpErr := &HTTPError{
		OperationID: operationID,
		Method:      method,
		Path:        path,
		Status:      status,
		Header:      header,
	}
	var problem ProblemDetails
	if len(body) > 0 && json.Unmarshal(body, &problem) == nil && problem != (ProblemDetails{}) {
		httpErr.Problem = &problem
	} else {
		httpErr.Body = string(body)
	}
	httpErr.Backpressure = isBackpressure(status, httpErr.Problem, httpErr.Body)
	return httpErr
}

// isBackpressure reports 429, 503 carrying the exhaustion marker, and 500
// carrying the marker in its detail.
func isBackpressure(status int, problem *ProblemDetails, body string) bool {
	switch status {
	case http.StatusTooManyRequests:
		return true
	case http.StatusServiceUnavailable:
		if problem != nil {
			return containsMarker(problem.Title) || containsMarker(problem.Detail) || containsMarker(problem.Type)
		}
		return containsMarker(body)
	case http.StatusInternalServerError:
		if problem != nil {
			return containsMarker(problem.Detail)
		}
		return false
	default:
		return false
	}
}

func containsMarker(text string) bool {
	return strings.Contains(strings.ToUpper(text), resourceExhaustedMarker)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
