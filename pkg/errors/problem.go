// Package errors renders API failures as RFC 7807 problem details.
package errors

import (
	"fmt"
	"net/http"
)

// Problem is an RFC 7807 problem details payload.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Error implements error.
func (p *Problem) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func newProblem(status int, detail string) *Problem {
	return &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// Invalid is a 400 problem for malformed or unacceptable input.
func Invalid(format string, args ...any) *Problem {
	return newProblem(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// NotFound is a 404 problem.
func NotFound(format string, args ...any) *Problem {
	return newProblem(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// Upstream is a 502 problem for failures of services the gateway depends on.
func Upstream(format string, args ...any) *Problem {
	return newProblem(http.StatusBadGateway, fmt.Sprintf(format, args...))
}
