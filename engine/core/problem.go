package core

import (
	"maps"
	"net/http"
)

// ProblemDocument models the canonical error envelope for API responses.
type ProblemDocument struct {
	Status   int    `json:"status"             example:"404"`
	Error    string `json:"error"              example:"Not Found"`
	Details  string `json:"details,omitempty"  example:"no relevant documents found for your question"`
	Code     string `json:"code,omitempty"     example:"not_found"`
	Type     string `json:"type,omitempty"     example:"about:blank"`
	Instance string `json:"instance,omitempty" example:"/chat"`
}

// Problem captures the information returned in an RFC 7807 error response.
type Problem struct {
	Type     string
	Title    string
	Status   int
	Detail   string
	Instance string
	Extras   map[string]any
}

// ProblemFromError converts a pipeline error into a problem keyed by its error kind.
// Internal failures hide the underlying message.
func ProblemFromError(err error, detail string) *Problem {
	kind := KindOf(err)
	status := StatusForKind(kind)
	if detail == "" && err != nil && status < http.StatusInternalServerError {
		detail = err.Error()
	}
	if detail == "" && status >= http.StatusInternalServerError {
		detail = http.StatusText(status)
	}
	return NormalizeProblem(&Problem{
		Status: status,
		Detail: detail,
		Extras: map[string]any{"code": string(kind)},
	})
}

// NormalizeProblem ensures the provided problem includes canonical defaults.
func NormalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
	}
	if problem.Type == "" {
		problem.Type = "about:blank"
	}
	return problem
}

// BuildProblemBody assembles the serialized representation of the problem.
func BuildProblemBody(problem *Problem) map[string]any {
	body := map[string]any{
		"status": problem.Status,
		"error":  problem.Title,
	}
	if problem.Detail != "" {
		body["details"] = problem.Detail
	}
	if code, ok := problem.Extras["code"]; ok && code != "" {
		body["code"] = code
	}
	if problem.Type != "" {
		body["type"] = problem.Type
	}
	if problem.Instance != "" {
		body["instance"] = problem.Instance
	}
	extras := make(map[string]any, len(problem.Extras))
	for key, value := range problem.Extras {
		if !isReservedProblemKey(key) {
			extras[key] = value
		}
	}
	if len(extras) == 0 {
		return body
	}
	maps.Copy(body, extras)
	return body
}

func isReservedProblemKey(key string) bool {
	switch key {
	case "status", "error", "details", "code", "type", "instance":
		return true
	default:
		return false
	}
}
