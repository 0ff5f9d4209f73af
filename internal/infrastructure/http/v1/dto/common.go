// Package dto provides Data Transfer Objects for API requests/responses.
package dto

// NotesRequest is the body of transitions that only carry free-form notes.
type NotesRequest struct {
	Notes string `json:"notes" binding:"max=2000"`
}

// ErrorResponse is the error body written by the error middleware.
type ErrorResponse struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse is returned by the probes.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
