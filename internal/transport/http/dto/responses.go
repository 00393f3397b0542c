package dto

type ErrorResponse struct {
	Error string `json:"error"`
}

type ConflictResponse struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}
