package models

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// CompletionSignal is the notification the worker pool delivers when an
// async invocation finishes. Delivery is at-least-once and unordered, so
// processing must tolerate replays.
type CompletionSignal struct {
	JobID          string `json:"job_id"`
	Outcome        string `json:"outcome"`
	ResultLocation string `json:"result_location,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}
