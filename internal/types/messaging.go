package types

import (
	"encoding/json"
	"time"
)

// SubmissionMessage is the SQS payload dispatched for asynchronous report
// generation. The API creates the execution record in the Pending state, then
// enqueues this message; the report worker consumes it and drives the
// orchestrator to a terminal state.
type SubmissionMessage struct {
	ExecutionID string          `json:"execution_id"`
	CountyID    string          `json:"county_id"`
	PeriodStart Date            `json:"period_start"`
	PeriodEnd   Date            `json:"period_end"`
	Document    json.RawMessage `json:"document"`
	TraceID     string          `json:"trace_id"`
	SubmittedAt time.Time       `json:"submitted_at"`
}
