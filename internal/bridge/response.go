package bridge

import (
	"encoding/json"
	"time"

	"github.com/abdatta/cal-bridge/internal/transport"
)

// Status classifies the outcome of one logical call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Machine-readable codes carried on error-status responses.
const (
	CodeSendFailed = "send_failed"
	CodeTimeout    = "timeout"
)

// Response is the single result shape every logical call produces, whatever
// its fate. Immutable once returned; produced at most once per call.
type Response struct {
	CorrelationID string
	MessageID     transport.MessageID
	ThreadID      transport.ThreadID
	Status        Status
	Data          json.RawMessage
	Code          string
	Error         string
	Duration      time.Duration
}

// DurationMs reports the call duration in whole milliseconds.
func (r Response) DurationMs() int64 { return r.Duration.Milliseconds() }
