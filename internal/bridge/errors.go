package bridge

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned by every operation attempted while the client
// holds no transport handle. No transport call is made in that state.
var ErrNotConnected = errors.New("bridge: not connected")

// SendError reports that the outbound request never left. The correlation id
// is carried so callers can log the aborted exchange.
type SendError struct {
	CorrelationID string
	Err           error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send request %s: %v", e.CorrelationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// TimeoutError reports that no correlated reply arrived before the deadline.
type TimeoutError struct {
	CorrelationID string
	Elapsed       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply for %s after %s", e.CorrelationID, e.Elapsed.Round(time.Millisecond))
}
