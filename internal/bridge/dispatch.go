// Package bridge layers a request/response protocol over a mail transport:
// mint a correlation id, send a tagged request, poll the inbox for the
// correlated reply, and hand the decoded payload back to the caller.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/abdatta/cal-bridge/internal/transport"
	"github.com/abdatta/cal-bridge/internal/wire"
)

// SentMeta records what the dispatcher produced for one request.
type SentMeta struct {
	CorrelationID string
	MessageID     transport.MessageID
	ThreadID      transport.ThreadID
	SentAt        time.Time
}

// Dispatcher encodes and sends one tagged request per call. Each call mints
// a fresh correlation id; ids are never reused or derived from the payload.
type Dispatcher struct {
	Transport transport.Transport
	From      string
	To        string
	Clock     func() time.Time
	Logger    *slog.Logger
}

func (d *Dispatcher) Send(ctx context.Context, verb wire.Verb, action wire.Action, payload any) (SentMeta, error) {
	id := uuid.NewString()
	tag, body, err := wire.Encode(verb, action, id, payload)
	if err != nil {
		return SentMeta{}, &SendError{CorrelationID: id, Err: err}
	}
	sent, err := d.Transport.Send(ctx, transport.Outbound{
		From:    d.From,
		To:      d.To,
		Subject: tag,
		Body:    body,
	})
	if err != nil {
		return SentMeta{}, &SendError{CorrelationID: id, Err: err}
	}
	meta := SentMeta{
		CorrelationID: id,
		MessageID:     sent.ID,
		ThreadID:      sent.ThreadID,
		SentAt:        d.Clock(),
	}
	d.Logger.InfoContext(ctx, "request dispatched",
		"correlation_id", meta.CorrelationID,
		"verb", verb,
		"action", action,
		"message_id", meta.MessageID,
	)
	return meta, nil
}
