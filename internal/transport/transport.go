// Package transport defines the narrow message-store surface the bridge
// needs: send one message, list unread candidates, fetch one in full, and
// flip read/archive state. Everything else (auth, retries, pagination
// policy) stays behind this interface.
package transport

import (
	"context"
	"time"
)

type MessageID string
type ThreadID string

// Outbound is a fully formed message ready for transmission. Tag rides in
// the subject line; Body carries only the payload.
type Outbound struct {
	From    string
	To      string
	Subject string
	Body    string
}

// SentRef holds the identifiers the store assigned to a sent message.
type SentRef struct {
	ID       MessageID
	ThreadID ThreadID
}

// CandidateRef is a lightweight handle returned by a list call. The list
// response carries ids only; candidates are hydrated with FetchFull before
// any matching decision is made.
type CandidateRef struct {
	ID       MessageID
	ThreadID ThreadID
}

// FullMessage is a hydrated inbound message.
type FullMessage struct {
	ID         MessageID
	ThreadID   ThreadID
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Transport is the message-store collaborator. List and fetch are safe to
// call concurrently; send and the modify calls are independent per message.
type Transport interface {
	Send(ctx context.Context, msg Outbound) (SentRef, error)
	ListUnreadSince(ctx context.Context, from string, since time.Time, max int64) ([]CandidateRef, error)
	FetchFull(ctx context.Context, id MessageID) (FullMessage, error)
	MarkRead(ctx context.Context, id MessageID) error
	BatchArchive(ctx context.Context, ids []MessageID) error
}
