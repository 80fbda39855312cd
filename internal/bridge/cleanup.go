package bridge

import (
	"context"
	"log/slog"

	"github.com/abdatta/cal-bridge/internal/transport"
)

// Gmail allows 1000 ids per batch modify.
const archiveChunk = 1000

// Cleaner archives the stray request/reply messages a completed call left
// behind. Best effort only: the logical call has already returned by the
// time cleanup runs, so failures are logged and swallowed.
type Cleaner struct {
	Transport transport.Transport
	Logger    *slog.Logger
}

func (c *Cleaner) Archive(ctx context.Context, ids ...transport.MessageID) {
	kept := ids[:0]
	for _, id := range ids {
		if id != "" {
			kept = append(kept, id)
		}
	}
	for i := 0; i < len(kept); i += archiveChunk {
		j := i + archiveChunk
		if j > len(kept) {
			j = len(kept)
		}
		if err := c.Transport.BatchArchive(ctx, kept[i:j]); err != nil {
			c.Logger.WarnContext(ctx, "archive failed", "count", j-i, "error", err)
		}
	}
}
