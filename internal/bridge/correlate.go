package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/abdatta/cal-bridge/internal/rate"
	"github.com/abdatta/cal-bridge/internal/transport"
	"github.com/abdatta/cal-bridge/internal/wire"
)

// AwaitOpts bounds one correlation attempt.
type AwaitOpts struct {
	// From restricts candidate listing to the reply origin address.
	From string
	// Since bounds listing to messages received after this instant,
	// normally the call start minus a small clock-skew buffer.
	Since        time.Time
	PollInterval time.Duration
	Timeout      time.Duration
	PageSize     int64
}

// Correlator polls the inbox until a reply tagged with the awaited
// correlation id appears, or the deadline passes.
type Correlator struct {
	Transport transport.Transport
	Rate      rate.Limiter
	Logger    *slog.Logger
	Clock     func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Await blocks until a correlated reply is found and returns it as a
// success response, or fails with *TimeoutError once opts.Timeout has
// elapsed. Transient list/fetch errors are logged and the cycle retries
// after the normal interval; a single flaky poll never aborts the wait.
func (c *Correlator) Await(ctx context.Context, correlationID string, opts AwaitOpts) (Response, error) {
	start := c.Clock()
	deadline := start.Add(opts.Timeout)

	// Examined candidates, scoped to this attempt. A candidate is fetched
	// and evaluated at most once; non-matches stay unread for whichever
	// concurrent call they belong to.
	seen := make(map[transport.MessageID]struct{})
	transientErrs := 0

	for {
		resp, found := c.pollOnce(ctx, correlationID, opts, seen, &transientErrs)
		if found {
			resp.Duration = c.Clock().Sub(start)
			return resp, nil
		}

		now := c.Clock()
		if !now.Before(deadline) {
			return Response{}, &TimeoutError{CorrelationID: correlationID, Elapsed: now.Sub(start)}
		}
		interval := opts.PollInterval
		if remaining := deadline.Sub(now); remaining < interval {
			interval = remaining
		}
		if err := c.Sleep(ctx, interval); err != nil {
			return Response{}, &TimeoutError{CorrelationID: correlationID, Elapsed: c.Clock().Sub(start)}
		}
	}
}

// pollOnce runs a single list/fetch/match cycle. It reports found=false
// both for "nothing matched" and for transient transport failures.
func (c *Correlator) pollOnce(ctx context.Context, correlationID string, opts AwaitOpts, seen map[transport.MessageID]struct{}, transientErrs *int) (Response, bool) {
	if err := c.wait(ctx); err != nil {
		return Response{}, false
	}
	refs, err := c.Transport.ListUnreadSince(ctx, opts.From, opts.Since, opts.PageSize)
	if err != nil {
		*transientErrs++
		c.Logger.WarnContext(ctx, "poll list failed, will retry",
			"correlation_id", correlationID, "transient_errors", *transientErrs, "error", err)
		return Response{}, false
	}

	for _, ref := range refs {
		if _, dup := seen[ref.ID]; dup {
			continue
		}
		seen[ref.ID] = struct{}{}

		if err := c.wait(ctx); err != nil {
			return Response{}, false
		}
		full, err := c.Transport.FetchFull(ctx, ref.ID)
		if err != nil {
			*transientErrs++
			c.Logger.WarnContext(ctx, "poll fetch failed, will retry",
				"correlation_id", correlationID, "message_id", ref.ID,
				"transient_errors", *transientErrs, "error", err)
			continue
		}

		payload, ok := wire.Decode(full.Subject, full.Body, correlationID)
		if !ok {
			// Either a reply for a different pending call or a garbled
			// body under our tag. Both stay unread and are skipped.
			continue
		}

		if err := c.Transport.MarkRead(ctx, full.ID); err != nil {
			c.Logger.WarnContext(ctx, "mark read failed",
				"correlation_id", correlationID, "message_id", full.ID, "error", err)
		}
		c.Logger.InfoContext(ctx, "reply correlated",
			"correlation_id", correlationID, "message_id", full.ID)
		return Response{
			CorrelationID: correlationID,
			MessageID:     full.ID,
			ThreadID:      full.ThreadID,
			Status:        StatusSuccess,
			Data:          payload,
		}, true
	}
	return Response{}, false
}

func (c *Correlator) wait(ctx context.Context) error {
	if c.Rate == nil {
		return nil
	}
	return c.Rate.Wait(ctx)
}
