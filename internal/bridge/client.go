package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/abdatta/cal-bridge/internal/rate"
	"github.com/abdatta/cal-bridge/internal/transport"
	"github.com/abdatta/cal-bridge/internal/wire"
)

// Listing starts a little before the request was sent so a reply stamped by
// a skewed remote clock is not filtered out.
const skewBuffer = time.Minute

// Cleanup runs after the call has returned, on its own clock.
const cleanupTimeout = 30 * time.Second

// Event is the calendar payload for create and update requests.
type Event struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

// ListEventsParams bounds a listing request to a date range.
type ListEventsParams struct {
	RangeStart string `json:"rangeStart,omitempty"`
	RangeEnd   string `json:"rangeEnd,omitempty"`
}

// UpdateEventParams carries the target id plus the fields to change; empty
// fields are omitted from the request.
type UpdateEventParams struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

type deleteEventParams struct {
	ID string `json:"id"`
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// session bundles the collaborators built around one connected transport.
type session struct {
	transport  transport.Transport
	dispatcher *Dispatcher
	correlator *Correlator
	cleaner    *Cleaner
}

// Options configures a Client. Connector, Sender, Recipient, and
// ResponseFrom are required; everything else has a usable default.
type Options struct {
	Connector    transport.Connector
	Sender       string
	Recipient    string
	ResponseFrom string
	PollInterval time.Duration
	Timeout      time.Duration
	PageSize     int64
	// Capabilities is the allow-list of actions this backend supports.
	// Calls for any other action return a skipped response without
	// touching the transport.
	Capabilities []wire.Action
	Limiter      rate.Limiter
	Logger       *slog.Logger
	Clock        func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Client is the public facade. One logical call sends a tagged request,
// awaits the correlated reply, fires cleanup in the background, and returns
// a Response. Safe for concurrent calls once connected.
type Client struct {
	connector    transport.Connector
	sender       string
	recipient    string
	responseFrom string
	pollInterval time.Duration
	timeout      time.Duration
	pageSize     int64
	capabilities map[wire.Action]struct{}
	limiter      rate.Limiter
	logger       *slog.Logger
	clock        func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	// connectMu serializes dial attempts so two concurrent Connect calls
	// cannot both invoke the connector and overwrite each other's handle.
	connectMu sync.Mutex

	mu    sync.Mutex
	state connState
	sess  *session

	cleanups sync.WaitGroup
}

func New(opts Options) *Client {
	c := &Client{
		connector:    opts.Connector,
		sender:       opts.Sender,
		recipient:    opts.Recipient,
		responseFrom: opts.ResponseFrom,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		pageSize:     opts.PageSize,
		capabilities: make(map[wire.Action]struct{}, len(opts.Capabilities)),
		limiter:      opts.Limiter,
		logger:       opts.Logger,
		clock:        opts.Clock,
		sleep:        opts.Sleep,
	}
	for _, a := range opts.Capabilities {
		c.capabilities[a] = struct{}{}
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 15 * time.Second
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Minute
	}
	if c.pageSize <= 0 {
		c.pageSize = 25
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
	return c
}

// Connect acquires an authorized transport handle. Idempotent once
// connected; concurrent calls dial at most once. Auth failures surface as
// *transport.AuthError.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == stateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = stateConnecting
	c.mu.Unlock()

	t, err := c.connector.Connect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = stateDisconnected
		return err
	}
	c.sess = &session{
		transport:  t,
		dispatcher: &Dispatcher{Transport: t, From: c.sender, To: c.recipient, Clock: c.clock, Logger: c.logger},
		correlator: &Correlator{Transport: t, Rate: c.limiter, Logger: c.logger, Clock: c.clock, Sleep: c.sleep},
		cleaner:    &Cleaner{Transport: t, Logger: c.logger},
	}
	c.state = stateConnected
	c.logger.InfoContext(ctx, "bridge connected", "recipient", c.recipient)
	return nil
}

// Disconnect drops the transport handle after waiting out any in-flight
// cleanup work. Calls made afterwards fail with ErrNotConnected.
func (c *Client) Disconnect() {
	c.cleanups.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = nil
	c.state = stateDisconnected
}

func (c *Client) ListEvents(ctx context.Context, params ListEventsParams) (Response, error) {
	return c.call(ctx, wire.VerbGet, wire.ActionList, params)
}

func (c *Client) CreateEvent(ctx context.Context, ev Event) (Response, error) {
	return c.call(ctx, wire.VerbPost, wire.ActionCreate, ev)
}

func (c *Client) UpdateEvent(ctx context.Context, params UpdateEventParams) (Response, error) {
	return c.call(ctx, wire.VerbPatch, wire.ActionUpdate, params)
}

func (c *Client) DeleteEvent(ctx context.Context, id string) (Response, error) {
	return c.call(ctx, wire.VerbDelete, wire.ActionEvent, deleteEventParams{ID: id})
}

func (c *Client) HealthCheck(ctx context.Context) (Response, error) {
	return c.call(ctx, wire.VerbGet, wire.ActionHealth, nil)
}

// call runs the full send/await/cleanup pipeline for one operation.
// Protocol failures (send failure, timeout) come back as error-status
// responses, never as returned errors; only calling while disconnected is a
// hard failure.
func (c *Client) call(ctx context.Context, verb wire.Verb, action wire.Action, payload any) (Response, error) {
	start := c.clock()

	c.mu.Lock()
	sess := c.sess
	connected := c.state == stateConnected
	c.mu.Unlock()
	if !connected {
		return Response{}, ErrNotConnected
	}

	if _, ok := c.capabilities[action]; !ok {
		c.logger.InfoContext(ctx, "action not supported, skipping", "action", action)
		return Response{Status: StatusSkipped, Duration: c.clock().Sub(start)}, nil
	}

	meta, err := sess.dispatcher.Send(ctx, verb, action, payload)
	if err != nil {
		var se *SendError
		if errors.As(err, &se) {
			return Response{
				CorrelationID: se.CorrelationID,
				Status:        StatusError,
				Code:          CodeSendFailed,
				Error:         se.Error(),
				Duration:      c.clock().Sub(start),
			}, nil
		}
		return Response{}, err
	}

	resp, err := sess.correlator.Await(ctx, meta.CorrelationID, AwaitOpts{
		From:         c.responseFrom,
		Since:        meta.SentAt.Add(-skewBuffer),
		PollInterval: c.pollInterval,
		Timeout:      c.timeout,
		PageSize:     c.pageSize,
	})
	if err != nil {
		c.spawnCleanup(sess.cleaner, meta.MessageID)
		var te *TimeoutError
		if errors.As(err, &te) {
			return Response{
				CorrelationID: meta.CorrelationID,
				Status:        StatusError,
				Code:          CodeTimeout,
				Error:         te.Error(),
				Duration:      c.clock().Sub(start),
			}, nil
		}
		return Response{}, err
	}

	c.spawnCleanup(sess.cleaner, meta.MessageID, resp.MessageID)
	resp.Duration = c.clock().Sub(start)
	return resp, nil
}

// spawnCleanup archives the call's stray messages without blocking the
// result path. Errors feed logs only.
func (c *Client) spawnCleanup(cl *Cleaner, ids ...transport.MessageID) {
	c.cleanups.Add(1)
	go func() {
		defer c.cleanups.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		cl.Archive(ctx, ids...)
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
