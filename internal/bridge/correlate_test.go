package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/abdatta/cal-bridge/internal/transport"
)

type fakeTransport struct {
	mu sync.Mutex

	calls int

	sendErr   error
	sent      []transport.Outbound
	autoReply bool
	replyBody string

	listErrs   []error
	pages      [][]transport.CandidateRef
	messages   map[transport.MessageID]transport.FullMessage
	fetched    []transport.MessageID
	marked     []transport.MessageID
	markErr    error
	archived   [][]transport.MessageID
	archiveErr error
}

func (f *fakeTransport) Send(ctx context.Context, msg transport.Outbound) (transport.SentRef, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.sendErr != nil {
		return transport.SentRef{}, f.sendErr
	}
	f.sent = append(f.sent, msg)
	id := transport.MessageID(fmt.Sprintf("out-%d", len(f.sent)))
	if f.autoReply {
		reply := transport.MessageID(fmt.Sprintf("in-%d", len(f.sent)))
		if f.messages == nil {
			f.messages = map[transport.MessageID]transport.FullMessage{}
		}
		f.messages[reply] = transport.FullMessage{
			ID:       reply,
			ThreadID: "thread-1",
			From:     "bot@example.com",
			Subject:  msg.Subject,
			Body:     f.replyBody,
		}
		f.pages = append(f.pages, []transport.CandidateRef{{ID: reply, ThreadID: "thread-1"}})
	}
	return transport.SentRef{ID: id, ThreadID: "thread-1"}, nil
}

func (f *fakeTransport) ListUnreadSince(ctx context.Context, from string, since time.Time, max int64) ([]transport.CandidateRef, error) {
	_ = ctx
	_ = from
	_ = since
	_ = max
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeTransport) FetchFull(ctx context.Context, id transport.MessageID) (transport.FullMessage, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.fetched = append(f.fetched, id)
	msg, ok := f.messages[id]
	if !ok {
		return transport.FullMessage{}, fmt.Errorf("no message %s", id)
	}
	return msg, nil
}

func (f *fakeTransport) MarkRead(ctx context.Context, id transport.MessageID) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeTransport) BatchArchive(ctx context.Context, ids []transport.MessageID) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.archived = append(f.archived, append([]transport.MessageID(nil), ids...))
	return nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClock drives the poll loop deterministically: each Sleep advances the
// clock by the requested duration instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCorrelator(f *fakeTransport, clk *fakeClock) *Correlator {
	return &Correlator{Transport: f, Logger: slogDiscard(), Clock: clk.Now, Sleep: clk.Sleep}
}

func testOpts() AwaitOpts {
	return AwaitOpts{
		From:         "bot@example.com",
		PollInterval: 15 * time.Second,
		Timeout:      time.Minute,
		PageSize:     25,
	}
}

func TestAwaitResolvesFirstMatch(t *testing.T) {
	fake := &fakeTransport{
		pages: [][]transport.CandidateRef{{{ID: "m1"}, {ID: "m2"}}},
		messages: map[transport.MessageID]transport.FullMessage{
			"m1": {ID: "m1", Subject: "#calbridge GET list [other-id]", Body: `{"events":[1]}`},
			"m2": {ID: "m2", ThreadID: "th-2", Subject: "#calbridge GET list [c1]", Body: `{"events":[2]}`},
		},
	}
	corr := testCorrelator(fake, &fakeClock{now: time.Unix(1700000000, 0)})

	resp, err := corr.Await(context.Background(), "c1", testOpts())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Errorf("status = %q, want success", resp.Status)
	}
	if string(resp.Data) != `{"events":[2]}` {
		t.Errorf("data = %s", resp.Data)
	}
	if resp.MessageID != "m2" || resp.ThreadID != "th-2" {
		t.Errorf("ids = (%s, %s), want (m2, th-2)", resp.MessageID, resp.ThreadID)
	}
	if len(fake.marked) != 1 || fake.marked[0] != "m2" {
		t.Errorf("marked = %v, want only m2", fake.marked)
	}
}

func TestAwaitGarbledBodySkippedThenResolved(t *testing.T) {
	fake := &fakeTransport{
		pages: [][]transport.CandidateRef{
			{{ID: "m1"}},
			{{ID: "m1"}, {ID: "m2"}},
		},
		messages: map[transport.MessageID]transport.FullMessage{
			"m1": {ID: "m1", Subject: "#calbridge POST create [c1]", Body: "partial {broken"},
			"m2": {ID: "m2", Subject: "#calbridge POST create [c1]", Body: `{"id":"evt-9"}`},
		},
	}
	corr := testCorrelator(fake, &fakeClock{now: time.Unix(1700000000, 0)})

	resp, err := corr.Await(context.Background(), "c1", testOpts())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if string(resp.Data) != `{"id":"evt-9"}` {
		t.Errorf("data = %s", resp.Data)
	}
	// m1 was examined exactly once and never marked read.
	if got := fake.fetched; len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Errorf("fetched = %v, want [m1 m2]", got)
	}
	if len(fake.marked) != 1 || fake.marked[0] != "m2" {
		t.Errorf("marked = %v, want only m2", fake.marked)
	}
}

func TestAwaitCorrelationIsolation(t *testing.T) {
	fake := &fakeTransport{
		pages: [][]transport.CandidateRef{{{ID: "m1"}}},
		messages: map[transport.MessageID]transport.FullMessage{
			"m1": {ID: "m1", Subject: "#calbridge GET list [c2]", Body: `{"events":[]}`},
		},
	}
	corr := testCorrelator(fake, &fakeClock{now: time.Unix(1700000000, 0)})

	_, err := corr.Await(context.Background(), "c1", testOpts())
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if te.CorrelationID != "c1" {
		t.Errorf("correlation id = %q, want c1", te.CorrelationID)
	}
	if len(fake.marked) != 0 {
		t.Errorf("marked = %v, want none", fake.marked)
	}
}

func TestAwaitTimeoutAtDeadline(t *testing.T) {
	fake := &fakeTransport{}
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	corr := testCorrelator(fake, clk)

	opts := testOpts()
	_, err := corr.Await(context.Background(), "c1", opts)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if te.Elapsed < opts.Timeout {
		t.Errorf("elapsed = %s, earlier than the %s deadline", te.Elapsed, opts.Timeout)
	}
	// 60s budget at 15s per cycle: sleeps at 0, 15, 30, 45.
	if len(clk.sleeps) != 4 {
		t.Errorf("sleeps = %v, want 4 intervals", clk.sleeps)
	}
}

func TestAwaitRetriesTransientListError(t *testing.T) {
	fake := &fakeTransport{
		listErrs: []error{errors.New("backend hiccup")},
		pages:    [][]transport.CandidateRef{{{ID: "m1"}}},
		messages: map[transport.MessageID]transport.FullMessage{
			"m1": {ID: "m1", Subject: "#calbridge GET health [c1]", Body: `{"ok":true}`},
		},
	}
	corr := testCorrelator(fake, &fakeClock{now: time.Unix(1700000000, 0)})

	resp, err := corr.Await(context.Background(), "c1", testOpts())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Errorf("status = %q, want success", resp.Status)
	}
}

func TestAwaitRetriesTransientFetchError(t *testing.T) {
	fake := &fakeTransport{
		pages: [][]transport.CandidateRef{
			{{ID: "missing"}},
			{{ID: "m1"}},
		},
		messages: map[transport.MessageID]transport.FullMessage{
			"m1": {ID: "m1", Subject: "#calbridge GET health [c1]", Body: `{"ok":true}`},
		},
	}
	corr := testCorrelator(fake, &fakeClock{now: time.Unix(1700000000, 0)})

	resp, err := corr.Await(context.Background(), "c1", testOpts())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Errorf("status = %q, want success", resp.Status)
	}
}

func TestAwaitResolvesEvenIfMarkReadFails(t *testing.T) {
	fake := &fakeTransport{
		markErr: errors.New("label update failed"),
		pages:   [][]transport.CandidateRef{{{ID: "m1"}}},
		messages: map[transport.MessageID]transport.FullMessage{
			"m1": {ID: "m1", Subject: "#calbridge GET list [c1]", Body: `{"events":[]}`},
		},
	}
	corr := testCorrelator(fake, &fakeClock{now: time.Unix(1700000000, 0)})

	resp, err := corr.Await(context.Background(), "c1", testOpts())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Status != StatusSuccess {
		t.Errorf("status = %q, want success", resp.Status)
	}
}
