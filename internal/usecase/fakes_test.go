//go:build !integration

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/adapter"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRenderer knows a fixed set of template names.
type fakeRenderer struct {
	known map[string]bool
}

func newFakeRenderer(names ...string) *fakeRenderer {
	r := &fakeRenderer{known: map[string]bool{}}
	for _, n := range names {
		r.known[n] = true
	}
	return r
}

func (r *fakeRenderer) Subject(name string, data map[string]any) (string, error) {
	if !r.known[name] {
		return "", domain.ErrTemplateNotFound
	}
	return "subject:" + name, nil
}

func (r *fakeRenderer) Render(name string, data map[string]any) (*adapter.RenderedEmail, error) {
	if !r.known[name] {
		return nil, domain.ErrTemplateNotFound
	}
	return &adapter.RenderedEmail{Subject: "subject:" + name, HTML: "<p>" + name + "</p>", Text: name}, nil
}

// fakeTransport records sends and fails while failWith is set.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []adapter.EmailMessage
	calls    int
	failWith error
	SendFunc func(ctx context.Context, msg adapter.EmailMessage) (string, error)
}

func (t *fakeTransport) Send(ctx context.Context, msg adapter.EmailMessage) (string, error) {
	t.mu.Lock()
	t.calls++
	fn := t.SendFunc
	fail := t.failWith
	t.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}
	if fail != nil {
		return "", fail
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return fmt.Sprintf("msg-%d", len(t.sent)), nil
}

func (t *fakeTransport) Sent() []adapter.EmailMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]adapter.EmailMessage(nil), t.sent...)
}

// fakeVerifier accepts exactly one token.
type fakeVerifier struct {
	accept string
	err    error
	calls  int
}

func (v *fakeVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	v.calls++
	if v.err != nil {
		return false, v.err
	}
	return token == v.accept, nil
}

// syncSubmitter runs tasks inline, or rejects them when full is set.
type syncSubmitter struct {
	full bool
}

func (s *syncSubmitter) Submit(task func(ctx context.Context) error) error {
	if s.full {
		return errors.New("worker queue full")
	}
	return task(context.Background())
}

// recordingEnqueuer captures enqueue requests for registry tests.
type recordingEnqueuer struct {
	mu       sync.Mutex
	requests []EnqueueRequest
	failWith error
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, req EnqueueRequest) (*model.EmailQueueItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failWith != nil {
		return nil, e.failWith
	}
	e.requests = append(e.requests, req)
	return &model.EmailQueueItem{ID: fmt.Sprintf("q-%d", len(e.requests)), To: req.To, TemplateName: req.Template}, nil
}

func (e *recordingEnqueuer) Templates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.requests))
	for i, r := range e.requests {
		out[i] = r.Template
	}
	return out
}
