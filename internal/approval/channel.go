// Package approval implements the one-shot rendezvous between a pending
// confirmation surfaced by the coordinator and the decision the UI sends
// back for it.
package approval

import (
	"context"
	"errors"
	"sync"

	"github.com/neboloop/duocode/internal/record"
)

var (
	ErrNoPendingRequest = errors.New("approval: no request is pending")
	ErrAlreadyPending   = errors.New("approval: a request is already pending")
)

// Decision is what the UI sends back for a pending confirmation.
type Decision struct {
	Approve bool
}

// Request pairs a confirmation with the channel its decision arrives on.
type Request struct {
	Target  record.Role
	Pending *record.PendingConfirmation
	decided chan Decision
}

// Channel holds at most one outstanding Request at a time: the coordinator
// never asks a second backend for confirmation while one is already
// awaiting a decision.
type Channel struct {
	mu  sync.Mutex
	cur *Request
}

func New() *Channel {
	return &Channel{}
}

// Open registers a new pending request. It fails if one is already open;
// callers are expected to Decide or Abandon the previous one first.
func (c *Channel) Open(target record.Role, pending *record.PendingConfirmation) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return nil, ErrAlreadyPending
	}
	req := &Request{Target: target, Pending: pending, decided: make(chan Decision, 1)}
	c.cur = req
	return req, nil
}

// Current returns the outstanding request, if any.
func (c *Channel) Current() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Decide resolves the outstanding request with a decision from the UI.
func (c *Channel) Decide(approve bool) error {
	c.mu.Lock()
	req := c.cur
	c.cur = nil
	c.mu.Unlock()

	if req == nil {
		return ErrNoPendingRequest
	}
	req.decided <- Decision{Approve: approve}
	return nil
}

// Wait blocks until a decision arrives for req, or ctx is cancelled, in
// which case the cancellation does not count as a decision: cancellation
// must not advance state.
func (r *Request) Wait(ctx context.Context) (Decision, error) {
	select {
	case d := <-r.decided:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Abandon clears the pending request without delivering a decision, used
// when the owning turn is cancelled outright.
func (c *Channel) Abandon(req *Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == req {
		c.cur = nil
	}
}
