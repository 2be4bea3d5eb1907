package approval

import (
	"context"
	"testing"
	"time"

	"github.com/neboloop/duocode/internal/record"
)

func TestOpenThenDecideDeliversToWait(t *testing.T) {
	c := New()
	req, err := c.Open(record.RoleA, &record.PendingConfirmation{Context: "apply edit?"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	done := make(chan Decision, 1)
	go func() {
		d, err := req.Wait(context.Background())
		if err != nil {
			t.Error(err)
		}
		done <- d
	}()

	if err := c.Decide(true); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	select {
	case d := <-done:
		if !d.Approve {
			t.Fatal("expected an approved decision")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestOpenWhileAlreadyPendingFails(t *testing.T) {
	c := New()
	if _, err := c.Open(record.RoleA, &record.PendingConfirmation{}); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := c.Open(record.RoleB, &record.PendingConfirmation{}); err != ErrAlreadyPending {
		t.Fatalf("err = %v, want ErrAlreadyPending", err)
	}
}

func TestDecideWithoutPendingRequestFails(t *testing.T) {
	c := New()
	if err := c.Decide(true); err != ErrNoPendingRequest {
		t.Fatalf("err = %v, want ErrNoPendingRequest", err)
	}
}

func TestCancelledWaitDoesNotConsumeDecision(t *testing.T) {
	c := New()
	req, _ := c.Open(record.RoleA, &record.PendingConfirmation{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := req.Wait(ctx); err == nil {
		t.Fatal("expected context cancellation error")
	}
	if c.Current() != req {
		t.Fatal("a cancelled Wait must leave the request pending")
	}

	c.Abandon(req)
	if c.Current() != nil {
		t.Fatal("expected no pending request after Abandon")
	}
}
