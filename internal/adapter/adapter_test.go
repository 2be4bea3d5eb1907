package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/neboloop/duocode/internal/parser"
)

// fakeGateway is an in-memory tmux stand-in: CapturePane returns the
// queued snapshots in order and keeps returning the last one once only
// it remains.
type fakeGateway struct {
	mu        sync.Mutex
	snapshots []string
	killed    bool
	keys      []string
	pastes    []string
}

func (f *fakeGateway) CreateSession(ctx context.Context, name string, cols, rows int, argv, env []string) error {
	return nil
}

func (f *fakeGateway) HasSession(ctx context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.killed
}

func (f *fakeGateway) KillSession(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

func (f *fakeGateway) CapturePane(ctx context.Context, name string, scrollback int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return "", nil
	}
	if len(f.snapshots) > 1 {
		s := f.snapshots[0]
		f.snapshots = f.snapshots[1:]
		return s, nil
	}
	return f.snapshots[0], nil
}

func (f *fakeGateway) Paste(ctx context.Context, name, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pastes = append(f.pastes, data)
	return nil
}

func (f *fakeGateway) SendKey(ctx context.Context, name, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.StartDeadline = 200 * time.Millisecond
	cfg.ResponseTimeout = 500 * time.Millisecond
	cfg.SettleDelay = time.Millisecond
	return cfg
}

func TestAdapterStartReachesReady(t *testing.T) {
	gw := &fakeGateway{snapshots: []string{"• ready for input"}}
	a := New("A", gw, parser.BackendA{}, nil, nil, testConfig())

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.State() != Ready {
		t.Fatalf("state = %s, want ready", a.State())
	}
}

// TestAdapterStartRequiresReadyMatch covers property #7: a non-spinner
// snapshot alone is not enough to call a backend ready; the configured
// ready-prompt literal must also be present.
func TestAdapterStartRequiresReadyMatch(t *testing.T) {
	gw := &fakeGateway{snapshots: []string{"• some other text, no ready marker here"}}
	cfg := testConfig()
	cfg.StartDeadline = 5 * time.Millisecond
	cfg.ReadyMatch = "READY>"
	a := New("A", gw, parser.BackendA{}, nil, nil, cfg)

	err := a.Start(context.Background())
	if err != ErrBackendStartTimeout {
		t.Fatalf("err = %v, want ErrBackendStartTimeout", err)
	}
}

func TestAdapterStartTimesOutWhileSpinnerVisible(t *testing.T) {
	gw := &fakeGateway{snapshots: []string{"⠋ booting..."}}
	cfg := testConfig()
	cfg.StartDeadline = 5 * time.Millisecond
	a := New("A", gw, parser.BackendA{}, nil, nil, cfg)

	err := a.Start(context.Background())
	if err != ErrBackendStartTimeout {
		t.Fatalf("err = %v, want ErrBackendStartTimeout", err)
	}
}

func TestAdapterAskThenWaitResponse(t *testing.T) {
	gw := &fakeGateway{snapshots: []string{"• ready"}}
	a := New("A", gw, parser.BackendA{}, nil, nil, testConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.Ask(context.Background(), "hello"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if a.State() != Streaming {
		t.Fatalf("state = %s, want streaming", a.State())
	}
	if len(gw.pastes) != 1 || gw.pastes[0] != "hello" {
		t.Fatalf("pastes = %+v", gw.pastes)
	}

	gw.mu.Lock()
	gw.snapshots = []string{"• here is my answer"}
	gw.mu.Unlock()

	var partials []string
	result, err := a.WaitResponse(context.Background(), func(text string) {
		partials = append(partials, text)
	})
	if err != nil {
		t.Fatalf("WaitResponse: %v", err)
	}
	if result.Response == nil {
		t.Fatal("expected a completed response")
	}
	if len(partials) == 0 {
		t.Fatal("expected at least one onPartial callback")
	}
	if a.State() != Idle {
		t.Fatalf("state = %s, want idle", a.State())
	}
}

// TestAdapterWaitResponseRequiresReadyMatch covers the completion side of
// property #7: spinner absence alone must not surface a completed
// response when a ready-prompt literal is configured but absent.
func TestAdapterWaitResponseRequiresReadyMatch(t *testing.T) {
	gw := &fakeGateway{snapshots: []string{"• ready READY>"}}
	cfg := testConfig()
	cfg.ReadyMatch = "READY>"
	cfg.ResponseTimeout = 20 * time.Millisecond
	a := New("A", gw, parser.BackendA{}, nil, nil, cfg)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Ask(context.Background(), "hello"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	gw.mu.Lock()
	gw.snapshots = []string{"• here is my answer, no ready marker"}
	gw.mu.Unlock()

	_, err := a.WaitResponse(context.Background(), func(string) {})
	if err != ErrPollTimeout {
		t.Fatalf("err = %v, want ErrPollTimeout (spinner absence alone must not complete the turn)", err)
	}
}

func TestAdapterWaitResponseDetectsConfirmation(t *testing.T) {
	gw := &fakeGateway{snapshots: []string{"• ready"}}
	a := New("A", gw, parser.BackendA{}, nil, nil, testConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Ask(context.Background(), "write a file"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	confSnap := "• Write(out.txt)\n╌╌╌╌╌╌╌╌╌╌╌╌╌╌╌╌\nhello\n╌╌╌╌╌╌╌╌╌╌╌╌╌╌╌╌\n───────────────\nDo you want to make this edit?\n1. Yes\n2. No"
	gw.mu.Lock()
	gw.snapshots = []string{confSnap}
	gw.mu.Unlock()

	result, err := a.WaitResponse(context.Background(), func(string) {})
	if err != nil {
		t.Fatalf("WaitResponse: %v", err)
	}
	if result.Confirmation == nil {
		t.Fatal("expected a pending confirmation")
	}
	if a.State() != AwaitingConfirmation {
		t.Fatalf("state = %s, want awaiting_confirmation", a.State())
	}

	if err := a.RespondConfirmation(context.Background(), true); err != nil {
		t.Fatalf("RespondConfirmation: %v", err)
	}
	if a.State() != Streaming {
		t.Fatalf("state = %s, want streaming after confirmation", a.State())
	}
	if len(gw.keys) == 0 || gw.keys[len(gw.keys)-1] != "Enter" {
		t.Fatalf("keys = %+v, want final key to be Enter", gw.keys)
	}
}

func TestAdapterWaitResponseTimeout(t *testing.T) {
	gw := &fakeGateway{snapshots: []string{"• ready"}}
	a := New("A", gw, parser.BackendA{}, nil, nil, testConfig())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Ask(context.Background(), "do something slow"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	gw.mu.Lock()
	gw.snapshots = []string{"⠋ thinking forever"}
	gw.mu.Unlock()

	_, err := a.WaitResponse(context.Background(), func(string) {})
	if err != ErrPollTimeout {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
}

func TestAdapterCloseIsIdempotent(t *testing.T) {
	gw := &fakeGateway{snapshots: []string{"• ready"}}
	a := New("A", gw, parser.BackendA{}, nil, nil, testConfig())
	_ = a.Start(context.Background())
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
