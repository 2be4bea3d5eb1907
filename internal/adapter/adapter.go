// Package adapter owns one tmux-backed backend session end to end: start,
// prompt submission, response polling, and confirmation handling. It is
// the only package that knows a backend is a terminal program at all;
// everything above it sees Ask/Wait/Respond.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neboloop/duocode/internal/logging"
	"github.com/neboloop/duocode/internal/mux"
	"github.com/neboloop/duocode/internal/parser"
	"github.com/neboloop/duocode/internal/record"
)

// gateway is the slice of mux.Gateway the adapter needs. Defined as an
// interface here so tests can drive the state machine against a fake pane
// without spawning tmux.
type gateway interface {
	CreateSession(ctx context.Context, name string, cols, rows int, argv []string, env []string) error
	HasSession(ctx context.Context, name string) bool
	KillSession(ctx context.Context, name string) error
	CapturePane(ctx context.Context, name string, scrollbackLines int) (string, error)
	Paste(ctx context.Context, name string, data string) error
	SendKey(ctx context.Context, name string, key string) error
}

// State is the adapter's lifecycle state:
//
//	Uninitialized -> Starting -> Ready -> Awaiting <-> Streaming -> (Idle | AwaitingConfirmation) -> Closed
type State int

const (
	Uninitialized State = iota
	Starting
	Ready
	Awaiting
	Streaming
	Idle
	AwaitingConfirmation
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Awaiting:
		return "awaiting"
	case Streaming:
		return "streaming"
	case Idle:
		return "idle"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrBackendStartTimeout = errors.New("adapter: backend did not reach ready state in time")
	ErrSessionDead         = errors.New("adapter: tmux session no longer exists")
	ErrPollTimeout         = errors.New("adapter: response poll exceeded its deadline")
	ErrBackendRuntimeError = errors.New("adapter: backend runtime error")
	ErrCancelledByUser     = errors.New("adapter: cancelled by user")
	ErrWrongState          = errors.New("adapter: operation invalid in current state")
)

// Config holds the session tunables explicitly so callers never hardcode
// them a second time.
type Config struct {
	Cols, Rows      int
	ScrollbackLines int
	PollInterval    time.Duration
	StartDeadline   time.Duration
	ResponseTimeout time.Duration
	SlowCycle       time.Duration
	SettleDelay     time.Duration

	// ReadyMatch is the literal string that must appear among the last
	// few lines of a snapshot for the backend to be considered ready or
	// done replying. Completion requires both this match and spinner
	// absence; either alone is insufficient. Empty disables the check.
	ReadyMatch string
}

func DefaultConfig() Config {
	return Config{
		Cols:            220,
		Rows:            50,
		ScrollbackLines: 2000,
		PollInterval:    time.Second,
		StartDeadline:   15 * time.Second,
		ResponseTimeout: 720 * time.Second,
		SlowCycle:       500 * time.Millisecond,
		SettleDelay:     500 * time.Millisecond,
	}
}

// readyLineWindow is how many trailing lines of a snapshot are searched
// for the ready-prompt literal.
const readyLineWindow = 5

// hasReadyPrompt reports whether match appears among the last few lines
// of snap. An empty match always satisfies the check, for backends whose
// grammar carries no distinct ready-prompt literal.
func hasReadyPrompt(snap, match string) bool {
	if match == "" {
		return true
	}
	lines := strings.Split(snap, "\n")
	if len(lines) > readyLineWindow {
		lines = lines[len(lines)-readyLineWindow:]
	}
	return strings.Contains(strings.Join(lines, "\n"), match)
}

// Adapter drives one backend's tmux session.
type Adapter struct {
	Name   string
	gw     gateway
	parser parser.Parser
	argv   []string
	env    []string
	cfg    Config

	mu          sync.Mutex
	session     string
	state       State
	lastSnap    string
	lastMarker  string
	lastBullets int
	pending     *record.PendingConfirmation
}

func New(name string, gw gateway, p parser.Parser, argv, env []string, cfg Config) *Adapter {
	return &Adapter{
		Name:   name,
		gw:     gw,
		parser: p,
		argv:   argv,
		env:    env,
		cfg:    cfg,
		state:  Uninitialized,
	}
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start creates the tmux session and blocks until the backend reaches its
// ready prompt or the start deadline elapses.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != Uninitialized {
		a.mu.Unlock()
		return fmt.Errorf("%w: start called from %s", ErrWrongState, a.state)
	}
	a.state = Starting
	a.session = mux.SessionName(a.Name)
	a.mu.Unlock()

	if err := a.gw.CreateSession(ctx, a.session, a.cfg.Cols, a.cfg.Rows, a.argv, a.env); err != nil {
		a.setState(Closed)
		return err
	}

	deadline := time.Now().Add(a.cfg.StartDeadline)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		snap, err := a.gw.CapturePane(ctx, a.session, a.cfg.ScrollbackLines)
		if err == nil && snap != "" && !a.parser.HasSpinner(snap) && hasReadyPrompt(snap, a.cfg.ReadyMatch) {
			a.mu.Lock()
			a.lastSnap = snap
			a.lastMarker = a.parser.ReplyMarker(snap)
			a.lastBullets = a.parser.BulletCount(snap)
			a.state = Ready
			a.mu.Unlock()
			logging.Infof("[adapter:%s] ready", a.Name)
			return nil
		}
		if time.Now().After(deadline) {
			a.setState(Closed)
			_ = a.gw.KillSession(ctx, a.session)
			return ErrBackendStartTimeout
		}
		select {
		case <-ctx.Done():
			a.setState(Closed)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Ask pastes prompt into the session. It is valid from Ready or Idle,
// holds Awaiting while the prompt is submitted, and leaves the adapter
// in Streaming once Enter has been sent.
func (a *Adapter) Ask(ctx context.Context, prompt string) error {
	a.mu.Lock()
	if a.state != Ready && a.state != Idle {
		st := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: ask called from %s", ErrWrongState, st)
	}
	a.state = Awaiting
	a.mu.Unlock()

	if !a.gw.HasSession(ctx, a.session) {
		a.setState(Closed)
		return ErrSessionDead
	}
	if err := a.gw.Paste(ctx, a.session, prompt); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendRuntimeError, err)
	}
	if err := a.gw.SendKey(ctx, a.session, "Enter"); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendRuntimeError, err)
	}
	a.setState(Streaming)
	return nil
}

// WaitResult is what WaitResponse settles to: exactly one of Response or
// Confirmation is set. When WaitResponse returns an error, it returns no
// WaitResult.
type WaitResult struct {
	Response     *record.ParsedResponse
	Confirmation *record.PendingConfirmation
}

// WaitResponse polls the pane until the backend settles into either a
// completed reply or a pending confirmation, invoking onPartial with the
// latest full reply text on every change. Never a delta.
func (a *Adapter) WaitResponse(ctx context.Context, onPartial func(text string)) (*WaitResult, error) {
	a.mu.Lock()
	if a.state != Streaming {
		st := a.state
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: wait_response called from %s", ErrWrongState, st)
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ResponseTimeout)
	defer cancel()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	replySeen := false
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ErrCancelledByUser
			}
			a.setState(Closed)
			return nil, ErrPollTimeout
		case <-ticker.C:
		}

		cycleStart := time.Now()

		if !a.gw.HasSession(ctx, a.session) {
			a.setState(Closed)
			return nil, ErrSessionDead
		}
		snap, err := a.gw.CapturePane(ctx, a.session, a.cfg.ScrollbackLines)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendRuntimeError, err)
		}

		// Buffer-identity fast path: an unchanged pane needs no parse.
		if snap == a.lastSnap {
			if cycle := time.Since(cycleStart); cycle > a.cfg.SlowCycle {
				logging.Warnf("[adapter:%s] poll cycle took %s", a.Name, cycle)
			}
			continue
		}
		a.lastSnap = snap

		marker := a.parser.ReplyMarker(snap)
		bullets := a.parser.BulletCount(snap)
		changed := marker != a.lastMarker || bullets != a.lastBullets
		a.lastMarker, a.lastBullets = marker, bullets
		if changed {
			replySeen = true
		}

		if conf := a.parser.DetectConfirmation(snap); conf != nil {
			pc := &record.PendingConfirmation{Context: conf.Context}
			text, tool := a.parser.Parse(snap)
			pc.ToolInfo = tool
			if text != "" {
				onPartial(text)
			}
			a.mu.Lock()
			a.pending = pc
			a.state = AwaitingConfirmation
			a.mu.Unlock()
			return &WaitResult{Confirmation: pc}, nil
		}

		if changed {
			if text, _ := a.parser.Parse(snap); text != "" {
				onPartial(text)
			}
		}

		if !a.parser.HasSpinner(snap) && replySeen && hasReadyPrompt(snap, a.cfg.ReadyMatch) {
			// Settle briefly and take a final capture before trusting
			// this snapshot: a backend can land between render frames
			// with the spinner already gone but its tail text still
			// being written.
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.Canceled) {
					return nil, ErrCancelledByUser
				}
				a.setState(Closed)
				return nil, ErrPollTimeout
			case <-time.After(a.cfg.SettleDelay):
			}

			finalSnap, err := a.gw.CapturePane(ctx, a.session, a.cfg.ScrollbackLines)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBackendRuntimeError, err)
			}
			if a.parser.HasSpinner(finalSnap) || !hasReadyPrompt(finalSnap, a.cfg.ReadyMatch) {
				// Still mid-render; fold the recapture in and keep polling.
				a.lastSnap = finalSnap
				a.lastMarker = a.parser.ReplyMarker(finalSnap)
				a.lastBullets = a.parser.BulletCount(finalSnap)
				continue
			}
			snap = finalSnap
			a.lastSnap = snap

			resp := a.parser.ExtractResult(snap)
			if resp == nil {
				text, _ := a.parser.Parse(snap)
				resp = &record.ParsedResponse{Content: text}
			} else if resp.Content == "" {
				text, _ := a.parser.Parse(snap)
				resp.Content = text
			}
			a.setState(Idle)
			return &WaitResult{Response: resp}, nil
		}

		if cycle := time.Since(cycleStart); cycle > a.cfg.SlowCycle {
			logging.Warnf("[adapter:%s] poll cycle took %s", a.Name, cycle)
		}
	}
}

// RespondConfirmation answers a pending confirmation: Enter accepts the
// default ("1. Yes" or equivalent) menu entry, Escape declines it.
func (a *Adapter) RespondConfirmation(ctx context.Context, approve bool) error {
	a.mu.Lock()
	if a.state != AwaitingConfirmation {
		st := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: respond_confirmation called from %s", ErrWrongState, st)
	}
	a.mu.Unlock()

	key := "Escape"
	if approve {
		key = "Enter"
	}
	if err := a.gw.SendKey(ctx, a.session, key); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendRuntimeError, err)
	}

	a.mu.Lock()
	a.pending = nil
	a.state = Streaming
	a.mu.Unlock()
	return nil
}

// Close tears down the tmux session. Idempotent.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.state = Closed
	a.mu.Unlock()
	if session == "" {
		return nil
	}
	return a.gw.KillSession(ctx, session)
}
