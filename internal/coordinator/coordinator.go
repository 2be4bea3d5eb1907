// Package coordinator drives one user turn across both backends: it
// builds each backend's context window, routes by @-tag, relays streamed
// text and tool activity onto the boundary event bus, resolves
// confirmations (including chains), and keeps the shared conversation log
// and per-backend read cursors consistent.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neboloop/duocode/internal/adapter"
	"github.com/neboloop/duocode/internal/approval"
	"github.com/neboloop/duocode/internal/completion"
	"github.com/neboloop/duocode/internal/events"
	"github.com/neboloop/duocode/internal/record"
	"github.com/neboloop/duocode/internal/routing"
)

// contextWindow bounds how much history a turn carries: never more than
// the last five messages.
const contextWindow = 5

// timeoutSentinel is the assistant-turn content recorded when a backend's
// poll deadline expires: the turn ends, but the user's message is never
// silently dropped from history.
const timeoutSentinel = "[no response within the timeout window]"

var ErrAllBackendsFailed = errors.New("coordinator: no backend reached ready state")

// ErrNoTarget is returned by RouteMessage when neither an explicit
// override nor an @-tag names a backend. The caller must ask the user
// to pick a target and resubmit; no state changes in this case.
var ErrNoTarget = errors.New("coordinator: message has no target, ask the user to pick one")

// Backend pairs one adapter with the completion wrapper built on top of
// it. The coordinator owns both: the adapter for lifecycle, the
// completion wrapper for the turn-taking protocol.
type Backend struct {
	Role       record.Role
	Adapter    *adapter.Adapter
	Completion *completion.Backend
}

// Coordinator holds the conversation log, the per-backend read cursors,
// and the live backend set.
type Coordinator struct {
	mu       sync.Mutex
	messages []record.Message
	lastSeen map[record.Role]int
	backends map[record.Role]*Backend
	active   map[record.Role]bool

	approvals   *approval.Channel
	bus         *events.Subject
	actionCtx   map[record.Role]*record.ActionContextBuffer // context queued for the OTHER backend's next turn
	backendErrs map[record.Role]string
}

func New(backends []*Backend, bus *events.Subject, approvals *approval.Channel) *Coordinator {
	c := &Coordinator{
		lastSeen:    map[record.Role]int{record.RoleA: -1, record.RoleB: -1},
		backends:    make(map[record.Role]*Backend, len(backends)),
		active:      make(map[record.Role]bool, len(backends)),
		approvals:   approvals,
		bus:         bus,
		actionCtx:   map[record.Role]*record.ActionContextBuffer{record.RoleA: {}, record.RoleB: {}},
		backendErrs: make(map[record.Role]string),
	}
	for _, b := range backends {
		c.backends[b.Role] = b
	}
	return c
}

// Start brings every backend up, tolerating partial failure: if at least
// one backend reaches Ready, Start succeeds and the others are simply
// excluded from routing. Only if every backend fails does Start return
// an error.
func (c *Coordinator) Start(ctx context.Context) error {
	type outcome struct {
		role record.Role
		err  error
	}
	results := make(chan outcome, len(c.backends))
	for role, b := range c.backends {
		go func(role record.Role, b *Backend) {
			results <- outcome{role: role, err: b.Adapter.Start(ctx)}
		}(role, b)
	}

	anyReady := false
	for range c.backends {
		r := <-results
		c.mu.Lock()
		c.active[r.role] = r.err == nil
		c.mu.Unlock()
		if r.err == nil {
			anyReady = true
		} else {
			msg := fmt.Sprintf("backend failed to start: %v", r.err)
			c.mu.Lock()
			c.backendErrs[r.role] = msg
			c.mu.Unlock()
			c.emitError(r.role, msg)
		}
	}
	if !anyReady {
		return ErrAllBackendsFailed
	}
	return nil
}

// BackendErrors reports the startup failure, if any, for each backend
// that did not reach Ready. Satisfies httpapi.Health.
func (c *Coordinator) BackendErrors() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.backendErrs))
	for role, msg := range c.backendErrs {
		out[string(role)] = msg
	}
	return out
}

// Close tears every backend's session down.
func (c *Coordinator) Close(ctx context.Context) {
	for _, b := range c.backends {
		_ = b.Adapter.Close(ctx)
	}
}

func (c *Coordinator) emitError(target record.Role, msg string) {
	if c.bus == nil {
		return
	}
	_ = events.Emit(c.bus, events.TopicError, events.ErrorEvent{Target: target, Message: msg})
}

func targetToRole(t routing.Target) record.Role {
	switch t {
	case routing.TargetA:
		return record.RoleA
	case routing.TargetB:
		return record.RoleB
	default:
		return ""
	}
}

// orderedTargets returns the backends a message should be routed to, in
// the fixed order the coordinator always serializes turns in: a turn
// never interleaves the two backends. override takes precedence over
// tag when both are present. If neither resolves a backend, the caller
// must ask the UI to pick one: orderedTargets returns nil rather than
// guessing a broadcast. It also returns nil when the named backend is
// not active.
func (c *Coordinator) orderedTargets(override, tag routing.Target) []record.Role {
	resolved := override
	if resolved == routing.TargetNone {
		resolved = tag
	}
	if r := targetToRole(resolved); r != "" {
		if c.active[r] {
			return []record.Role{r}
		}
		return nil
	}
	return nil
}

// buildContext renders the last contextWindow non-ephemeral messages up to
// and including the most recent user message.
func (c *Coordinator) buildContext() string {
	var visible []record.Message
	for _, m := range c.messages {
		if !m.Ephemeral {
			visible = append(visible, m)
		}
	}
	if len(visible) > contextWindow {
		visible = visible[len(visible)-contextWindow:]
	}
	lastUserIdx := -1
	for i, m := range visible {
		if m.Role == record.RoleUser {
			lastUserIdx = i
		}
	}
	return routing.FormatContext(visible, lastUserIdx)
}

// RouteMessage is one full user turn: resolve the addressed backend from
// an explicit override (if the UI already picked one) or the message's
// @-tag, and drive it to completion (including any confirmation chain)
// before returning. If neither an override nor a tag names a backend,
// RouteMessage does nothing at all, not even appending the message to
// Messages, and the caller must prompt the user to pick a target.
func (c *Coordinator) RouteMessage(ctx context.Context, override routing.Target, userText string) error {
	tag, clean := routing.ParseTag(userText)

	c.mu.Lock()
	targets := c.orderedTargets(override, tag)
	if len(targets) == 0 {
		c.mu.Unlock()
		named := override
		if named == routing.TargetNone {
			named = tag
		}
		if r := targetToRole(named); r != "" {
			msg := fmt.Sprintf("backend %s is not available", r)
			c.emitError(r, msg)
			return fmt.Errorf("coordinator: %s", msg)
		}
		return ErrNoTarget
	}
	c.messages = append(c.messages, record.Message{Role: record.RoleUser, Content: clean, Timestamp: timeNow()})
	c.mu.Unlock()

	for _, target := range targets {
		if err := c.runTurn(ctx, target, clean); err != nil {
			if errors.Is(err, adapter.ErrCancelledByUser) || errors.Is(err, context.Canceled) {
				return err
			}
			c.emitError(target, err.Error())
		}
	}
	return nil
}

// runTurn drives one backend through exactly one logical reply, resolving
// any confirmation prompts that arise along the way.
func (c *Coordinator) runTurn(ctx context.Context, target record.Role, cleanMessage string) error {
	b := c.backends[target]

	c.mu.Lock()
	prefix := c.actionCtx[target].Flush()
	convContext := c.buildContext()
	if prefix != "" {
		convContext = prefix + "\n\n" + convContext
	}
	c.mu.Unlock()

	prompt := routing.BuildPrompt(convContext, cleanMessage)

	ch, err := b.Completion.Complete(ctx, prompt)
	if err != nil {
		return err
	}

	for {
		var final completion.Chunk
		for chunk := range ch {
			if chunk.Content != "" && c.bus != nil {
				_ = events.Emit(c.bus, events.TopicAssistantText, events.AssistantTextEvent{Target: target, Content: chunk.Content})
			}
			if chunk.Done {
				final = chunk
			}
		}

		if final.Err != nil {
			if errors.Is(final.Err, adapter.ErrPollTimeout) {
				c.mu.Lock()
				c.messages = append(c.messages, record.Message{Role: target, Content: timeoutSentinel, Timestamp: timeNow()})
				c.lastSeen[target] = len(c.messages) - 1
				c.mu.Unlock()
				return final.Err
			}
			return final.Err
		}

		if final.FinishReason == completion.FinishConfirmation {
			approved, err := c.resolveConfirmation(ctx, target, final.Confirmation)
			if err != nil {
				return err
			}
			if err := b.Completion.RespondConfirmation(ctx, approved); err != nil {
				return err
			}
			c.recordActionContext(target, final.Confirmation.ToolInfo)
			// The backend resumes streaming after the decision: keep
			// draining the same reply rather than re-submitting a prompt.
			ch = b.Completion.Continue(ctx)
			continue
		}

		c.mu.Lock()
		c.messages = append(c.messages, record.Message{Role: target, Content: final.Content, Timestamp: timeNow()})
		c.lastSeen[target] = len(c.messages) - 1
		c.mu.Unlock()
		return nil
	}
}

// resolveConfirmation opens the one-shot approval rendezvous, emits the
// pending tool for the UI, and blocks for a decision.
func (c *Coordinator) resolveConfirmation(ctx context.Context, target record.Role, pending *record.PendingConfirmation) (bool, error) {
	req, err := c.approvals.Open(target, pending)
	if err != nil {
		return false, err
	}
	if c.bus != nil && pending.ToolInfo != nil {
		_ = events.Emit(c.bus, events.TopicCLIToolResult, events.CLIToolResultEvent{Target: target, ToolInfo: pending.ToolInfo})
	}
	d, err := req.Wait(ctx)
	if err != nil {
		c.approvals.Abandon(req)
		return false, err
	}
	return d.Approve, nil
}

// recordActionContext buffers a formatted summary of a resolved tool
// action for the other backend's next turn.
func (c *Coordinator) recordActionContext(actor record.Role, tool *record.ToolInfo) {
	if tool == nil {
		return
	}
	other := record.RoleB
	if actor == record.RoleB {
		other = record.RoleA
	}

	block := formatActionContext(actor, tool)

	c.mu.Lock()
	c.actionCtx[other].Add(block)
	c.mu.Unlock()
}

const (
	maxDiffLines   = 50
	maxOutputLines = 20
)

// formatActionContext renders a tool action as a bracketed block:
// "[<TARGET> ACTION: <TOOL_TYPE> <file_or_command>]" plus a capped diff
// and/or shell output, plus an exit code line when defined.
func formatActionContext(actor record.Role, t *record.ToolInfo) string {
	subject := t.FilePath

	var b []string
	b = append(b, fmt.Sprintf("[%s ACTION: %s %s]", actor, t.ToolType, subject))

	for i, dl := range t.DiffLines {
		if i >= maxDiffLines {
			break
		}
		b = append(b, string(dl.Marker)+dl.Content)
	}

	if t.ShellOutput != nil {
		lines := splitLines(*t.ShellOutput)
		for i, l := range lines {
			if i >= maxOutputLines {
				break
			}
			b = append(b, l)
		}
	}

	if t.ExitCode != nil {
		b = append(b, fmt.Sprintf("Exit: %d", *t.ExitCode))
	}

	out := b[0]
	for _, l := range b[1:] {
		out += "\n" + l
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// ClearHistory drops the conversation log, resets both cursors, and
// discards any queued action context.
func (c *Coordinator) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.lastSeen = map[record.Role]int{record.RoleA: -1, record.RoleB: -1}
	c.actionCtx = map[record.Role]*record.ActionContextBuffer{record.RoleA: {}, record.RoleB: {}}
}

// Messages returns a copy of the conversation log.
func (c *Coordinator) Messages() []record.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]record.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// LastSeen returns the read cursor for a backend.
func (c *Coordinator) LastSeen(target record.Role) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen[target]
}

var timeNow = time.Now
