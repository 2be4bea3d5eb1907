// Package mux wraps the handful of tmux primitives the debate orchestrator
// needs against a named session: create, capture, paste, send-keys, and
// teardown. It is the sole boundary between this process and the tmux
// binary.
package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/neboloop/duocode/internal/logging"
)

// ErrMultiplexerMissing is returned when the tmux binary cannot be found or
// a session fails to start.
var ErrMultiplexerMissing = errors.New("mux: tmux session start failed")

// Gateway is a thin wrapper over the tmux CLI. It holds no state beyond
// what tmux itself tracks; every call names its target session.
type Gateway struct {
	bin string // defaults to "tmux"
}

// New creates a Gateway. An empty bin defaults to "tmux" on PATH.
func New(bin string) *Gateway {
	if bin == "" {
		bin = "tmux"
	}
	return &Gateway{bin: bin}
}

// SessionName builds a collision-resistant session name for one backend
// run: "duocode-<backend>-<uuid-suffix>".
func SessionName(backend string) string {
	id := uuid.NewString()
	return fmt.Sprintf("duocode-%s-%s", backend, id[:8])
}

func (g *Gateway) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.bin, args...)
	setSysProcAttr(cmd)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("tmux %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errBuf.String()))
	}
	return out.String(), nil
}

// HasSession reports whether a session by that name currently exists.
func (g *Gateway) HasSession(ctx context.Context, name string) bool {
	cmd := exec.CommandContext(ctx, g.bin, "has-session", "-t", name)
	setSysProcAttr(cmd)
	return cmd.Run() == nil
}

// KillSession tears down a session, ignoring "no such session" errors.
func (g *Gateway) KillSession(ctx context.Context, name string) error {
	if !g.HasSession(ctx, name) {
		return nil
	}
	_, err := g.run(ctx, "kill-session", "-t", name)
	return err
}

// CreateSession kills any prior session of the same name, then spawns a
// detached session of the given geometry running argv with env (k=v pairs
// appended to the child's environment).
func (g *Gateway) CreateSession(ctx context.Context, name string, cols, rows int, argv []string, env []string) error {
	if _, err := exec.LookPath(g.bin); err != nil {
		return fmt.Errorf("%w: %v", ErrMultiplexerMissing, err)
	}
	if err := g.KillSession(ctx, name); err != nil {
		logging.Warnf("[mux] kill prior session %s: %v", name, err)
	}

	args := []string{
		"new-session", "-d", "-s", name,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows),
	}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	args = append(args, "--")
	args = append(args, argv...)

	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrMultiplexerMissing, err)
	}
	return nil
}

// CapturePane returns the plain-text rendering of the pane, including up to
// scrollbackLines of history. No ANSI is expected: capture is requested in
// plain mode (-p, no -e).
func (g *Gateway) CapturePane(ctx context.Context, name string, scrollbackLines int) (string, error) {
	out, err := g.run(ctx, "capture-pane", "-p", "-t", name, "-S", "-"+strconv.Itoa(scrollbackLines))
	if err != nil {
		return "", err
	}
	return out, nil
}

// Paste loads data into a tmux buffer and pastes it into the session in
// bracketed/literal mode, so embedded shell metacharacters ($, backticks,
// quotes, newlines) are delivered as characters rather than interpreted by
// whatever prompt is running inside the pane. This is the sole ingestion
// path for user-authored text: falling back to send-keys line-by-line
// would require re-introducing metacharacter escaping.
func (g *Gateway) Paste(ctx context.Context, name string, data string) error {
	cmd := exec.CommandContext(ctx, g.bin, "load-buffer", "-")
	setSysProcAttr(cmd)
	cmd.Stdin = strings.NewReader(data)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux load-buffer: %w: %s", err, strings.TrimSpace(errBuf.String()))
	}

	if _, err := g.run(ctx, "paste-buffer", "-p", "-t", name); err != nil {
		return err
	}
	return nil
}

// SendKey sends one named key (e.g. "Enter", "Escape", "Down") to the
// session.
func (g *Gateway) SendKey(ctx context.Context, name string, key string) error {
	_, err := g.run(ctx, "send-keys", "-t", name, key)
	return err
}
