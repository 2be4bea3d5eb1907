// Package completion adapts an adapter.Adapter to an async streaming
// contract: a bounded queue bridges the adapter's polling-loop callbacks
// to a channel of chunks, the same worker-goroutine bridge used to turn
// a blocking subprocess pipe into a streamed response.
package completion

import (
	"context"
	"fmt"

	"github.com/neboloop/duocode/internal/adapter"
	"github.com/neboloop/duocode/internal/record"
)

type FinishReason string

const (
	FinishStop         FinishReason = "stop"
	FinishConfirmation FinishReason = "confirmation"
)

// Chunk is one element of a streamed completion. Content always carries
// the full latest reply text, never a delta: callers that want
// token-by-token diffing must compute it themselves.
type Chunk struct {
	Content      string
	Done         bool
	FinishReason FinishReason
	Confirmation *record.PendingConfirmation
	Response     *record.ParsedResponse
	Err          error
}

const queueDepth = 32

// Backend bridges one adapter.Adapter to a chunk channel per call.
type Backend struct {
	a *adapter.Adapter
}

func New(a *adapter.Adapter) *Backend {
	return &Backend{a: a}
}

// Complete pastes prompt into the backend and returns a channel of chunks.
// The channel is closed after the terminal chunk (Done == true) is sent.
// The worker goroutine owns the adapter call for the lifetime of this one
// exchange; callers must drain the channel before issuing another Complete.
func (b *Backend) Complete(ctx context.Context, prompt string) (<-chan Chunk, error) {
	if err := b.a.Ask(ctx, prompt); err != nil {
		return nil, err
	}
	return b.stream(ctx), nil
}

// Continue resumes draining a backend's reply after a confirmation has
// been answered, without issuing a new Ask: the backend is still
// mid-turn from the caller's point of view, and a chained confirmation
// never re-submits the prompt.
func (b *Backend) Continue(ctx context.Context) <-chan Chunk {
	return b.stream(ctx)
}

func (b *Backend) stream(ctx context.Context) <-chan Chunk {
	out := make(chan Chunk, queueDepth)
	go func() {
		defer close(out)

		result, err := b.a.WaitResponse(ctx, func(text string) {
			select {
			case out <- Chunk{Content: text}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case out <- Chunk{Done: true, Err: fmt.Errorf("completion: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		final := Chunk{Done: true}
		switch {
		case result.Confirmation != nil:
			final.FinishReason = FinishConfirmation
			final.Confirmation = result.Confirmation
		case result.Response != nil:
			final.FinishReason = FinishStop
			final.Response = result.Response
			final.Content = result.Response.Content
		}
		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()
	return out
}

// RespondConfirmation forwards an approval decision to the underlying
// adapter. The Complete channel has already closed by then; the rest of
// the reply is drained with Continue.
func (b *Backend) RespondConfirmation(ctx context.Context, approve bool) error {
	return b.a.RespondConfirmation(ctx, approve)
}

// CountTokens is a placeholder estimate (len(text)/4): no backend
// exposes a real tokenizer over this boundary. Nothing in this module
// gates on the count.
func CountTokens(text string) int {
	return len(text) / 4
}
