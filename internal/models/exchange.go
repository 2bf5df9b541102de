package models

import (
	"fmt"
	"time"
)

// Exchange describes one pass through the relay: a request forwarded upstream and the stream
// that came back. Only metadata is kept, never message contents.
type Exchange struct {
	ID       string  `json:"id"`
	State    State   `json:"state"`
	Outcome  Outcome `json:"outcome,omitempty"`
	Messages int     `json:"messages"`
	Chunks   int     `json:"chunks"`
	Bytes    int64   `json:"bytes"`
	Error    string  `json:"error,omitempty"`

	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}

// State is the position of an exchange in its lifecycle.
type State string

// Outcome tells how a closed exchange ended.
type Outcome string

const (
	// StateAwaitingUpstream is the state between sending the upstream request and receiving
	// its first chunk.
	StateAwaitingUpstream State = "awaiting_upstream"
	// StateStreaming is the state while chunks are relayed to the client.
	StateStreaming State = "streaming"
	// StateClosed is terminal.
	StateClosed State = "closed"

	// OutcomeCompleted means the upstream stream ended normally.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the upstream call failed before any byte was sent to the client.
	OutcomeFailed Outcome = "failed"
	// OutcomeTruncated means the upstream failed after streaming had started.
	OutcomeTruncated Outcome = "truncated"
	// OutcomeCancelled means the client went away before the stream ended.
	OutcomeCancelled Outcome = "cancelled"
)

// NewExchange returns an exchange waiting on the upstream provider.
func NewExchange(id string, messages int, now time.Time) Exchange {
	return Exchange{
		ID:        id,
		State:     StateAwaitingUpstream,
		Messages:  messages,
		StartedAt: now,
	}
}

// Relayed records a chunk forwarded to the client, moving the exchange into streaming.
func (e *Exchange) Relayed(n int) error {
	switch e.State {
	case StateAwaitingUpstream:
		e.State = StateStreaming
	case StateStreaming:
	default:
		return fmt.Errorf("cannot relay chunk in state %s", e.State)
	}
	e.Chunks++
	e.Bytes += int64(n)
	return nil
}

// Close moves the exchange into its terminal state. A closed exchange can't be closed again.
func (e *Exchange) Close(outcome Outcome, err error, now time.Time) error {
	if e.State == StateClosed {
		return fmt.Errorf("exchange %s already closed with %s", e.ID, e.Outcome)
	}
	e.State = StateClosed
	e.Outcome = outcome
	e.EndedAt = now
	if err != nil {
		e.Error = err.Error()
	}
	return nil
}

// Duration returns how long the exchange has been open, or took if it is closed.
func (e Exchange) Duration(now time.Time) time.Duration {
	if e.State == StateClosed {
		return e.EndedAt.Sub(e.StartedAt)
	}
	return now.Sub(e.StartedAt)
}
