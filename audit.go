package eduauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is one security-relevant occurrence: a login attempt, a token
// rotation, a detected reuse, a revocation. Events are emitted after the
// outcome is decided and never block the hot path.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	ActorType string            `json:"actor_type,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	FamilyID  string            `json:"family_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the gateway's dispatcher. Implementations
// must tolerate concurrent calls; a slow sink causes drops, not stalls,
// when AuditConfig.DropIfFull is set.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event. It is the sink of last resort when audit
// is enabled without a configured destination.
type NoOpSink struct{}

// Emit implements [AuditSink].
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a Go channel, typically consumed by a
// shipping goroutine or a test.
type ChannelSink struct {
	ch chan AuditEvent
}

// NewChannelSink returns a sink backed by a channel with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan AuditEvent, buffer)}
}

// Emit implements [AuditSink]. It blocks until the event is accepted or
// ctx is cancelled.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.ch <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receiving side of the channel.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.ch
}

// JSONWriterSink writes one JSON object per line (NDJSON) to an io.Writer,
// serializing concurrent emits.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONWriterSink returns a sink writing NDJSON to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

// Emit implements [AuditSink]. Encoding failures are dropped silently; an
// audit sink must never surface errors into the auth path.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}
