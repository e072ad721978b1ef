package eduauth

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func drainSink(t *testing.T, sink *ChannelSink) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	for {
		select {
		case e := <-sink.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func eventsOfType(events []AuditEvent, eventType string) []AuditEvent {
	var out []AuditEvent
	for _, e := range events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestAuditTrailForReuseDetection(t *testing.T) {
	sink := NewChannelSink(64)
	gw, _, done := newTestGateway(t, func(b *Builder) {
		cfg := gatewayTestConfig()
		cfg.Audit.Enabled = true
		b.WithConfig(cfg).WithAuditSink(sink)
	})
	defer done()
	ctx := context.Background()

	login, err := gw.Login(ctx, "student", "alice@school.edu", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, _, err := gw.Refresh(ctx, "student", login.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, _, err := gw.Refresh(ctx, "student", login.RefreshToken); err == nil {
		t.Fatal("expected replay rejection")
	}

	// Close drains the dispatcher into the sink.
	gw.Close()
	events := drainSink(t, sink)

	logins := eventsOfType(events, auditEventLoginSuccess)
	if len(logins) != 1 {
		t.Fatalf("login events: have %d, want 1", len(logins))
	}
	if !logins[0].Success || logins[0].UserID != "u-alice" || logins[0].ActorType != "student" {
		t.Fatalf("bad login event: %+v", logins[0])
	}
	if logins[0].Metadata["identifier"] != "alice@school.edu" {
		t.Fatalf("login metadata: %v", logins[0].Metadata)
	}

	reuses := eventsOfType(events, auditEventRefreshReuseDetected)
	if len(reuses) != 1 {
		t.Fatalf("reuse events: have %d, want 1", len(reuses))
	}
	if reuses[0].Success || reuses[0].FamilyID == "" {
		t.Fatalf("bad reuse event: %+v", reuses[0])
	}

	revocations := eventsOfType(events, auditEventFamilyRevoked)
	if len(revocations) != 1 {
		t.Fatalf("revocation events: have %d, want 1", len(revocations))
	}
	if revocations[0].Metadata["sessions_revoked"] != "1" {
		t.Fatalf("revocation metadata: %v", revocations[0].Metadata)
	}
	if revocations[0].FamilyID != reuses[0].FamilyID {
		t.Fatal("revocation must reference the detected family")
	}
}

func TestAuditCredentialFailureClassified(t *testing.T) {
	sink := NewChannelSink(64)
	gw, _, done := newTestGateway(t, func(b *Builder) {
		cfg := gatewayTestConfig()
		cfg.Audit.Enabled = true
		b.WithConfig(cfg).WithAuditSink(sink)
	})
	defer done()

	if _, err := gw.Login(context.Background(), "student", "alice@school.edu", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
	gw.Close()

	events := drainSink(t, sink)
	failures := eventsOfType(events, auditEventLoginFailure)
	if len(failures) != 1 {
		t.Fatalf("failure events: have %d, want 1", len(failures))
	}
	if failures[0].Error != string(auditErrInvalidCredentials) {
		t.Fatalf("error code: have %q, want %q", failures[0].Error, auditErrInvalidCredentials)
	}
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := NewChannelSink(64)
	gw, _, done := newTestGateway(t, func(b *Builder) {
		b.WithAuditSink(sink)
	})
	defer done()

	if _, err := gw.Login(context.Background(), "student", "alice@school.edu", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	gw.Close()

	if events := drainSink(t, sink); len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if gw.AuditDropped() != 0 {
		t.Fatal("nothing should have been dropped")
	}
}

func TestJSONWriterSinkWritesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: "login_success", UserID: "u-1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "logout_session", UserID: "u-1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var event AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.EventType != "login_success" || event.UserID != "u-1" {
		t.Fatalf("bad event: %+v", event)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{release: block}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 8; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "login_success"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events under backpressure")
	}

	close(block)
	d.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(_ context.Context, _ AuditEvent) {
	<-s.release
}
