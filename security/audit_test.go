package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newBufferedAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{"enabled with logger", slog.Default(), true},
		{"disabled with logger", slog.Default(), false},
		{"enabled with nil logger", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newBufferedAuditor(tt.enabled)

			auditor.LogEvent(Event{
				Type:      "test_event",
				UserID:    "alice",
				ClientID:  "client-456",
				IPAddress: "192.168.1.1",
			})

			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("LogEvent() logged = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestAuditor_NilIsNoop(t *testing.T) {
	var auditor *Auditor
	auditor.LogAuthFailure("client", "10.0.0.1", "invalid_secret")
}

func TestAuditor_UserIDIsHashed(t *testing.T) {
	auditor, buf := newBufferedAuditor(true)

	auditor.LogTokenIssued("alice@example.com", "client-456", "192.168.1.1", "openid email")

	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Errorf("raw user id leaked into audit log: %s", out)
	}
	if !strings.Contains(out, hashForLogging("alice@example.com")) {
		t.Errorf("audit log missing user id hash: %s", out)
	}
	if !strings.Contains(out, EventTokenIssued) {
		t.Errorf("audit log missing event type: %s", out)
	}
}

func TestAuditor_EventHelpers(t *testing.T) {
	tests := []struct {
		name      string
		log       func(a *Auditor)
		wantEvent string
	}{
		{"token refreshed", func(a *Auditor) { a.LogTokenRefreshed("u", "c", "ip", true) }, EventTokenRefreshed},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure("c", "ip", "invalid_secret") }, EventAuthFailure},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded("c", "ip", "client_auth") }, EventRateLimitExceeded},
		{"client registered", func(a *Auditor) { a.LogClientRegistered("c", "Name", "ip", "dynamic") }, EventClientRegistered},
		{"client revoked", func(a *Auditor) { a.LogClientRevoked("c", 2) }, EventClientRevoked},
		{"pkce failure", func(a *Auditor) { a.LogPKCEFailure("c", "ip", "mismatch") }, EventPKCEValidationFailed},
		{"invalid redirect", func(a *Auditor) { a.LogInvalidRedirect("c", "ip", "https://evil.example.com") }, EventInvalidRedirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newBufferedAuditor(true)
			tt.log(auditor)
			if !strings.Contains(buf.String(), "event_type="+tt.wantEvent) {
				t.Errorf("log output %q missing event_type=%s", buf.String(), tt.wantEvent)
			}
		})
	}
}

func Test_hashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	got := hashForLogging("sensitive-data")
	if len(got) != 16 {
		t.Errorf("hash length = %d, want 16", len(got))
	}
	if got != hashForLogging("sensitive-data") {
		t.Error("hashForLogging() should be deterministic")
	}
	if got == hashForLogging("other-data") {
		t.Error("hashForLogging() should differ for different inputs")
	}
}
