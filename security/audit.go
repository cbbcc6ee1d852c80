package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events as "security_audit" log records. User ids
// are replaced by a truncated SHA-256 so the audit trail carries no PII.
// A nil or disabled Auditor drops every event.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
}

func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled, now: time.Now}
}

// Event is one audit record. Timestamp is set by LogEvent.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}
	event.Timestamp = a.now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// clientEvent logs an event about clientID with a single detail.
func (a *Auditor) clientEvent(eventType, clientID, ip, key string, value any) {
	a.LogEvent(Event{
		Type:      eventType,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{key: value},
	})
}

func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type: EventTokenIssued, UserID: userID, ClientID: clientID, IPAddress: ipAddress,
		Details: map[string]any{"scope": scope},
	})
}

func (a *Auditor) LogTokenRefreshed(userID, clientID, ipAddress string, rotated bool) {
	a.LogEvent(Event{
		Type: EventTokenRefreshed, UserID: userID, ClientID: clientID, IPAddress: ipAddress,
		Details: map[string]any{"rotated": rotated},
	})
}

// LogAuthFailure records a failed client authentication at the token endpoint.
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.clientEvent(EventAuthFailure, clientID, ipAddress, "reason", reason)
}

// LogRateLimitExceeded records a request rejected by limiter
// ("client_lockout" or "registration"). clientID is empty for registration.
func (a *Auditor) LogRateLimitExceeded(clientID, ipAddress, limiter string) {
	a.clientEvent(EventRateLimitExceeded, clientID, ipAddress, "limiter", limiter)
}

// LogClientRegistered records a new client; source is "dynamic" or "admin".
func (a *Auditor) LogClientRegistered(clientID, clientName, ipAddress, source string) {
	a.LogEvent(Event{
		Type: EventClientRegistered, ClientID: clientID, IPAddress: ipAddress,
		Details: map[string]any{"client_name": clientName, "source": source},
	})
}

func (a *Auditor) LogClientRevoked(clientID string, refreshTokensRemoved int) {
	a.clientEvent(EventClientRevoked, clientID, "", "refresh_tokens_removed", refreshTokensRemoved)
}

func (a *Auditor) LogPKCEFailure(clientID, ipAddress, reason string) {
	a.clientEvent(EventPKCEValidationFailed, clientID, ipAddress, "reason", reason)
}

// LogInvalidRedirect records an authorization request for a redirect URI the
// client never registered.
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress, redirectURI string) {
	a.clientEvent(EventInvalidRedirect, clientID, ipAddress, "redirect_uri", redirectURI)
}

// hashForLogging returns the first 16 hex digits of the SHA-256 of s.
func hashForLogging(s string) string {
	if s == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
