package security

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if len(id1) != 22 {
		t.Errorf("len = %d, want 22", len(id1))
	}
	if id1 == id2 {
		t.Error("expected unique request ids")
	}
	if !requestIDPattern.MatchString(id1) {
		t.Errorf("generated id %q does not match the accepted pattern", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want req-123", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID(empty) = %q, want empty", got)
	}
}

func TestLoggerWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerWithRequestID(WithRequestID(context.Background(), "abc"), logger).Info("hello")
	if !strings.Contains(buf.String(), "request_id=abc") {
		t.Errorf("log line %q is missing request_id", buf.String())
	}

	if LoggerWithRequestID(context.Background(), logger) != logger {
		t.Error("expected the same logger without a request id")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		keep     bool
	}{
		{name: "missing id", upstream: "", keep: false},
		{name: "valid upstream id", upstream: "upstream-request-id_1", keep: true},
		{name: "CRLF injection", upstream: "id\r\nX-Injected: evil", keep: false},
		{name: "spaces", upstream: "id with spaces", keep: false},
		{name: "too long", upstream: strings.Repeat("a", 129), keep: false},
		{name: "markup", upstream: "<script>alert(1)</script>", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/", nil)
			if tt.upstream != "" {
				req.Header[RequestIDHeader] = []string{tt.upstream}
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if seen == "" {
				t.Fatal("handler saw no request id")
			}
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response id %q != context id %q", got, seen)
			}
			if tt.keep && seen != tt.upstream {
				t.Errorf("request id = %q, want upstream %q", seen, tt.upstream)
			}
			if !tt.keep && seen == tt.upstream {
				t.Errorf("invalid upstream id %q was kept", tt.upstream)
			}
		})
	}
}
