package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanebird/inbox-ai-platform/internal/audit"
	"github.com/lanebird/inbox-ai-platform/internal/http/handlers"
	"github.com/lanebird/inbox-ai-platform/internal/queue"
)

type emptyDeadLetters struct{}

func (emptyDeadLetters) Store(context.Context, audit.DeadLetter) error { return nil }
func (emptyDeadLetters) List(context.Context, string, int) ([]audit.DeadLetter, error) {
	return nil, nil
}
func (emptyDeadLetters) Get(context.Context, string) (*audit.DeadLetter, error) {
	return nil, audit.ErrDeadLetterNotFound
}
func (emptyDeadLetters) Delete(context.Context, string) error { return audit.ErrDeadLetterNotFound }

func newTestTriageHandler(t *testing.T) *handlers.AdminTriageHandler {
	t.Helper()
	return handlers.NewAdminTriageHandler(emptyDeadLetters{}, queue.NewMemoryQueue(), nil, nil, nil, nil)
}

func TestHealthIsPublic(t *testing.T) {
	r := New(Config{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsIsPublic(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(Config{MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdminRoutesRequireJWT(t *testing.T) {
	r := New(Config{AdminAuthSecret: "secret", Triage: newTestTriageHandler(t)})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/deadletters?workspace_id=ws-1", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminRoutesAcceptSignedToken(t *testing.T) {
	r := New(Config{AdminAuthSecret: "secret", Triage: newTestTriageHandler(t)})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/deadletters?workspace_id=ws-1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}
