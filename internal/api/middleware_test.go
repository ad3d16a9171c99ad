package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/codr1/courtside/internal/api/auth"
	"github.com/codr1/courtside/internal/api/authz"
)

func TestChainMiddleware_LastIsOutermost(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := ChainMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mark("inner"), mark("outer"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("order: %v", order)
	}
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" || recorder.Header().Get("X-Request-ID") != seen {
		t.Fatalf("request id: ctx=%q header=%q", seen, recorder.Header().Get("X-Request-ID"))
	}
}

func TestWithRecovery(t *testing.T) {
	h := WithRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", recorder.Code)
	}
}

func TestWithAuth(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")
	token, err := verifier.Issue(authz.AuthUser{ID: "user-a", ClubIDs: []int64{3}}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got *authz.AuthUser
	h := WithAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = authz.UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
		userID string
	}{
		{"valid token", "Bearer " + token, http.StatusNoContent, "user-a"},
		{"anonymous", "", http.StatusNoContent, ""},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			recorder := httptest.NewRecorder()
			h.ServeHTTP(recorder, req)

			if recorder.Code != tt.want {
				t.Fatalf("status: %d", recorder.Code)
			}
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.userID {
				t.Fatalf("user: %q", gotID)
			}
		})
	}
}

func TestWithTracing_RecordsServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	h := WithTracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/availability", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans: %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /api/v1/availability" {
		t.Fatalf("span name: %q", span.Name())
	}
	if span.Status().Code.String() != "Error" {
		t.Fatalf("span status: %v", span.Status())
	}
}

func TestResponseWriter_FlushPassesThrough(t *testing.T) {
	recorder := httptest.NewRecorder()
	wrapped := wrapResponseWriter(recorder)

	var w http.ResponseWriter = wrapped
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatalf("wrapper does not implement http.Flusher")
	}
	flusher.Flush()

	if !recorder.Flushed || wrapped.Status() != http.StatusOK {
		t.Fatalf("flushed=%v status=%d", recorder.Flushed, wrapped.Status())
	}
}
