package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/config"
	"github.com/codr1/courtside/internal/testutil"
)

// NOTE: newApp initializes package-level handler state once per process, so
// everything that needs a running app lives in TestServerStartup.

func TestServerStartup(t *testing.T) {
	dbPath := filepath.ToSlash(filepath.Join(t.TempDir(), "db", "smoke.db"))
	cfg, err := config.Parse([]byte(fmt.Sprintf(`app:
  name: courtside
  environment: development
  port: 8080
database:
  driver: sqlite
  filename: %q
`, dbPath)))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)

	fx := testutil.SeedClub(t, a.db, "smoke", 8, 20)
	ts := httptest.NewServer(newServer(cfg, a).Handler)
	t.Cleanup(ts.Close)

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("get health: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || string(body) != "OK" {
			t.Fatalf("health: %d %q", resp.StatusCode, body)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("missing request id header")
		}
	})

	tomorrow := time.Now().UTC().Add(24 * time.Hour)
	start := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 10, 0, 0, 0, time.UTC)
	lockBody := fmt.Sprintf(`{"courtId":%d,"start":%q,"end":%q}`,
		fx.CourtID, start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339))

	postLock := func(t *testing.T, token string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/locks", strings.NewReader(lockBody))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post lock: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("anonymous lock", func(t *testing.T) {
		if code := postLock(t, ""); code != http.StatusUnauthorized {
			t.Fatalf("status: %d", code)
		}
	})

	t.Run("authenticated lock", func(t *testing.T) {
		token, err := a.verifier.Issue(authz.AuthUser{ID: "smoke-user"}, time.Minute)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		if code := postLock(t, token); code != http.StatusCreated {
			t.Fatalf("status: %d", code)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/nope")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status: %d", resp.StatusCode)
		}
	})
}
