package availability

// NOTE: Tests cannot use t.Parallel() due to shared package state.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/codr1/courtside/internal/api/apitest"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/testutil"
)

func setupAvailabilityTest(t *testing.T) *apitest.Env {
	t.Helper()

	env := apitest.NewEnv(t)

	service = nil
	serviceOnce = sync.Once{}
	InitHandlers(env.Service)

	t.Cleanup(func() {
		service = nil
		serviceOnce = sync.Once{}
	})

	return env
}

func availabilityURL(env *apitest.Env, date string) string {
	return fmt.Sprintf("/api/v1/availability?club_id=%d&court_id=%d&date=%s",
		env.Fixture.ClubID, env.Fixture.CourtID, date)
}

func TestHandleAvailability_JSON(t *testing.T) {
	env := setupAvailabilityTest(t)
	testutil.InsertBooking(t, env.DB, env.Fixture.CourtID, "user-b", apitest.At(10), apitest.At(11), "paid")
	if _, err := env.Service.AcquireLock(context.Background(), "user-c", env.Fixture.CourtID, apitest.At(11), apitest.At(12)); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, availabilityURL(env, apitest.Day), nil)
	recorder := httptest.NewRecorder()

	HandleAvailability(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type: %s", recorder.Header().Get("Content-Type"))
	}

	var view booking.Availability
	if err := json.Unmarshal(recorder.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Open || *view.OpenHour != 8 || *view.CloseHour != 20 {
		t.Fatalf("unexpected hours: %+v", view)
	}
	want := []booking.SlotState{booking.SlotAvailable, booking.SlotBooked, booking.SlotLocked, booking.SlotAvailable}
	if len(view.Ranges) != len(want) {
		t.Fatalf("ranges: %+v", view.Ranges)
	}
	for i, state := range want {
		if view.Ranges[i].State != state {
			t.Fatalf("range %d: got %s want %s", i, view.Ranges[i].State, state)
		}
	}
}

func TestHandleAvailability_ClosedSpecialDate(t *testing.T) {
	env := setupAvailabilityTest(t)
	testutil.InsertSpecialDate(t, env.DB, env.Fixture.ClubID, apitest.Day, nil, nil, true)

	req := httptest.NewRequest(http.MethodGet, availabilityURL(env, apitest.Day), nil)
	recorder := httptest.NewRecorder()

	HandleAvailability(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status: %d", recorder.Code)
	}
	var view booking.Availability
	if err := json.Unmarshal(recorder.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Open || len(view.Ranges) != 0 || view.Reason == "" {
		t.Fatalf("expected closed day, got %+v", view)
	}
}

func TestHandleAvailability_HTMXFragment(t *testing.T) {
	env := setupAvailabilityTest(t)
	testutil.InsertBooking(t, env.DB, env.Fixture.CourtID, "user-b", apitest.At(10), apitest.At(11), "paid")

	req := httptest.NewRequest(http.MethodGet, availabilityURL(env, apitest.Day), nil)
	req.Header.Set("HX-Request", "true")
	recorder := httptest.NewRecorder()

	HandleAvailability(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status: %d", recorder.Code)
	}
	if recorder.Header().Get("Content-Type") != "text/html" {
		t.Fatalf("content type: %s", recorder.Header().Get("Content-Type"))
	}
	body := recorder.Body.String()
	for _, want := range []string{"08:00 - 20:00", `class="slot" data-state="booked"`, "10:00 - 11:00", `class="slot" data-state="available"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("fragment missing %q: %s", want, body)
		}
	}
}

func TestHandleAvailability_BadRequests(t *testing.T) {
	env := setupAvailabilityTest(t)

	tests := map[string]string{
		"missing club":  fmt.Sprintf("/api/v1/availability?court_id=%d&date=%s", env.Fixture.CourtID, apitest.Day),
		"missing court": fmt.Sprintf("/api/v1/availability?club_id=%d&date=%s", env.Fixture.ClubID, apitest.Day),
		"missing date":  fmt.Sprintf("/api/v1/availability?club_id=%d&court_id=%d", env.Fixture.ClubID, env.Fixture.CourtID),
		"bad date":      availabilityURL(env, "06-05-2026"),
	}
	for name, target := range tests {
		t.Run(name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			HandleAvailability(recorder, httptest.NewRequest(http.MethodGet, target, nil))
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("status: %d body: %s", recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestHandleAvailability_UnknownClubIsClosed(t *testing.T) {
	env := setupAvailabilityTest(t)

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/availability?club_id=9999&court_id=%d&date=%s", env.Fixture.CourtID, apitest.Day), nil)
	recorder := httptest.NewRecorder()

	HandleAvailability(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status: %d", recorder.Code)
	}
	var view booking.Availability
	if err := json.Unmarshal(recorder.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Open {
		t.Fatalf("unknown club should be closed: %+v", view)
	}
}
