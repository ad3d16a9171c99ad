package bookings

// NOTE: Tests cannot use t.Parallel() due to shared package state.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/api/apitest"
	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/realtime"
	"github.com/codr1/courtside/internal/testutil"
)

func setupBookingsTest(t *testing.T) *apitest.Env {
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

func createBody(token string, courtID int64, start, end time.Time) string {
	return fmt.Sprintf(`{"lockToken":%q,"courtId":%d,"start":%q,"end":%q}`,
		token, courtID, start.Format(time.RFC3339), end.Format(time.RFC3339))
}

func postCreate(t *testing.T, user *authz.AuthUser, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(body))
	req = apitest.AsUser(req, user)
	recorder := httptest.NewRecorder()
	HandleCreateBooking(recorder, req)
	return recorder
}

func withID(req *http.Request, id int64) *http.Request {
	req.SetPathValue("id", strconv.FormatInt(id, 10))
	return req
}

func decodeView(t *testing.T, recorder *httptest.ResponseRecorder) booking.BookingView {
	t.Helper()
	var view booking.BookingView
	if err := json.Unmarshal(recorder.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode booking: %v", err)
	}
	return view
}

func TestHandleCreateBooking(t *testing.T) {
	env := setupBookingsTest(t)
	ctx := context.Background()

	lock, err := env.Service.AcquireLock(ctx, "user-a", env.Fixture.CourtID, apitest.At(14), apitest.At(15))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	recorder := postCreate(t, apitest.Player("user-a"), createBody(lock.Token, env.Fixture.CourtID, apitest.At(14), apitest.At(15)))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("status: %d %s", recorder.Code, recorder.Body.String())
	}
	view := decodeView(t, recorder)
	if view.Status != models.StatusPending || view.DisplayStatus != models.StatusPending {
		t.Fatalf("unexpected status: %+v", view)
	}
	if view.ClubID != env.Fixture.ClubID || view.RequesterID != "user-a" || view.PriceCents != 2500 {
		t.Fatalf("unexpected booking: %+v", view)
	}

	created := env.Sink.OfType(realtime.EventBookingCreated)
	if len(created) != 1 || created[0].ClubID != env.Fixture.ClubID {
		t.Fatalf("booking_created events: %+v", created)
	}

	// The lock was consumed; replaying it is a stale-lock conflict.
	replay := postCreate(t, apitest.Player("user-a"), createBody(lock.Token, env.Fixture.CourtID, apitest.At(14), apitest.At(15)))
	if replay.Code != http.StatusConflict {
		t.Fatalf("replay: %d", replay.Code)
	}
}

func TestHandleCreateBooking_StaleOrForeignLock(t *testing.T) {
	env := setupBookingsTest(t)
	ctx := context.Background()

	lock, err := env.Service.AcquireLock(ctx, "user-a", env.Fixture.CourtID, apitest.At(14), apitest.At(15))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	foreign := postCreate(t, apitest.Player("user-b"), createBody(lock.Token, env.Fixture.CourtID, apitest.At(14), apitest.At(15)))
	if foreign.Code != http.StatusConflict {
		t.Fatalf("foreign token: %d", foreign.Code)
	}

	widened := postCreate(t, apitest.Player("user-a"), createBody(lock.Token, env.Fixture.CourtID, apitest.At(14), apitest.At(16)))
	if widened.Code != http.StatusConflict {
		t.Fatalf("different range: %d", widened.Code)
	}

	env.Clock.Advance(5*time.Minute + time.Second)
	stale := postCreate(t, apitest.Player("user-a"), createBody(lock.Token, env.Fixture.CourtID, apitest.At(14), apitest.At(15)))
	if stale.Code != http.StatusConflict {
		t.Fatalf("stale lock: %d", stale.Code)
	}
	var body apiutil.ErrorResponse
	if err := json.Unmarshal(stale.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Conflict != "locked" {
		t.Fatalf("conflict: %q", body.Conflict)
	}
}

func TestHandleCreateBooking_Validation(t *testing.T) {
	env := setupBookingsTest(t)

	tests := map[string]string{
		"missing token":  createBody("", env.Fixture.CourtID, apitest.At(14), apitest.At(15)),
		"missing court":  createBody("tok", 0, apitest.At(14), apitest.At(15)),
		"reversed range": createBody("tok", env.Fixture.CourtID, apitest.At(15), apitest.At(14)),
		"bad json":       `{"lockToken":`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if recorder := postCreate(t, apitest.Player("user-a"), body); recorder.Code != http.StatusBadRequest {
				t.Fatalf("status: %d", recorder.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(createBody("tok", env.Fixture.CourtID, apitest.At(14), apitest.At(15))))
	recorder := httptest.NewRecorder()
	HandleCreateBooking(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", recorder.Code)
	}
}

func TestHandleGetBooking_Visibility(t *testing.T) {
	env := setupBookingsTest(t)
	id := testutil.InsertBooking(t, env.DB, env.Fixture.CourtID, "user-a", apitest.At(9), apitest.At(10), "paid")
	env.Clock.Advance(30 * time.Minute)

	get := func(user *authz.AuthUser) *httptest.ResponseRecorder {
		req := withID(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", id), nil), id)
		req = apitest.AsUser(req, user)
		recorder := httptest.NewRecorder()
		HandleGetBooking(recorder, req)
		return recorder
	}

	owner := get(apitest.Player("user-a"))
	if owner.Code != http.StatusOK {
		t.Fatalf("owner: %d", owner.Code)
	}
	if view := decodeView(t, owner); view.DisplayStatus != models.StatusInProgress || view.Status != models.StatusPaid {
		t.Fatalf("unexpected view: %+v", view)
	}

	if recorder := get(apitest.Player("user-b")); recorder.Code != http.StatusNotFound {
		t.Fatalf("stranger: %d", recorder.Code)
	}
	if recorder := get(apitest.ClubAdmin("admin", env.Fixture.ClubID)); recorder.Code != http.StatusOK {
		t.Fatalf("club admin: %d", recorder.Code)
	}
	if recorder := get(apitest.ClubAdmin("admin", env.Fixture.ClubID+1)); recorder.Code != http.StatusNotFound {
		t.Fatalf("other club admin: %d", recorder.Code)
	}
	if recorder := get(&authz.AuthUser{ID: "root", IsRoot: true}); recorder.Code != http.StatusOK {
		t.Fatalf("root: %d", recorder.Code)
	}

	req := withID(httptest.NewRequest(http.MethodGet, "/api/v1/bookings/99999", nil), 99999)
	req = apitest.AsUser(req, apitest.Player("user-a"))
	recorder := httptest.NewRecorder()
	HandleGetBooking(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", recorder.Code)
	}
}

func TestHandleCancelBooking(t *testing.T) {
	env := setupBookingsTest(t)
	id := testutil.InsertBooking(t, env.DB, env.Fixture.CourtID, "user-a", apitest.At(14), apitest.At(15), "paid")

	cancel := func() *httptest.ResponseRecorder {
		req := withID(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", id), nil), id)
		req = apitest.AsUser(req, apitest.Player("user-a"))
		recorder := httptest.NewRecorder()
		HandleCancelBooking(recorder, req)
		return recorder
	}

	recorder := cancel()
	if recorder.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", recorder.Code, recorder.Body.String())
	}
	if view := decodeView(t, recorder); view.Status != models.StatusCancelled {
		t.Fatalf("status: %s", view.Status)
	}
	if n := len(env.Sink.OfType(realtime.EventBookingCancelled)); n != 1 {
		t.Fatalf("booking_cancelled events: %d", n)
	}

	if recorder := cancel(); recorder.Code != http.StatusConflict {
		t.Fatalf("second cancel: %d", recorder.Code)
	}
}

func TestHandleUpdateStatus(t *testing.T) {
	env := setupBookingsTest(t)
	id := testutil.InsertBooking(t, env.DB, env.Fixture.CourtID, "user-a", apitest.At(14), apitest.At(15), "paid")

	update := func(user *authz.AuthUser, status string) *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{"status":%q}`, status)
		req := withID(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/status", id), strings.NewReader(body)), id)
		req = apitest.AsUser(req, user)
		recorder := httptest.NewRecorder()
		HandleUpdateStatus(recorder, req)
		return recorder
	}

	admin := apitest.ClubAdmin("admin", env.Fixture.ClubID)

	if recorder := update(apitest.Player("user-a"), "confirmed"); recorder.Code != http.StatusForbidden {
		t.Fatalf("player: %d", recorder.Code)
	}
	if recorder := update(admin, "bogus"); recorder.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: %d", recorder.Code)
	}
	if recorder := update(admin, "completed"); recorder.Code != http.StatusConflict {
		t.Fatalf("completed is sweep-only: %d", recorder.Code)
	}

	recorder := update(admin, "confirmed")
	if recorder.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", recorder.Code, recorder.Body.String())
	}
	if view := decodeView(t, recorder); view.Status != models.StatusConfirmed {
		t.Fatalf("status: %s", view.Status)
	}

	if recorder := update(admin, "reserved"); recorder.Code != http.StatusConflict {
		t.Fatalf("confirmed -> reserved: %d", recorder.Code)
	}
	if n := len(env.Sink.OfType(realtime.EventBookingUpdated)); n != 1 {
		t.Fatalf("booking_updated events: %d", n)
	}
}
