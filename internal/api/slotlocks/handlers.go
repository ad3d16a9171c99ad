// internal/api/slotlocks/handlers.go
package slotlocks

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/locks"
	"github.com/codr1/courtside/internal/ratelimit"
)

type handlerDeps struct {
	service    *booking.Service
	limiter    *ratelimit.Limiter
	trustProxy bool
}

var (
	deps     *handlerDeps
	depsOnce sync.Once
)

type lockRequest struct {
	CourtID int64  `json:"courtId"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// InitHandlers must be called during server startup before handling requests.
// limiter may be nil to disable throttling.
func InitHandlers(svc *booking.Service, limiter *ratelimit.Limiter, trustProxy bool) {
	if svc == nil {
		return
	}
	depsOnce.Do(func() {
		deps = &handlerDeps{service: svc, limiter: limiter, trustProxy: trustProxy}
	})
}

func loadDeps() *handlerDeps {
	return deps
}

// POST /api/v1/locks
func HandleAcquire(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	d := loadDeps()
	if d == nil {
		logger.Error().Msg("Lock handlers not initialized")
		apiutil.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}

	ip := ratelimit.GetClientIP(r, d.trustProxy)
	if d.limiter != nil {
		if result := d.limiter.CheckLockAttempt(user.ID, ip); !result.Allowed {
			ratelimit.LogRateLimitExceeded("lock_acquire", user.ID, ip, result.Reason)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			apiutil.WriteJSONError(w, http.StatusTooManyRequests, "Too many lock attempts, try again later")
			return
		}
	}

	var req lockRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CourtID <= 0 {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "courtId", Reason: "must be greater than 0"}, "Invalid court")
		return
	}
	start, end, err := apiutil.ParseRange(req.Start, req.End)
	if err != nil {
		apiutil.WriteError(w, r, err, "Invalid range")
		return
	}

	if d.limiter != nil {
		d.limiter.RecordLockAttempt(user.ID, ip)
	}

	lock, err := d.service.AcquireLock(r.Context(), user.ID, req.CourtID, start, end)
	if err != nil {
		if _, ok := locks.AsConflict(err); ok && d.limiter != nil {
			if d.limiter.RecordConflict(user.ID) {
				ratelimit.LogRateLimitExceeded("lock_conflict", user.ID, ip, "conflict_cooldown")
			}
		}
		apiutil.WriteError(w, r, err, "Failed to acquire lock")
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusCreated, lock); err != nil {
		logger.Error().Err(err).Msg("Failed to write lock response")
	}
}

// DELETE /api/v1/locks/{token}
func HandleRelease(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	d := loadDeps()
	if d == nil {
		logger.Error().Msg("Lock handlers not initialized")
		apiutil.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}
	token := strings.TrimSpace(r.PathValue("token"))
	if token == "" {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "token", Reason: "is required"}, "Missing token")
		return
	}

	if err := d.service.ReleaseLock(r.Context(), user.ID, token); err != nil {
		apiutil.WriteError(w, r, err, "Failed to release lock")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/locks/{token}/extend
func HandleExtend(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	d := loadDeps()
	if d == nil {
		logger.Error().Msg("Lock handlers not initialized")
		apiutil.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}
	token := strings.TrimSpace(r.PathValue("token"))
	if token == "" {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "token", Reason: "is required"}, "Missing token")
		return
	}

	lock, err := d.service.ExtendLock(r.Context(), user.ID, token)
	if errors.Is(err, locks.ErrLockNotHeld) {
		// Expired or foreign: the slot may already be someone else's.
		err = &locks.ConflictError{Reason: locks.ReasonLocked, Err: locks.ErrLockNotHeld}
	}
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to extend lock")
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, lock); err != nil {
		logger.Error().Err(err).Msg("Failed to write lock response")
	}
}
