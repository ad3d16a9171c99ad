// internal/api/bookings/handlers.go
package bookings

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/models"
)

var (
	service     *booking.Service
	serviceOnce sync.Once
)

type createBookingRequest struct {
	LockToken    string  `json:"lockToken"`
	CourtID      int64   `json:"courtId"`
	Start        string  `json:"start"`
	End          string  `json:"end"`
	CoachID      *string `json:"coachId,omitempty"`
	ContactEmail string  `json:"contactEmail,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(svc *booking.Service) {
	if svc == nil {
		return
	}
	serviceOnce.Do(func() {
		service = svc
	})
}

func loadService(w http.ResponseWriter, r *http.Request) *booking.Service {
	if service == nil {
		log.Ctx(r.Context()).Error().Msg("Booking service not initialized")
		apiutil.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
	}
	return service
}

// POST /api/v1/bookings
func HandleCreateBooking(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	svc := loadService(w, r)
	if svc == nil {
		return
	}
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}

	var req createBookingRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.LockToken) == "" {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "lockToken", Reason: "is required"}, "Missing lock token")
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
	if req.CoachID != nil && strings.TrimSpace(*req.CoachID) == "" {
		req.CoachID = nil
	}
	contact := strings.TrimSpace(req.ContactEmail)
	if contact == "" {
		contact = user.Email
	}

	b, err := svc.CreateBooking(r.Context(), booking.CreateBookingRequest{
		HolderID:     user.ID,
		ContactEmail: contact,
		LockToken:    strings.TrimSpace(req.LockToken),
		CourtID:      req.CourtID,
		Start:        start,
		End:          end,
		CoachID:      req.CoachID,
	})
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to create booking")
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusCreated, booking.NewBookingView(b, svc.Now())); err != nil {
		logger.Error().Err(err).Msg("Failed to write booking response")
	}
}

// GET /api/v1/bookings/{id}
func HandleGetBooking(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	svc := loadService(w, r)
	if svc == nil {
		return
	}
	b, ok := loadVisibleBooking(w, r, svc)
	if !ok {
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, booking.NewBookingView(b, svc.Now())); err != nil {
		logger.Error().Err(err).Msg("Failed to write booking response")
	}
}

// POST /api/v1/bookings/{id}/cancel
func HandleCancelBooking(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	svc := loadService(w, r)
	if svc == nil {
		return
	}
	current, ok := loadVisibleBooking(w, r, svc)
	if !ok {
		return
	}

	b, err := svc.CancelBooking(r.Context(), current.ID)
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to cancel booking")
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, booking.NewBookingView(b, svc.Now())); err != nil {
		logger.Error().Err(err).Msg("Failed to write booking response")
	}
}

// POST /api/v1/bookings/{id}/status
func HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	svc := loadService(w, r)
	if svc == nil {
		return
	}
	if apiutil.RequireUser(w, r) == nil {
		return
	}
	id, err := apiutil.PathID(r, "id")
	if err != nil {
		apiutil.WriteError(w, r, err, "Invalid booking id")
		return
	}

	var req statusRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	status, err := models.ParseBookingStatus(strings.TrimSpace(req.Status))
	if err != nil {
		apiutil.WriteError(w, r, err, "Invalid status")
		return
	}

	current, err := svc.GetBooking(r.Context(), id)
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to load booking")
		return
	}
	club, err := svc.Club(r.Context(), current.ClubID)
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to load club")
		return
	}
	if !apiutil.RequireClubAccess(w, r, club) {
		return
	}

	b, err := svc.UpdateStatus(r.Context(), id, status)
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to update booking status")
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, booking.NewBookingView(b, svc.Now())); err != nil {
		logger.Error().Err(err).Msg("Failed to write booking response")
	}
}

// loadVisibleBooking loads {id} for its requester or the club's staff.
// Anyone else gets a 404 so booking ids cannot be enumerated.
func loadVisibleBooking(w http.ResponseWriter, r *http.Request, svc *booking.Service) (models.Booking, bool) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return models.Booking{}, false
	}
	id, err := apiutil.PathID(r, "id")
	if err != nil {
		apiutil.WriteError(w, r, err, "Invalid booking id")
		return models.Booking{}, false
	}

	b, err := svc.GetBooking(r.Context(), id)
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to load booking")
		return models.Booking{}, false
	}
	if b.RequesterID == user.ID {
		return b, true
	}
	if canManage(r.Context(), svc, user, b) {
		return b, true
	}

	log.Ctx(r.Context()).Warn().Int64("booking_id", id).Msg("Booking access denied")
	apiutil.WriteJSONError(w, http.StatusNotFound, "Not found")
	return models.Booking{}, false
}

func canManage(ctx context.Context, svc *booking.Service, user *authz.AuthUser, b models.Booking) bool {
	if authz.IsRoot(user) {
		return true
	}
	club, err := svc.Club(ctx, b.ClubID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("club_id", b.ClubID).Msg("Failed to load club for booking access check")
		return false
	}
	return authz.CanAccessClub(user, club.ID, club.OrganizationID)
}
