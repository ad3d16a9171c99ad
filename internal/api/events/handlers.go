// internal/api/events/handlers.go
package events

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/realtime"
	"github.com/codr1/courtside/internal/request"
)

type handlerDeps struct {
	service   *booking.Service
	queries   *db.Queries
	registry  *realtime.Registry
	policy    realtime.RoomPolicy
	keepAlive time.Duration
}

var (
	deps     *handlerDeps
	depsOnce sync.Once
)

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(svc *booking.Service, queries *db.Queries, registry *realtime.Registry, policy realtime.RoomPolicy, keepAlive time.Duration) {
	if svc == nil || queries == nil || registry == nil {
		return
	}
	depsOnce.Do(func() {
		deps = &handlerDeps{
			service:   svc,
			queries:   queries,
			registry:  registry,
			policy:    policy,
			keepAlive: keepAlive,
		}
	})
}

// GET /api/v1/events?club_id=
func HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	d := deps
	if d == nil {
		logger.Error().Msg("Event handlers not initialized")
		apiutil.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}

	clubID, present, ok := request.ClubIDFromRequest(r)
	if present && !ok {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: request.ClubIDKey, Reason: "must be a positive integer"}, "Invalid club_id")
		return
	}

	membership := realtime.Membership{ClubID: clubID, Root: authz.IsRoot(user)}
	if clubID > 0 {
		authorized, err := d.canWatch(ctx, user, clubID)
		if err != nil {
			apiutil.WriteError(w, r, err, "Failed to load club")
			return
		}
		membership.Authorized = authorized
	} else if d.policy.LegacyJoinAllClubs {
		clubs, err := d.accessibleClubs(ctx, user)
		if err != nil {
			apiutil.WriteError(w, r, err, "Failed to list accessible clubs")
			return
		}
		membership.AccessibleClubs = clubs
	}

	rooms, err := d.policy.Rooms(membership)
	switch {
	case errors.Is(err, realtime.ErrClubRequired):
		apiutil.WriteError(w, r, apiutil.FieldError{Field: request.ClubIDKey, Reason: "is required"}, "Missing club_id")
		return
	case errors.Is(err, realtime.ErrClubForbidden):
		logger.Warn().Int64("club_id", clubID).Msg("Event stream access denied")
		apiutil.WriteJSONError(w, http.StatusForbidden, "Forbidden")
		return
	case err != nil:
		apiutil.WriteError(w, r, err, "Failed to resolve event rooms")
		return
	}

	conn, err := d.registry.Connect(user.ID, rooms)
	if err != nil {
		logger.Warn().Err(err).Msg("Event registry refused connection")
		apiutil.WriteJSONError(w, http.StatusServiceUnavailable, "Event stream unavailable")
		return
	}
	defer d.registry.Disconnect(conn)

	// The server's write timeout would cut the stream off.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Debug().Err(err).Msg("Failed to clear write deadline")
	}

	streamLogger := logger.With().Str("connection_id", conn.ID).Strs("rooms", rooms).Logger()
	streamLogger.Info().Msg("Event stream opened")
	if err := realtime.Stream(streamLogger.WithContext(ctx), w, conn, d.keepAlive); err != nil {
		if errors.Is(err, realtime.ErrStreamingUnsupported) {
			apiutil.WriteJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
			return
		}
		streamLogger.Debug().Err(err).Msg("Event stream write failed")
	}
	streamLogger.Info().Msg("Event stream closed")
}

// canWatch reports whether user may join clubID's room. Unknown clubs are
// reported as forbidden.
func (d *handlerDeps) canWatch(ctx context.Context, user *authz.AuthUser, clubID int64) (bool, error) {
	club, err := d.service.Club(ctx, clubID)
	if errors.Is(err, booking.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return authz.CanAccessClub(user, club.ID, club.OrganizationID), nil
}

func (d *handlerDeps) accessibleClubs(ctx context.Context, user *authz.AuthUser) ([]int64, error) {
	if authz.IsRoot(user) {
		return d.queries.ListClubIDs(ctx)
	}

	seen := make(map[int64]struct{})
	var clubs []int64
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		clubs = append(clubs, id)
	}

	for _, id := range user.ClubIDs {
		add(id)
	}
	for _, orgID := range user.OrganizationIDs {
		ids, err := d.queries.ListClubIDsForOrganization(ctx, orgID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			add(id)
		}
	}
	return clubs, nil
}
