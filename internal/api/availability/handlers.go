// internal/api/availability/handlers.go
package availability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/api/htmx"
	"github.com/codr1/courtside/internal/booking"
	availabilitytempl "github.com/codr1/courtside/internal/templates/components/availability"
)

const availabilityQueryTimeout = 5 * time.Second

var (
	service     *booking.Service
	serviceOnce sync.Once
)

// InitHandlers must be called during server startup before handling requests.
func InitHandlers(svc *booking.Service) {
	if svc == nil {
		return
	}
	serviceOnce.Do(func() {
		service = svc
	})
}

func loadService() *booking.Service {
	return service
}

// GET /api/v1/availability?club_id=&court_id=&date=YYYY-MM-DD
func HandleAvailability(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	svc := loadService()
	if svc == nil {
		logger.Error().Msg("Booking service not initialized")
		apiutil.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	clubID, err := apiutil.QueryID(r, "club_id")
	if err != nil {
		apiutil.WriteError(w, r, err, "Invalid club_id")
		return
	}
	courtID, err := apiutil.QueryID(r, "court_id")
	if err != nil {
		apiutil.WriteError(w, r, err, "Invalid court_id")
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "date", Reason: "is required"}, "Missing date")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), availabilityQueryTimeout)
	defer cancel()

	view, err := svc.Availability(ctx, clubID, courtID, date)
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to load availability")
		return
	}

	if htmx.IsRequest(r) {
		apiutil.RenderHTMLComponent(r.Context(), w, availabilityFragment(view), nil,
			"Failed to render availability", "Failed to render availability")
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, view); err != nil {
		logger.Error().Err(err).Msg("Failed to write availability response")
	}
}

// availabilityFragment renders the day's ranges for the court calendar.
func availabilityFragment(view booking.Availability) templ.Component {
	data := availabilitytempl.CalendarData{
		CourtID: strconv.FormatInt(view.CourtID, 10),
		Date:    view.Date,
		Open:    view.Open,
		Reason:  view.Reason,
	}
	if view.Open {
		data.Hours = apiutil.FormatHour(view.OpenHour) + " - " + apiutil.FormatHour(view.CloseHour)
		data.Slots = make([]availabilitytempl.SlotData, 0, len(view.Ranges))
		for _, rg := range view.Ranges {
			data.Slots = append(data.Slots, availabilitytempl.SlotData{
				State:      string(rg.State),
				Start:      rg.Start.Format(time.RFC3339),
				End:        rg.End.Format(time.RFC3339),
				StartLabel: rg.Start.Format("15:04"),
				EndLabel:   rg.End.Format("15:04"),
			})
		}
	}
	return availabilitytempl.CourtCalendar(data)
}
