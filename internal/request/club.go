package request

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/htmx"
)

const ClubIDKey = "club_id"

// ParseClubID parses a positive int64 club ID from a query value.
func ParseClubID(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	clubID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || clubID <= 0 {
		return 0, false
	}

	return clubID, true
}

// ClubIDFromRequest parses club_id from the query or HX-Current-URL header.
// present reports whether any club_id was supplied, valid or not.
func ClubIDFromRequest(r *http.Request) (clubID int64, present bool, ok bool) {
	if raw := r.URL.Query().Get(ClubIDKey); strings.TrimSpace(raw) != "" {
		id, ok := ParseClubID(raw)
		return id, true, ok
	}

	currentURL := htmx.CurrentURL(r)
	if currentURL == "" {
		return 0, false, false
	}

	parsed, err := url.Parse(currentURL)
	if err != nil {
		log.Ctx(r.Context()).
			Debug().
			Err(err).
			Str("hx_current_url", currentURL).
			Msg("Failed to parse HX-Current-URL")
		return 0, false, false
	}

	raw := parsed.Query().Get(ClubIDKey)
	if strings.TrimSpace(raw) == "" {
		return 0, false, false
	}
	id, ok := ParseClubID(raw)
	return id, true, ok
}
