package apiutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/locks"
	"github.com/codr1/courtside/internal/models"
)

type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

type HandlerError struct {
	Status  int
	Message string
	Err     error
}

func (e HandlerError) Error() string {
	return e.Message
}

func (e HandlerError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body of every non-2xx API response. Conflict is
// set only for lock and booking contention.
type ErrorResponse struct {
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
	Conflict string `json:"conflict,omitempty"`
}

const maxBodyBytes = 1 << 20

func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if err := encoder.Encode(payload); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

func WriteJSONError(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteError maps domain errors to HTTP responses. Expected contention is
// never a 500; unexpected errors are logged with logMsg.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logMsg string) {
	logger := log.Ctx(r.Context())

	var fieldErr FieldError
	var handlerErr HandlerError
	switch conflict, isConflict := locks.AsConflict(err); {
	case isConflict:
		_ = WriteJSON(w, http.StatusConflict, ErrorResponse{
			Error:    conflict.Err.Error(),
			Conflict: string(conflict.Reason),
		})
	case errors.As(err, &fieldErr):
		_ = WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: fieldErr.Error(), Field: fieldErr.Field})
	case errors.As(err, &handlerErr):
		if handlerErr.Status >= http.StatusInternalServerError {
			logger.Error().Err(handlerErr.Err).Msg(logMsg)
		}
		WriteJSONError(w, handlerErr.Status, handlerErr.Message)
	case errors.Is(err, locks.ErrHolderLimit):
		WriteJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, locks.ErrInvalidLock),
		errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, booking.ErrInvalidDate),
		errors.Is(err, booking.ErrInvalidPayment),
		errors.Is(err, models.ErrUnknownStatus):
		WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrOutsideOpeningHours):
		WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, locks.ErrLockNotHeld):
		WriteJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		WriteJSONError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, models.ErrInvalidTransition):
		WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrUnauthenticated):
		WriteJSONError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, authz.ErrForbidden):
		WriteJSONError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, context.Canceled):
		logger.Debug().Err(err).Msg("Request cancelled")
	default:
		logger.Error().Err(err).Msg(logMsg)
		WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// RequireUser writes 401 and returns nil when the request is anonymous.
func RequireUser(w http.ResponseWriter, r *http.Request) *authz.AuthUser {
	user, err := authz.RequireUser(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Warn().Str("path", r.URL.Path).Msg("Access denied: unauthenticated")
		WriteJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return nil
	}
	return user
}

func RequireClubAccess(w http.ResponseWriter, r *http.Request, club models.Club) bool {
	logger := log.Ctx(r.Context())
	user := authz.UserFromContext(r.Context())
	if err := authz.RequireClubAccess(r.Context(), club.ID, club.OrganizationID); err != nil {
		switch {
		case errors.Is(err, authz.ErrUnauthenticated):
			logger.Warn().Int64("club_id", club.ID).Msg("Club access denied: unauthenticated")
			WriteJSONError(w, http.StatusUnauthorized, "Unauthorized")
		case errors.Is(err, authz.ErrForbidden):
			logEvent := logger.Warn().Int64("club_id", club.ID)
			if user != nil {
				logEvent = logEvent.Str("user_id", user.ID)
			}
			logEvent.Msg("Club access denied: forbidden")
			WriteJSONError(w, http.StatusForbidden, "Forbidden")
		default:
			logger.Error().Int64("club_id", club.ID).Err(err).Msg("Club access denied: error")
			WriteJSONError(w, http.StatusInternalServerError, "Failed to authorize request")
		}
		return false
	}
	return true
}

// RenderHTMLComponent renders component into a buffer first so a template
// failure can still produce a clean 500.
func RenderHTMLComponent(ctx context.Context, w http.ResponseWriter, component templ.Component, headers map[string]string, logMsg, userMsg string) bool {
	var buf bytes.Buffer
	if err := component.Render(ctx, &buf); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg(logMsg)
		http.Error(w, userMsg, http.StatusInternalServerError)
		return false
	}
	for key, value := range headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("Failed to write HTML response")
		return false
	}
	return true
}
