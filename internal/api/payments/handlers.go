// internal/api/payments/handlers.go
package payments

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/booking"
)

const (
	CallbackKeyHeader = "X-Callback-Key"

	// BookingIDMetadataKey is set on Stripe PaymentIntents at checkout.
	BookingIDMetadataKey = "booking_id"

	maxWebhookBytes = int64(65536)
)

type handlerDeps struct {
	service       *booking.Service
	callbackKey   string
	webhookSecret string
}

var (
	deps     *handlerDeps
	depsOnce sync.Once
)

type callbackRequest struct {
	BookingID int64  `json:"bookingId"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type callbackResponse struct {
	Applied bool `json:"applied"`
}

// InitHandlers must be called during server startup before handling requests.
// An empty callbackKey or webhookSecret disables the matching endpoint.
func InitHandlers(svc *booking.Service, callbackKey, webhookSecret string) {
	if svc == nil {
		return
	}
	depsOnce.Do(func() {
		deps = &handlerDeps{service: svc, callbackKey: callbackKey, webhookSecret: webhookSecret}
	})
}

func loadDeps(w http.ResponseWriter, r *http.Request) *handlerDeps {
	if deps == nil {
		log.Ctx(r.Context()).Error().Msg("Payment handlers not initialized")
		apiutil.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
	}
	return deps
}

// POST /api/v1/payments/callback
func HandleCallback(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	d := loadDeps(w, r)
	if d == nil {
		return
	}
	if d.callbackKey == "" {
		apiutil.WriteJSONError(w, http.StatusServiceUnavailable, "Payment callbacks are not configured")
		return
	}
	given := r.Header.Get(CallbackKeyHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(d.callbackKey)) != 1 {
		logger.Warn().Msg("Payment callback with invalid key")
		apiutil.WriteJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req callbackRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var succeeded bool
	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case booking.PaymentSucceeded:
		succeeded = true
	case booking.PaymentFailed:
	default:
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "status", Reason: "must be succeeded or failed"}, "Invalid payment status")
		return
	}

	applied, err := d.service.ApplyPayment(r.Context(), booking.PaymentResult{
		BookingID: req.BookingID,
		Reference: strings.TrimSpace(req.Reference),
		Succeeded: succeeded,
	})
	if err != nil {
		apiutil.WriteError(w, r, err, "Failed to apply payment")
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, callbackResponse{Applied: applied}); err != nil {
		logger.Error().Err(err).Msg("Failed to write payment callback response")
	}
}

// POST /api/v1/payments/stripe/webhook
func HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	d := loadDeps(w, r)
	if d == nil {
		return
	}
	if d.webhookSecret == "" {
		apiutil.WriteJSONError(w, http.StatusServiceUnavailable, "Stripe webhooks are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read Stripe webhook body")
		apiutil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), d.webhookSecret)
	if err != nil {
		logger.Warn().Err(err).Msg("Stripe webhook signature verification failed")
		apiutil.WriteJSONError(w, http.StatusBadRequest, "Invalid signature")
		return
	}
	logger = logger.With().Str("stripe_event_id", event.ID).Str("stripe_event_type", string(event.Type)).Logger()
	ctx := logger.WithContext(r.Context())

	var succeeded bool
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		succeeded = true
	case stripe.EventTypePaymentIntentPaymentFailed:
	default:
		logger.Debug().Msg("Unhandled Stripe event type")
		w.WriteHeader(http.StatusOK)
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		logger.Warn().Err(err).Msg("Failed to parse payment intent")
		apiutil.WriteJSONError(w, http.StatusBadRequest, "Invalid payment intent")
		return
	}
	bookingID, err := strconv.ParseInt(intent.Metadata[BookingIDMetadataKey], 10, 64)
	if err != nil || bookingID <= 0 {
		// Not ours; acknowledge so Stripe stops retrying.
		logger.Warn().Str("payment_intent", intent.ID).Msg("Payment intent without booking id")
		w.WriteHeader(http.StatusOK)
		return
	}

	applied, err := d.service.ApplyPayment(ctx, booking.PaymentResult{
		BookingID: bookingID,
		Reference: intent.ID,
		Succeeded: succeeded,
	})
	if errors.Is(err, booking.ErrNotFound) {
		logger.Warn().Int64("booking_id", bookingID).Msg("Stripe payment for unknown booking")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		apiutil.WriteError(w, r.WithContext(ctx), err, "Failed to apply Stripe payment")
		return
	}

	if err := apiutil.WriteJSON(w, http.StatusOK, callbackResponse{Applied: applied}); err != nil {
		logger.Error().Err(err).Msg("Failed to write webhook response")
	}
}
