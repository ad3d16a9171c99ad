package email

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/models"
)

const bookingEmailTimeout = 5 * time.Second

// Directory resolves the names shown in booking emails.
type Directory interface {
	GetClub(ctx context.Context, id int64) (models.Club, error)
	GetCourt(ctx context.Context, id int64) (models.Court, error)
}

// Notifier emails the booking's contact address. Sends run in the
// background; Wait blocks until they finish.
type Notifier struct {
	sender    Sender
	directory Directory
	from      string
	wg        sync.WaitGroup
}

var _ booking.Notifier = (*Notifier)(nil)

func NewNotifier(sender Sender, directory Directory, from string) *Notifier {
	return &Notifier{sender: sender, directory: directory, from: from}
}

func (n *Notifier) BookingConfirmed(ctx context.Context, b models.Booking) error {
	n.send(ctx, b, BuildConfirmationEmail(n.details(ctx, b, true)), "confirmation")
	return nil
}

func (n *Notifier) BookingCancelled(ctx context.Context, b models.Booking) error {
	n.send(ctx, b, BuildCancellationEmail(n.details(ctx, b, false)), "cancellation")
	return nil
}

// Wait blocks until every queued email has been attempted.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) send(ctx context.Context, b models.Booking, message Message, kind string) {
	if n == nil || n.sender == nil {
		return
	}
	logger := log.Ctx(ctx).With().Int64("booking_id", b.ID).Str("email_kind", kind).Logger()

	recipient := strings.TrimSpace(b.ContactEmail)
	if recipient == "" {
		logger.Debug().Msg("Booking has no contact email, skipped")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := newEmailContext(ctx, bookingEmailTimeout)
		defer cancel()
		err := n.sender.Deliver(sendCtx, Envelope{
			To:      recipient,
			From:    n.from,
			Subject: message.Subject,
			Body:    message.Body,
			Tags:    map[string]string{"booking_id": strconv.FormatInt(b.ID, 10), "email_kind": kind},
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to send booking email")
			return
		}
		logger.Info().Msg("Booking email sent")
	}()
}

func (n *Notifier) details(ctx context.Context, b models.Booking, withPrice bool) BookingDetails {
	details := BookingDetails{BookingID: b.ID}
	loc := time.UTC

	if n.directory != nil {
		if club, err := n.directory.GetClub(ctx, b.ClubID); err == nil {
			details.ClubName = club.Name
			if clubLoc, err := club.Location(); err == nil {
				loc = clubLoc
			}
		} else {
			log.Ctx(ctx).Warn().Err(err).Int64("club_id", b.ClubID).Msg("Failed to load club for booking email")
		}
		if court, err := n.directory.GetCourt(ctx, b.CourtID); err == nil {
			details.CourtName = court.Name
		} else {
			log.Ctx(ctx).Warn().Err(err).Int64("court_id", b.CourtID).Msg("Failed to load court for booking email")
		}
	}

	details.Date, details.TimeRange = FormatDateTimeRange(b.Start.In(loc), b.End.In(loc))
	if withPrice {
		details.Price = apiutil.FormatPriceCents(b.PriceCents)
	}
	return details
}
