package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/booking"
)

const (
	KeyPaymentPaid   = "payment.paid"
	KeyPaymentFailed = "payment.failed"

	defaultPrefetch = 8
)

// PaymentApplier is satisfied by *booking.Service.
type PaymentApplier interface {
	ApplyPayment(ctx context.Context, p booking.PaymentResult) (bool, error)
}

// PaymentMessage is the body of payment.paid and payment.failed messages.
type PaymentMessage struct {
	BookingID int64  `json:"bookingId"`
	Reference string `json:"reference"`
}

type disposition int

const (
	ack disposition = iota
	requeue
	reject
)

// PaymentConsumer applies payment results published by the payment
// provider integration.
type PaymentConsumer struct {
	applier  PaymentApplier
	queue    string
	conn     *amqp.Connection
	ch       *amqp.Channel
	prefetch int
}

func NewPaymentConsumer(applier PaymentApplier, queue string) *PaymentConsumer {
	return &PaymentConsumer{applier: applier, queue: queue, prefetch: defaultPrefetch}
}

// Connect declares the queue and binds it to both payment keys.
func (c *PaymentConsumer) Connect(url, exchange string) error {
	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return err
	}
	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range []string{KeyPaymentPaid, KeyPaymentFailed} {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	c.conn = conn
	c.ch = ch
	c.queue = q.Name
	return nil
}

// Run consumes until ctx is done or the channel closes.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	if c.ch == nil {
		return errors.New("payment consumer not connected")
	}
	msgs, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	logger := log.Ctx(ctx).With().Str("component", "payment_consumer").Str("queue", c.queue).Logger()
	logger.Info().Msg("Payment consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				logger.Warn().Msg("Payment delivery channel closed")
				return nil
			}
			msgLogger := logger.With().Str("routing_key", d.RoutingKey).Str("message_id", d.MessageId).Logger()
			switch c.handle(msgLogger.WithContext(ctx), d.RoutingKey, d.Body) {
			case ack:
				_ = d.Ack(false)
			case requeue:
				_ = d.Nack(false, true)
			case reject:
				_ = d.Nack(false, false)
			}
		}
	}
}

func (c *PaymentConsumer) handle(ctx context.Context, key string, body []byte) disposition {
	logger := log.Ctx(ctx)

	var succeeded bool
	switch key {
	case KeyPaymentPaid:
		succeeded = true
	case KeyPaymentFailed:
	default:
		logger.Warn().Msg("Unknown payment routing key, dropped")
		return reject
	}

	var msg PaymentMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.Warn().Err(err).Msg("Malformed payment message, dropped")
		return reject
	}

	applied, err := c.applier.ApplyPayment(ctx, booking.PaymentResult{
		BookingID: msg.BookingID,
		Reference: strings.TrimSpace(msg.Reference),
		Succeeded: succeeded,
	})
	switch {
	case errors.Is(err, booking.ErrInvalidPayment), errors.Is(err, booking.ErrNotFound):
		logger.Warn().Err(err).Int64("booking_id", msg.BookingID).Msg("Payment message rejected")
		return reject
	case err != nil:
		logger.Error().Err(err).Int64("booking_id", msg.BookingID).Msg("Failed to apply payment, requeued")
		return requeue
	}

	logger.Debug().Int64("booking_id", msg.BookingID).Bool("applied", applied).Msg("Payment message handled")
	return ack
}

func (c *PaymentConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
