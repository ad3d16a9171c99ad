package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sink receives a copy of every emitted event, e.g. a message broker.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

const sinkTimeout = 2 * time.Second

// Broadcaster routes lifecycle events to the affected club's room and the
// root room. Emit never fails the caller.
type Broadcaster struct {
	registry *Registry
	recent   *RecentIDs
	sinks    []Sink
	clock    Clock
}

// NewBroadcaster wires a registry and optional dedup window and sinks.
// recent may be nil to disable de-duplication.
func NewBroadcaster(registry *Registry, recent *RecentIDs, sinks ...Sink) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		recent:   recent,
		sinks:    sinks,
		clock:    realClock{},
	}
}

// Emit publishes e to club:{e.ClubID} and root. Missing ids and timestamps
// are filled in. Failures are logged and dropped.
func (b *Broadcaster) Emit(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	logger := log.Ctx(ctx).With().
		Str("event_type", string(e.Type)).
		Int64("club_id", e.ClubID).
		Str("entity_id", e.EntityID).
		Logger()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("Broadcast panicked, event dropped")
		}
	}()

	if e.ClubID <= 0 {
		logger.Warn().Msg("Event has no club, dropped")
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.clock.Now().UTC()
	}

	if b.recent.Seen(e.ID) {
		logger.Debug().Str("event_id", e.ID).Msg("Duplicate event suppressed")
		return
	}

	if b.registry != nil {
		delivered, dropped := b.registry.Publish(e, ClubRoom(e.ClubID), RootRoom)
		if dropped > 0 {
			logger.Warn().Int("dropped", dropped).Msg("Slow connections missed event")
		}
		logger.Debug().Int("delivered", delivered).Msg("Event broadcast")
	}

	for _, sink := range b.sinks {
		if err := b.publishSink(ctx, sink, e); err != nil {
			logger.Warn().Err(err).Msg("Event sink publish failed")
		}
	}
}

func (b *Broadcaster) publishSink(ctx context.Context, sink Sink, e Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panicked: %v", rec)
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	return sink.Publish(ctx, e)
}
