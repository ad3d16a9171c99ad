// Package realtime fans booking and lock events out to live client
// connections grouped into club rooms and a root observer room.
package realtime

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventBookingCreated   EventType = "booking_created"
	EventBookingUpdated   EventType = "booking_updated"
	EventBookingCancelled EventType = "booking_cancelled"
	EventSlotLocked       EventType = "slot_locked"
	EventSlotUnlocked     EventType = "slot_unlocked"
	EventLockExpired      EventType = "lock_expired"
	EventPaymentConfirmed EventType = "payment_confirmed"
	EventPaymentFailed    EventType = "payment_failed"
)

// Event is what a connection receives. ClubID is required: an event without
// a club has no room and is dropped.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ClubID    int64     `json:"clubId"`
	EntityID  string    `json:"entityId"`
	CourtID   int64     `json:"courtId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// EventID derives an id from the event type and the state it announces, so
// emitting the same change twice yields the same id and the second copy is
// suppressed by RecentIDs.
func EventID(t EventType, parts ...string) string {
	return string(t) + ":" + strings.Join(parts, ":")
}

const RootRoom = "root"

func ClubRoom(clubID int64) string {
	return fmt.Sprintf("club:%d", clubID)
}
