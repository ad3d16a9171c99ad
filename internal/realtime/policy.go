package realtime

import "errors"

var (
	ErrClubRequired  = errors.New("club_id is required")
	ErrClubForbidden = errors.New("not authorized for club")
)

// Membership is what a connecting client is allowed to see, as resolved by
// the caller from its authenticated scope.
type Membership struct {
	ClubID     int64 // 0 when the client sent none
	Authorized bool  // identity may watch ClubID
	Root       bool
	// AccessibleClubs is only read by the legacy join-all fallback.
	AccessibleClubs []int64
}

// RoomPolicy decides which rooms a new connection joins.
type RoomPolicy struct {
	// LegacyJoinAllClubs joins every accessible club when no club is given.
	// Remove once every client sends club_id.
	LegacyJoinAllClubs bool
}

func (p RoomPolicy) Rooms(m Membership) ([]string, error) {
	var rooms []string

	switch {
	case m.ClubID > 0:
		if !m.Authorized && !m.Root {
			return nil, ErrClubForbidden
		}
		rooms = append(rooms, ClubRoom(m.ClubID))
	case p.LegacyJoinAllClubs:
		for _, id := range m.AccessibleClubs {
			rooms = append(rooms, ClubRoom(id))
		}
	case !m.Root:
		return nil, ErrClubRequired
	}

	if m.Root {
		rooms = append(rooms, RootRoom)
	}
	if len(rooms) == 0 {
		return nil, ErrClubForbidden
	}
	return rooms, nil
}
