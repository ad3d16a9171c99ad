package authz

import (
	"context"
	"errors"
	"slices"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// AuthUser is the identity resolved from a bearer token. ClubIDs are clubs
// the user administers directly; OrganizationIDs grant every club in the org.
type AuthUser struct {
	ID              string
	Email           string
	IsRoot          bool
	ClubIDs         []int64
	OrganizationIDs []int64
}

type userContextKey struct{}

func ContextWithUser(ctx context.Context, user *AuthUser) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the AuthUser stored in ctx.
// It returns nil if ctx is nil, if no user is stored, or if the stored value has a different type.
func UserFromContext(ctx context.Context) *AuthUser {
	if ctx == nil {
		return nil
	}

	user, ok := ctx.Value(userContextKey{}).(*AuthUser)
	if !ok {
		return nil
	}

	return user
}

// IsRoot reports whether user is a platform-wide observer.
func IsRoot(user *AuthUser) bool {
	return user != nil && user.IsRoot
}

// CanAccessClub reports whether user may administer or observe clubID, which
// belongs to organizationID. Root users can access every club.
func CanAccessClub(user *AuthUser, clubID, organizationID int64) bool {
	if user == nil {
		return false
	}
	if user.IsRoot {
		return true
	}
	if slices.Contains(user.ClubIDs, clubID) {
		return true
	}
	return organizationID > 0 && slices.Contains(user.OrganizationIDs, organizationID)
}

func RequireUser(ctx context.Context) (*AuthUser, error) {
	user := UserFromContext(ctx)
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

func RequireClubAccess(ctx context.Context, clubID, organizationID int64) error {
	user := UserFromContext(ctx)
	if user == nil {
		return ErrUnauthenticated
	}
	if !CanAccessClub(user, clubID, organizationID) {
		return ErrForbidden
	}
	return nil
}
