// Package auth turns bearer tokens from the identity provider into
// authz.AuthUser values.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api/authz"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the identity provider's access token. Clubs and Orgs list what
// the subject administers.
type Claims struct {
	Email string  `json:"email,omitempty"`
	Root  bool    `json:"root,omitempty"`
	Clubs []int64 `json:"clubs,omitempty"`
	Orgs  []int64 `json:"orgs,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) user() *authz.AuthUser {
	return &authz.AuthUser{
		ID:              c.Subject,
		Email:           c.Email,
		IsRoot:          c.Root,
		ClubIDs:         c.Clubs,
		OrganizationIDs: c.Orgs,
	}
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Parse validates raw and returns its subject as an AuthUser.
func (v *Verifier) Parse(raw string) (*authz.AuthUser, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: verifier has no secret", ErrInvalidToken)
	}
	claims := &Claims{}
	tok, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims.user(), nil
}

// Issue signs a token for user. Used by local tooling and tests; production
// tokens come from the identity provider.
func (v *Verifier) Issue(user authz.AuthUser, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: user.Email,
		Root:  user.IsRoot,
		Clubs: user.ClubIDs,
		Orgs:  user.OrganizationIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header. EventSource
// cannot set headers, so an access_token query parameter is also accepted.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return "", ErrMissingToken
		}
		return strings.TrimSpace(raw), nil
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("access_token")); raw != "" {
		return raw, nil
	}
	return "", ErrMissingToken
}

// UserFromRequest returns the request's user, or nil with no error when the
// request carries no token at all.
func (v *Verifier) UserFromRequest(r *http.Request) (*authz.AuthUser, error) {
	raw, err := BearerToken(r)
	if errors.Is(err, ErrMissingToken) && r.Header.Get("Authorization") == "" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user, err := v.Parse(raw)
	if err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("Rejected bearer token")
		return nil, err
	}
	return user, nil
}
