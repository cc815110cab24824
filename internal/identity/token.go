// Package identity turns signed bearer tokens into the Actor facts the
// engine authorizes against.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
)

// DefaultTTL is how long issued tokens stay valid.
const DefaultTTL = 12 * time.Hour

const issuer = "restaurant-ops"

// Claims is the token body.
type Claims struct {
	UserID       string     `json:"user_id"`
	Role         model.Role `json:"role"`
	RestaurantID string     `json:"restaurant_id"`
	jwt.RegisteredClaims
}

// UserLookup is the slice of the store used to confirm a token's user.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Issuer signs and verifies HS256 actor tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. An empty secret is rejected.
func NewIssuer(secret string, now func() time.Time) (*Issuer, error) {
	if secret == "" {
		return nil, apperr.Validationf("auth.jwt_secret is not configured")
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: []byte(secret), ttl: DefaultTTL, now: now}, nil
}

// WithTTL returns a copy of the issuer that signs tokens valid for ttl.
func (i *Issuer) WithTTL(ttl time.Duration) *Issuer {
	c := *i
	c.ttl = ttl
	return &c
}

// Issue signs a token for u. The system role cannot be issued.
func (i *Issuer) Issue(u model.User) (string, error) {
	if u.Role == model.RoleSystem {
		return "", apperr.Validationf("cannot issue a token for the system role")
	}
	if !u.Active {
		return "", apperr.Validationf("user %s is inactive", u.ID)
	}

	now := i.now()
	claims := Claims{
		UserID:       u.ID,
		Role:         u.Role,
		RestaurantID: u.RestaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token for %s: %w", u.ID, err)
	}
	return signed, nil
}

// Parse verifies the token signature and expiry and returns the actor it
// names. Any verification failure is PermissionDenied.
func (i *Issuer) Parse(token string) (model.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Actor{}, apperr.PermissionDeniedf("token expired")
		}
		return model.Actor{}, apperr.PermissionDeniedf("invalid token: %v", err)
	}

	switch claims.Role {
	case model.RoleAdmin, model.RoleManager, model.RoleStaff:
	default:
		return model.Actor{}, apperr.PermissionDeniedf("token carries unknown role %q", claims.Role)
	}
	if claims.UserID == "" || claims.RestaurantID == "" {
		return model.Actor{}, apperr.PermissionDeniedf("token is missing user or restaurant")
	}

	return model.Actor{
		UserID:       claims.UserID,
		Role:         claims.Role,
		RestaurantID: claims.RestaurantID,
	}, nil
}

// Resolve parses token and confirms the user still exists, is active and
// still holds the role and restaurant the token claims.
func (i *Issuer) Resolve(ctx context.Context, users UserLookup, token string) (model.Actor, error) {
	actor, err := i.Parse(token)
	if err != nil {
		return model.Actor{}, err
	}

	u, err := users.GetUserByID(ctx, actor.UserID)
	if apperr.IsNotFound(err) {
		return model.Actor{}, apperr.PermissionDeniedf("token user %s no longer exists", actor.UserID)
	}
	if err != nil {
		return model.Actor{}, fmt.Errorf("loading token user: %w", err)
	}
	if !u.Active || u.Role != actor.Role || u.RestaurantID != actor.RestaurantID {
		return model.Actor{}, apperr.PermissionDeniedf("token for %s is stale", actor.UserID)
	}
	return actor, nil
}
