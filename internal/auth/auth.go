package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"bustracker/internal/model"
	"bustracker/internal/store"
)

// Manager issues and validates the bearer credentials that bind a
// connection to a bus identity.
type Manager struct {
	store    *store.Store
	secret   []byte
	tokenTTL time.Duration
}

// New constructs a Manager backed by the given store.
func New(st *store.Store, secret string, tokenTTL time.Duration) *Manager {
	return &Manager{store: st, secret: []byte(secret), tokenTTL: tokenTTL}
}

// Register creates a new bus driver with a one-way-hashed password.
// Fails with model.ErrDuplicateBus when the bus number is taken.
func (m *Manager) Register(ctx context.Context, busNumber, username, routeID, password string) (*model.Bus, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return m.store.CreateBus(ctx, model.Bus{
		BusNumber:    busNumber,
		Username:     username,
		RouteID:      routeID,
		PasswordHash: string(hash),
		Active:       true,
	})
}

// Authenticate verifies the bus's password. Unknown bus numbers and wrong
// passwords fail with the same model.ErrInvalidCredentials so callers
// cannot probe for registered identities.
func (m *Manager) Authenticate(ctx context.Context, busNumber, password string) (*model.Bus, error) {
	bus, err := m.store.BusByNumber(ctx, busNumber)
	if errors.Is(err, model.ErrUnknownBus) {
		return nil, model.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(bus.PasswordHash), []byte(password)) != nil {
		return nil, model.ErrInvalidCredentials
	}
	return bus, nil
}

// IssueToken mints a signed bearer token carrying the bus number and a
// fixed expiry.
func (m *Manager) IssueToken(bus *model.Bus) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   bus.BusNumber,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken resolves a bearer token back to its bus. Expired, tampered,
// and orphaned tokens all fail with model.ErrInvalidToken.
func (m *Manager) ValidateToken(ctx context.Context, tokenString string) (*model.Bus, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, model.ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return nil, model.ErrInvalidToken
	}

	bus, err := m.store.BusByNumber(ctx, claims.Subject)
	if errors.Is(err, model.ErrUnknownBus) {
		return nil, model.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return bus, nil
}
