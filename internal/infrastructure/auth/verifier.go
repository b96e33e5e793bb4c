package auth

import (
	"context"
	"errors"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is what a verified bearer token resolves to.
type Identity struct {
	Subject string
	UserID  string
}

// TokenVerifier turns a bearer token into an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

func identityFrom(subject string, userID interface{}) *Identity {
	id := &Identity{Subject: subject, UserID: subject}
	if s, ok := userID.(string); ok && s != "" {
		id.UserID = s
	}
	return id
}
