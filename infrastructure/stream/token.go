package stream

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// TokenSource supplies the bearer token presented on every dial
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// FileToken re-reads the token from a file on every dial so a rotated token is picked up
type FileToken string

func (f FileToken) Token(context.Context) (string, error) {
	raw, err := os.ReadFile(string(f))
	if err != nil {
		return "", pkgerrors.NewConnectionError("failed to read token file", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// checkExpiry inspects the exp claim without verifying the signature.
// Tokens that are not JWTs are passed through untouched.
func checkExpiry(token string, now time.Time) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !now.Before(exp.Time) {
		return pkgerrors.NewConnectionError("bearer token expired", nil).
			WithDetail("expiredAt", exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}
