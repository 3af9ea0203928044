package session

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenResolver accepts an HS256 JWT whose subject is the user id. Browsers
// carry the session cookie instead; this path exists for headless clients
// and service-to-service calls, and accepts the token either as a bearer
// header or as a "token" query parameter since websocket handshakes can't
// always set headers.
type TokenResolver struct {
	secret []byte
}

func NewTokenResolver(secret []byte) *TokenResolver {
	return &TokenResolver{secret: secret}
}

func (t *TokenResolver) Resolve(_ context.Context, r *http.Request) (*Identity, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		raw = q
	}
	if raw == "" {
		return nil, nil
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("token subject %q is not a user id: %w", claims.Subject, err)
	}
	return &Identity{UserID: userID}, nil
}

// Mint signs a token for the given user, valid for ttl. Used by the client
// command and by tests; the serving side only ever verifies.
func Mint(secret []byte, userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
