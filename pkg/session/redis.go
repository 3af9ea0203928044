package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// sessionGetter is the slice of the redis client we need; narrowed so tests
// can substitute canned results.
type sessionGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisResolver resolves the express-session cookie set by the application's
// login flow against its redis session store. The stored session is a JSON
// object whose userId field carries the authenticated user.
type RedisResolver struct {
	client     sessionGetter
	cookieName string
	keyPrefix  string
}

func NewRedisResolver(client *redis.Client, cookieName, keyPrefix string) *RedisResolver {
	return &RedisResolver{client: client, cookieName: cookieName, keyPrefix: keyPrefix}
}

func (r *RedisResolver) Resolve(ctx context.Context, req *http.Request) (*Identity, error) {
	cookie, err := req.Cookie(r.cookieName)
	if err != nil {
		return nil, nil
	}
	sid, ok := sessionID(cookie.Value)
	if !ok {
		return nil, nil
	}
	raw, err := r.client.Get(ctx, r.keyPrefix+sid).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session %s: %w", sid, err)
	}
	var payload struct {
		UserID *int64 `json:"userId"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sid, err)
	}
	if payload.UserID == nil {
		return nil, nil
	}
	return &Identity{UserID: *payload.UserID}, nil
}

// sessionID recovers the raw session id from the cookie value. express
// signs its cookies as "s:<sid>.<signature>" and url-encodes the value; the
// signature was already the login server's concern, we only need the sid to
// look the session up.
func sessionID(value string) (string, bool) {
	if decoded, err := url.QueryUnescape(value); err == nil {
		value = decoded
	}
	if rest, found := strings.CutPrefix(value, "s:"); found {
		if i := strings.LastIndexByte(rest, '.'); i > 0 {
			rest = rest[:i]
		}
		value = rest
	}
	if value == "" {
		return "", false
	}
	return value, true
}
