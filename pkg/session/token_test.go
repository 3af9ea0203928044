package session

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Mint(secret, 42, time.Hour)
	require.NoError(t, err)

	r := NewTokenResolver(secret)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/collaboration/1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		id, err := r.Resolve(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, int64(42), id.UserID)
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/collaboration/1?token="+token, nil)
		id, err := r.Resolve(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, int64(42), id.UserID)
	})
}

func TestTokenAbsentIsAnonymous(t *testing.T) {
	r := NewTokenResolver([]byte("test-secret"))
	req := httptest.NewRequest("GET", "/collaboration/1", nil)
	id, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestTokenWrongSecretRejected(t *testing.T) {
	token, err := Mint([]byte("one secret"), 42, time.Hour)
	require.NoError(t, err)

	r := NewTokenResolver([]byte("another secret"))
	req := httptest.NewRequest("GET", "/collaboration/1?token="+token, nil)
	id, err := r.Resolve(context.Background(), req)
	assert.Error(t, err)
	assert.Nil(t, id)
}

func TestTokenExpiredRejected(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Mint(secret, 42, -time.Minute)
	require.NoError(t, err)

	r := NewTokenResolver(secret)
	req := httptest.NewRequest("GET", "/collaboration/1?token="+token, nil)
	id, err := r.Resolve(context.Background(), req)
	assert.Error(t, err)
	assert.Nil(t, id)
}
