package storage

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	s := NewURLSigner("secret", time.Minute)
	tok, err := s.Sign("deals/a.png")
	require.NoError(t, err)
	assert.NoError(t, s.Verify("deals/a.png", tok))
	assert.ErrorIs(t, s.Verify("deals/b.png", tok), ErrBadToken)
	assert.ErrorIs(t, NewURLSigner("other", time.Minute).Verify("deals/a.png", tok), ErrBadToken)
	assert.ErrorIs(t, s.Verify("deals/a.png", "garbage"), ErrBadToken)
}

func TestSignerExpiry(t *testing.T) {
	s := NewURLSigner("secret", time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }
	tok, err := s.Sign("deals/a.png")
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.ErrorIs(t, s.Verify("deals/a.png", tok), ErrBadToken)
}

func TestSignerURL(t *testing.T) {
	s := NewURLSigner("secret", 0)
	u, err := s.URL("deals/a.png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "/files/deals/a.png?token="))

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.NoError(t, s.Verify("deals/a.png", parsed.Query().Get("token")))
}
