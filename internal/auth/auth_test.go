package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/flowchat/internal/config"
	"github.com/soochol/flowchat/internal/flowchat"
)

func TestKeyAuthorizer(t *testing.T) {
	a := NewKeyAuthorizer([]config.APIKeyConfig{
		{Key: "sk-team", TeamID: "t1", TmbID: "m1", Permission: "owner"},
		{Key: "sk-app", TeamID: "t2", AppID: "faq"},
	})
	ctx := context.Background()

	p, err := a.Authorize(ctx, "any", "sk-team")
	require.NoError(t, err)
	assert.Equal(t, flowchat.Principal{TeamID: "t1", TmbID: "m1", Permission: "owner"}, p)

	p, err = a.Authorize(ctx, "faq", "sk-app")
	require.NoError(t, err)
	assert.Equal(t, "t2", p.TeamID)

	_, err = a.Authorize(ctx, "other", "sk-app")
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)
	_, err = a.Authorize(ctx, "any", "sk-wrong")
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)
	_, err = a.Authorize(ctx, "any", "")
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)
}

func TestTokenAuthorizer(t *testing.T) {
	a := NewTokenAuthorizer("s3cret")
	ctx := context.Background()

	token, err := a.Issue(Claims{TeamID: "t1", TmbID: "m1", AppID: "faq", Permission: "read"}, time.Hour)
	require.NoError(t, err)

	p, err := a.Authorize(ctx, "faq", token)
	require.NoError(t, err)
	assert.Equal(t, flowchat.Principal{TeamID: "t1", TmbID: "m1", Permission: "read"}, p)

	_, err = a.Authorize(ctx, "other", token)
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)

	_, err = NewTokenAuthorizer("different").Authorize(ctx, "faq", token)
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)
}

func TestTokenAuthorizerRejectsExpiredAndForeignAlg(t *testing.T) {
	a := NewTokenAuthorizer("s3cret")
	ctx := context.Background()

	expired := Claims{TeamID: "t1"}
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = a.Authorize(ctx, "faq", token)
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{TeamID: "t1"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = a.Authorize(ctx, "faq", token)
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)

	token, err = a.Issue(Claims{TmbID: "m1"}, 0)
	require.NoError(t, err)
	_, err = a.Authorize(ctx, "faq", token)
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth, "token without team")
}

func TestChainFallsThrough(t *testing.T) {
	tokens := NewTokenAuthorizer("s3cret")
	chain := Chain{NewKeyAuthorizer([]config.APIKeyConfig{{Key: "sk-1", TeamID: "keys"}}), tokens}
	ctx := context.Background()

	p, err := chain.Authorize(ctx, "faq", "sk-1")
	require.NoError(t, err)
	assert.Equal(t, "keys", p.TeamID)

	token, err := tokens.Issue(Claims{TeamID: "tokens"}, time.Minute)
	require.NoError(t, err)
	p, err = chain.Authorize(ctx, "faq", token)
	require.NoError(t, err)
	assert.Equal(t, "tokens", p.TeamID)

	_, err = chain.Authorize(ctx, "faq", "nope")
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)
	_, err = Chain{}.Authorize(ctx, "faq", "sk-1")
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	p, err := FromConfig(config.AuthConfig{}).Authorize(ctx, "faq", "")
	require.NoError(t, err)
	assert.Equal(t, "default", p.TeamID)

	_, err = FromConfig(config.AuthConfig{Secret: "x"}).Authorize(ctx, "faq", "")
	assert.ErrorIs(t, err, flowchat.ErrUpstreamAuth)
}
