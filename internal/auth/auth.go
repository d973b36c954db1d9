// Package auth resolves the caller of a chat request from an API key or
// an HS256 app token.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soochol/flowchat/internal/config"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/flowchat/ports"
)

var errNoCredentials = fmt.Errorf("%w: missing credentials", flowchat.ErrUpstreamAuth)

// KeyAuthorizer accepts static API keys from the configuration.
type KeyAuthorizer struct {
	keys []config.APIKeyConfig
}

func NewKeyAuthorizer(keys []config.APIKeyConfig) *KeyAuthorizer {
	return &KeyAuthorizer{keys: keys}
}

func (a *KeyAuthorizer) Authorize(_ context.Context, appID, credentials string) (flowchat.Principal, error) {
	if credentials == "" {
		return flowchat.Principal{}, errNoCredentials
	}
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(credentials)) != 1 {
			continue
		}
		if k.AppID != "" && k.AppID != appID {
			return flowchat.Principal{}, fmt.Errorf("%w: key not valid for app %s", flowchat.ErrUpstreamAuth, appID)
		}
		return flowchat.Principal{TeamID: k.TeamID, TmbID: k.TmbID, Permission: k.Permission}, nil
	}
	return flowchat.Principal{}, fmt.Errorf("%w: unknown api key", flowchat.ErrUpstreamAuth)
}

// Claims is the payload of an app token.
type Claims struct {
	TeamID     string `json:"teamId"`
	TmbID      string `json:"tmbId"`
	AppID      string `json:"appId,omitempty"`
	Permission string `json:"permission,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthorizer accepts HS256 tokens signed with a shared secret.
type TokenAuthorizer struct {
	secret []byte
}

func NewTokenAuthorizer(secret string) *TokenAuthorizer {
	return &TokenAuthorizer{secret: []byte(secret)}
}

// Issue signs a token for c. A zero ttl issues a token without expiry.
func (a *TokenAuthorizer) Issue(c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	c.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (a *TokenAuthorizer) Authorize(_ context.Context, appID, credentials string) (flowchat.Principal, error) {
	if credentials == "" {
		return flowchat.Principal{}, errNoCredentials
	}
	var c Claims
	_, err := jwt.ParseWithClaims(credentials, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return flowchat.Principal{}, fmt.Errorf("%w: %v", flowchat.ErrUpstreamAuth, err)
	}
	if c.TeamID == "" {
		return flowchat.Principal{}, fmt.Errorf("%w: token has no team", flowchat.ErrUpstreamAuth)
	}
	if c.AppID != "" && c.AppID != appID {
		return flowchat.Principal{}, fmt.Errorf("%w: token not valid for app %s", flowchat.ErrUpstreamAuth, appID)
	}
	return flowchat.Principal{TeamID: c.TeamID, TmbID: c.TmbID, Permission: c.Permission}, nil
}

// Chain tries each authorizer in order and returns the first success.
type Chain []ports.Authorizer

func (c Chain) Authorize(ctx context.Context, appID, credentials string) (flowchat.Principal, error) {
	err := errNoCredentials
	for _, a := range c {
		p, aerr := a.Authorize(ctx, appID, credentials)
		if aerr == nil {
			return p, nil
		}
		err = aerr
		if !errors.Is(aerr, flowchat.ErrUpstreamAuth) {
			return flowchat.Principal{}, fmt.Errorf("%w: %v", flowchat.ErrUpstreamAuth, aerr)
		}
	}
	return flowchat.Principal{}, err
}

// Anonymous admits every caller as one fixed team.
type Anonymous struct {
	Principal flowchat.Principal
}

func (a Anonymous) Authorize(context.Context, string, string) (flowchat.Principal, error) {
	return a.Principal, nil
}

// FromConfig builds the authorizer described by cfg. Without keys or a
// secret every request is admitted as the "default" team.
func FromConfig(cfg config.AuthConfig) ports.Authorizer {
	var chain Chain
	if len(cfg.Keys) > 0 {
		chain = append(chain, NewKeyAuthorizer(cfg.Keys))
	}
	if cfg.Secret != "" {
		chain = append(chain, NewTokenAuthorizer(cfg.Secret))
	}
	if len(chain) == 0 {
		slog.Warn("no auth keys or secret configured, admitting anonymous requests")
		return Anonymous{Principal: flowchat.Principal{TeamID: "default", TmbID: "default", Permission: "owner"}}
	}
	return chain
}
