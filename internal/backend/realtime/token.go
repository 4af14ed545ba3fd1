package realtime

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	OpSubscribe = "subscribe"

	DefaultTokenTTL = time.Hour
	MaxTokenTTL     = 24 * time.Hour

	tokenIssuer     = "contentdesk"
	tokenAudience   = "realtime"
	capabilityClaim = "capability"
)

var (
	ErrInvalidToken = errors.New("invalid realtime token")
	ErrNoChannels   = errors.New("token must grant at least one channel")
)

// Capability maps channel names (a trailing '*' matches any suffix) to allowed operations.
type Capability map[string][]string

// TokenClaims is the verified content of a realtime token.
type TokenClaims struct {
	ClientID   string
	Capability Capability
	ExpiresAt  time.Time
}

// Allows reports whether the claims permit op on channel.
func (c *TokenClaims) Allows(channel, op string) bool {
	for pattern, ops := range c.Capability {
		if !matchChannel(pattern, channel) {
			continue
		}
		if slices.Contains(ops, op) || slices.Contains(ops, "*") {
			return true
		}
	}
	return false
}

func matchChannel(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// TokenIssuer issues and verifies short-lived, subscribe-only channel tokens for
// browser clients. Tokens are HS256 JWTs.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("realtime token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if ttl > MaxTokenTTL {
		ttl = MaxTokenTTL
	}
	return &TokenIssuer{key: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token that grants subscribe on channels, and nothing else.
func (i *TokenIssuer) Issue(clientID string, channels []string) (string, *TokenClaims, error) {
	if len(channels) == 0 {
		return "", nil, ErrNoChannels
	}
	capability := make(Capability, len(channels))
	for _, ch := range channels {
		if !ValidChannel(strings.TrimSuffix(ch, "*")) {
			return "", nil, fmt.Errorf("invalid channel name %q", ch)
		}
		capability[ch] = []string{OpSubscribe}
	}

	now := i.now()
	expires := now.Add(i.ttl)
	tok, err := jwt.NewBuilder().
		Issuer(tokenIssuer).
		Audience([]string{tokenAudience}).
		Subject(clientID).
		IssuedAt(now).
		Expiration(expires).
		Claim(capabilityClaim, capability).
		Build()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build realtime token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign realtime token: %w", err)
	}
	return string(signed), &TokenClaims{
		ClientID:   clientID,
		Capability: capability,
		ExpiresAt:  expires.Truncate(time.Second),
	}, nil
}

// Verify checks signature, issuer, audience and expiry, and returns the claims.
// Any capability operation other than subscribe is stripped.
func (i *TokenIssuer) Verify(token string) (*TokenClaims, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, i.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithClock(jwt.ClockFunc(i.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	raw, ok := tok.Get(capabilityClaim)
	if !ok {
		return nil, fmt.Errorf("%w: missing capability", ErrInvalidToken)
	}
	capability, err := parseCapability(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &TokenClaims{
		ClientID:   tok.Subject(),
		Capability: capability,
		ExpiresAt:  tok.Expiration(),
	}, nil
}

func parseCapability(raw any) (Capability, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("capability has unexpected type %T", raw)
	}
	capability := make(Capability, len(m))
	for channel, v := range m {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("capability of %s has unexpected type %T", channel, v)
		}
		for _, op := range list {
			if s, ok := op.(string); ok && s == OpSubscribe {
				capability[channel] = append(capability[channel], s)
			}
		}
	}
	return capability, nil
}
