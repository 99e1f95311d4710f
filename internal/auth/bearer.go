package auth

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/sonroyaalmerol/contactsync/internal/cache"
	"github.com/sonroyaalmerol/contactsync/internal/config"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
)

const verifiedTTL = 2 * time.Minute

type BearerAuth struct {
	cfg       config.AuthConfig
	tokenAttr string
	Dir       Directory
	Logger    zerolog.Logger

	mu     sync.Mutex
	keyset jwk.Set
	ksAt   time.Time
	ksTTL  time.Duration

	verCache *cache.Cache[string, *Principal]
}

func NewBearerAuth(cfg *config.Config, dir Directory, logger zerolog.Logger) *BearerAuth {
	return &BearerAuth{
		cfg:       cfg.Auth,
		tokenAttr: cfg.LDAP.TokenUserAttr,
		Dir:       dir,
		Logger:    logger,
		ksTTL:     10 * time.Minute,
		verCache:  cache.New[string, *Principal](verifiedTTL),
	}
}

func (b *BearerAuth) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrNoCredentials
	}
	if p, ok := b.verCache.Get(token); ok && p != nil {
		return p, nil
	}

	if b.cfg.JWKSURL == "" && !b.cfg.AllowOpaque {
		return nil, errors.New("no jwt validation configured")
	}

	if b.cfg.JWKSURL != "" {
		set, err := b.keys(ctx)
		if err != nil {
			return nil, err
		}
		tok, err := jwt.Parse([]byte(token), jwt.WithKeySet(set), jwt.WithValidate(true))
		if err == nil {
			sub, err := b.checkClaims(tok)
			if err != nil {
				return nil, err
			}
			return b.principalForSubject(ctx, token, sub, tok.Expiration())
		}
		b.Logger.Debug().Err(err).Msg("jwt rejected")
	}

	if b.cfg.AllowOpaque && b.cfg.IntrospectURL != "" {
		valid, sub, err := b.Dir.IntrospectToken(ctx, token, b.cfg.IntrospectURL, b.cfg.IntrospectAuthHeader)
		if err != nil || !valid || sub == "" {
			return nil, errors.New("invalid token")
		}
		return b.principalForSubject(ctx, token, sub, time.Time{})
	}

	return nil, errors.New("bearer rejected")
}

func (b *BearerAuth) keys(ctx context.Context) (jwk.Set, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keyset != nil && time.Since(b.ksAt) <= b.ksTTL {
		return b.keyset, nil
	}
	set, err := jwk.Fetch(ctx, b.cfg.JWKSURL)
	if err != nil {
		if b.keyset != nil {
			b.Logger.Warn().Err(err).Msg("jwks refresh failed, using previous key set")
			return b.keyset, nil
		}
		return nil, err
	}
	b.keyset = set
	b.ksAt = time.Now()
	return set, nil
}

func (b *BearerAuth) checkClaims(tok jwt.Token) (string, error) {
	if b.cfg.Issuer != "" && tok.Issuer() != b.cfg.Issuer {
		return "", errors.New("issuer mismatch")
	}
	if b.cfg.Audience != "" && !slices.Contains(tok.Audience(), b.cfg.Audience) {
		return "", errors.New("audience mismatch")
	}
	if tok.Subject() == "" {
		return "", errors.New("no sub")
	}
	return tok.Subject(), nil
}

// principalForSubject maps a token subject to its directory user and caches
// the result until the earlier of exp and the verification TTL.
func (b *BearerAuth) principalForSubject(ctx context.Context, token, sub string, exp time.Time) (*Principal, error) {
	user, err := b.Dir.LookupUserByAttr(ctx, b.tokenAttr, sub)
	if err != nil {
		return nil, err
	}
	p := principalFor(user)
	until := time.Now().Add(verifiedTTL)
	if !exp.IsZero() && exp.Before(until) {
		until = exp
	}
	b.verCache.Set(token, p, until)
	return p, nil
}
