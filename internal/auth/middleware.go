package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/directory"

	"github.com/rs/zerolog"
)

var (
	ErrNoCredentials = errors.New("no credentials")
	ErrNotAdmin      = errors.New("principal is not an administrator")
)

// Directory is the part of the user directory authentication needs.
type Directory interface {
	BindUser(ctx context.Context, username, password string) (*directory.User, error)
	LookupUserByAttr(ctx context.Context, attr, value string) (*directory.User, error)
	IntrospectToken(ctx context.Context, token, url, authHeader string) (bool, string, error)
}

type Principal struct {
	UserID  string // uid
	UserDN  string
	Display string
	Mail    string
}

func principalFor(u *directory.User) *Principal {
	return &Principal{UserID: u.UID, UserDN: u.DN, Display: u.DisplayName, Mail: u.Mail}
}

type ctxKey int

const principalKey ctxKey = 1

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

type Chain struct {
	admins map[string]struct{}
	logger zerolog.Logger
	basic  *BasicAuth
	bearer *BearerAuth
}

func NewChain(cfg *config.Config, dir Directory, logger zerolog.Logger) *Chain {
	c := &Chain{
		admins: make(map[string]struct{}, len(cfg.Auth.AdminUsers)),
		logger: logger,
	}
	for _, u := range cfg.Auth.AdminUsers {
		c.admins[strings.ToLower(strings.TrimSpace(u))] = struct{}{}
	}
	if cfg.Auth.EnableBasic {
		c.basic = &BasicAuth{Dir: dir, Logger: logger}
	}
	if cfg.Auth.EnableBearer {
		c.bearer = NewBearerAuth(cfg, dir, logger)
	}
	return c
}

func (c *Chain) BasicEnabled() bool  { return c.basic != nil }
func (c *Chain) BearerEnabled() bool { return c.bearer != nil }

// Authenticate picks Bearer when the header carries a bearer token and Bearer
// is enabled, and falls back to Basic otherwise.
func (c *Chain) Authenticate(req *http.Request) (*Principal, error) {
	authz := req.Header.Get("Authorization")
	scheme, rest, _ := strings.Cut(authz, " ")
	if strings.EqualFold(scheme, "bearer") && c.bearer != nil {
		return c.bearer.Authenticate(req.Context(), strings.TrimSpace(rest))
	}
	if c.basic != nil {
		return c.basic.Authenticate(req.Context(), authz)
	}
	return nil, ErrNoCredentials
}

// IsAdmin matches the principal's uid or mail against the configured
// administrators, case-insensitively.
func (c *Chain) IsAdmin(p *Principal) bool {
	if p == nil {
		return false
	}
	for _, id := range []string{p.UserID, p.Mail} {
		if id == "" {
			continue
		}
		if _, ok := c.admins[strings.ToLower(id)]; ok {
			return true
		}
	}
	return false
}

// RequireAdmin rejects requests without valid credentials with 401 and
// authenticated non-administrators with 403.
func (c *Chain) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, err := c.Authenticate(req)
		if err != nil || p == nil {
			c.logAttempt(req, "", err)
			if c.basic != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="contactsync", charset="UTF-8"`)
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !c.IsAdmin(p) {
			c.logAttempt(req, p.UserID, ErrNotAdmin)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, req.WithContext(WithPrincipal(req.Context(), p)))
	})
}

func (c *Chain) logAttempt(req *http.Request, username string, authErr error) {
	scheme, _, _ := strings.Cut(req.Header.Get("Authorization"), " ")

	ev := c.logger.Info().
		Bool("auth_success", false).
		Str("user", username).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("user_agent", req.UserAgent()).
		Str("auth_type", strings.ToLower(scheme))
	if authErr != nil {
		ev = ev.Str("error", authErr.Error())
	}
	ev.Msg("auth attempt")
}
