package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/directory"
)

type fakeDirectory struct {
	passwords map[string]string
	users     map[string]*directory.User
	tokens    map[string]string
}

func (f *fakeDirectory) BindUser(_ context.Context, username, password string) (*directory.User, error) {
	if pw, ok := f.passwords[username]; !ok || pw != password {
		return nil, directory.ErrUserNotFound
	}
	return f.users[username], nil
}

func (f *fakeDirectory) LookupUserByAttr(_ context.Context, _, value string) (*directory.User, error) {
	u, ok := f.users[value]
	if !ok {
		return nil, directory.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeDirectory) IntrospectToken(_ context.Context, token, _, _ string) (bool, string, error) {
	sub, ok := f.tokens[token]
	return ok, sub, nil
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		passwords: map[string]string{"admin": "secret", "alice": "password"},
		users: map[string]*directory.User{
			"admin": {UID: "admin", DN: "uid=admin,dc=x", Mail: "admin@y.com"},
			"alice": {UID: "alice", DN: "uid=alice,dc=x", Mail: "alice@y.com"},
		},
		tokens: map[string]string{"opaque-admin": "admin"},
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.EnableBasic = true
	cfg.Auth.EnableBearer = true
	cfg.Auth.AllowOpaque = true
	cfg.Auth.IntrospectURL = "http://idp.invalid/introspect"
	cfg.Auth.AdminUsers = []string{"Admin"}
	cfg.LDAP.TokenUserAttr = "uid"
	return cfg
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestRequireAdmin(t *testing.T) {
	chain := NewChain(testConfig(), newFakeDirectory(), zerolog.Nop())
	var seen *Principal
	h := chain.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	for name, tc := range map[string]struct {
		authz  string
		status int
	}{
		"no credentials":   {"", http.StatusUnauthorized},
		"wrong password":   {basic("admin", "nope"), http.StatusUnauthorized},
		"malformed basic":  {"Basic !!!", http.StatusUnauthorized},
		"not an admin":     {basic("alice", "password"), http.StatusForbidden},
		"admin via basic":  {basic("admin", "secret"), http.StatusNoContent},
		"admin via bearer": {"Bearer opaque-admin", http.StatusNoContent},
		"unknown bearer":   {"Bearer nope", http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/tasks/x", nil)
			if tc.authz != "" {
				req.Header.Set("Authorization", tc.authz)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "admin", seen.UserID)
}

func TestIsAdminMatchesMail(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AdminUsers = []string{"ops@y.com"}
	chain := NewChain(cfg, newFakeDirectory(), zerolog.Nop())

	assert.True(t, chain.IsAdmin(&Principal{UserID: "ops", Mail: "OPS@y.com"}))
	assert.False(t, chain.IsAdmin(&Principal{UserID: "ops@y.com.evil"}))
	assert.False(t, chain.IsAdmin(nil))
}

func TestBearerCachesVerifiedTokens(t *testing.T) {
	dir := newFakeDirectory()
	b := NewBearerAuth(testConfig(), dir, zerolog.Nop())

	p, err := b.Authenticate(context.Background(), "opaque-admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", p.UserID)

	delete(dir.tokens, "opaque-admin")
	p, err = b.Authenticate(context.Background(), "opaque-admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", p.UserID)
}

func TestBearerWithoutValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AllowOpaque = false
	b := NewBearerAuth(cfg, newFakeDirectory(), zerolog.Nop())

	_, err := b.Authenticate(context.Background(), "opaque-admin")
	assert.Error(t, err)
}

func TestBasicDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.EnableBasic = false
	chain := NewChain(cfg, newFakeDirectory(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", basic("admin", "secret"))
	_, err := chain.Authenticate(req)
	assert.ErrorIs(t, err, ErrNoCredentials)
}
