package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/sonroyaalmerol/contactsync/internal/cache"
	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/storage"

	"github.com/go-ldap/ldap/v3"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var ErrUserNotFound = errors.New("user not found")

type Directory interface {
	Close()
	BindUser(ctx context.Context, username, password string) (*User, error)
	LookupUserByAttr(ctx context.Context, attr, value string) (*User, error)
	IntrospectToken(ctx context.Context, token, endpoint, authHeader string) (bool, string, error)
	ResolveAccount(ctx context.Context, externalID string) (storage.AccountRef, error)
	ListAccounts(ctx context.Context) iter.Seq2[storage.AccountRef, error]
}

type LDAPClient struct {
	cfg          config.LDAPConfig
	logger       zerolog.Logger
	mu           sync.Mutex
	conn         *ldap.Conn
	accountCache *cache.Cache[string, storage.AccountRef]
}

func NewLDAPClient(cfg config.LDAPConfig, logger zerolog.Logger) (*LDAPClient, error) {
	logger = logger.With().Str("component", "ldap").Logger()
	l, err := dialAndBind(cfg)
	if err != nil {
		logger.Error().Err(err).Str("url", cfg.URL).Msg("failed to dial LDAP")
		return nil, err
	}
	return &LDAPClient{
		cfg:          cfg,
		logger:       logger,
		conn:         l,
		accountCache: cache.New[string, storage.AccountRef](cfg.CacheTTL),
	}, nil
}

func (l *LDAPClient) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
	}
}

// connection returns the shared connection, redialing it if the server dropped it.
func (l *LDAPClient) connection() (*ldap.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil && !l.conn.IsClosing() {
		return l.conn, nil
	}
	conn, err := dialAndBind(l.cfg)
	if err != nil {
		l.logger.Error().Err(err).Str("url", l.cfg.URL).Msg("LDAP redial failed")
		return nil, err
	}
	l.logger.Info().Str("url", l.cfg.URL).Msg("LDAP connection re-established")
	l.conn = conn
	return conn, nil
}

func (l *LDAPClient) BindUser(ctx context.Context, username, password string) (*User, error) {
	conn, err := l.connection()
	if err != nil {
		return nil, err
	}
	searchReq := ldap.NewSearchRequest(
		l.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, int(l.cfg.Timeout.Seconds()), false,
		fmt.Sprintf(l.cfg.UserFilter, ldap.EscapeFilter(username), ldap.EscapeFilter(username)),
		userAttrList(l.cfg),
		nil,
	)
	res, err := conn.SearchWithPaging(searchReq, 1)
	if err != nil {
		l.logger.Error().Err(err).
			Str("user_base_dn", l.cfg.UserBaseDN).
			Str("username", username).
			Msg("LDAP search failed in BindUser")
		return nil, ErrUserNotFound
	}
	if len(res.Entries) == 0 {
		l.logger.Debug().Str("username", username).Msg("user not found in BindUser search")
		return nil, ErrUserNotFound
	}
	entry := res.Entries[0]
	userDN := entry.DN

	userConn, err := dialLDAPAuto(l.cfg)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to dial LDAP for user bind")
		return nil, err
	}
	defer userConn.Close()
	if err := userConn.Bind(userDN, password); err != nil {
		l.logger.Debug().Err(err).Str("user_dn", userDN).Msg("user bind failed")
		return nil, err
	}

	return l.userFromEntry(entry), nil
}

func (l *LDAPClient) LookupUserByAttr(ctx context.Context, attr, value string) (*User, error) {
	conn, err := l.connection()
	if err != nil {
		return nil, err
	}
	attr = safeAttr(attr)
	searchReq := ldap.NewSearchRequest(
		l.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, int(l.cfg.Timeout.Seconds()), false,
		fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(value)),
		userAttrList(l.cfg),
		nil,
	)
	res, err := conn.Search(searchReq)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, ErrUserNotFound
		}
		l.logger.Error().Err(err).
			Str("attr", attr).
			Str("value", value).
			Str("user_base_dn", l.cfg.UserBaseDN).
			Msg("LDAP search failed in LookupUserByAttr")
		return nil, fmt.Errorf("lookup %s=%s: %w", attr, value, err)
	}
	if len(res.Entries) == 0 {
		l.logger.Debug().Str("attr", attr).Str("value", value).Msg("user not found in LookupUserByAttr")
		return nil, ErrUserNotFound
	}
	return l.userFromEntry(res.Entries[0]), nil
}

// ResolveAccount maps a groupware user id to the mail address owning the
// contact directory. Results are cached for the configured TTL.
func (l *LDAPClient) ResolveAccount(ctx context.Context, externalID string) (storage.AccountRef, error) {
	if v, ok := l.accountCache.Get(externalID); ok {
		return v, nil
	}
	u, err := l.LookupUserByAttr(ctx, l.cfg.ExternalIDAttr, externalID)
	if err != nil {
		return "", err
	}
	account, err := storage.NewAccountRef(u.Mail)
	if err != nil {
		l.logger.Debug().Str("external_id", externalID).Str("dn", u.DN).Msg("user has no usable mail")
		return "", fmt.Errorf("%w: %s has no mail", ErrUserNotFound, externalID)
	}
	l.accountCache.Put(externalID, account)
	return account, nil
}

// ListAccounts enumerates every user with a mail address. The sequence yields
// a single error and stops if the directory cannot be searched.
func (l *LDAPClient) ListAccounts(ctx context.Context) iter.Seq2[storage.AccountRef, error] {
	return func(yield func(storage.AccountRef, error) bool) {
		conn, err := l.connection()
		if err != nil {
			yield("", err)
			return
		}
		searchReq := ldap.NewSearchRequest(
			l.cfg.UserBaseDN,
			ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, int(l.cfg.Timeout.Seconds()), false,
			l.cfg.ListFilter,
			[]string{"dn", l.cfg.MailAttr},
			nil,
		)
		res, err := conn.SearchWithPaging(searchReq, uint32(l.cfg.PageSize))
		if err != nil {
			l.logger.Error().Err(err).
				Str("user_base_dn", l.cfg.UserBaseDN).
				Str("filter", l.cfg.ListFilter).
				Msg("LDAP search failed in ListAccounts")
			yield("", fmt.Errorf("list accounts: %w", err))
			return
		}
		for _, e := range res.Entries {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			account, err := storage.NewAccountRef(e.GetAttributeValue(l.cfg.MailAttr))
			if err != nil {
				l.logger.Debug().Str("dn", e.DN).Msg("skipping user without mail")
				continue
			}
			if !yield(account, nil) {
				return
			}
		}
	}
}

func (l *LDAPClient) IntrospectToken(ctx context.Context, token, endpoint, authHeader string) (bool, string, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to build introspection request")
		return false, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		l.logger.Error().Err(err).Str("url", endpoint).Msg("introspection HTTP request failed")
		return false, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		l.logger.Debug().Int("status", resp.StatusCode).Msg("token introspection not active")
		return false, "", nil
	}
	var out struct {
		Active bool   `json:"active"`
		Sub    string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		l.logger.Error().Err(err).Msg("failed to decode introspection response")
		return false, "", err
	}

	username := strings.SplitN(out.Sub, "@", 2)[0]
	return out.Active, username, nil
}

func (l *LDAPClient) userFromEntry(e *ldap.Entry) *User {
	return &User{
		UID:         firstNonEmpty(e.GetAttributeValue(l.cfg.TokenUserAttr), e.GetAttributeValue(l.cfg.MailAttr)),
		DN:          e.DN,
		DisplayName: firstNonEmpty(e.GetAttributeValue("displayName"), e.GetAttributeValue("cn")),
		Mail:        e.GetAttributeValue(l.cfg.MailAttr),
	}
}

func userAttrList(cfg config.LDAPConfig) []string {
	attrs := []string{"dn", "displayName", "uid", "cn"}
	for _, a := range []string{cfg.MailAttr, cfg.TokenUserAttr, cfg.ExternalIDAttr} {
		if a != "" && !slices.Contains(attrs, a) {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func safeAttr(a string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return -1
	}, a)
}

func dialAndBind(cfg config.LDAPConfig) (*ldap.Conn, error) {
	l, err := dialLDAPAuto(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.BindDN != "" {
		if err := l.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			l.Close()
			return nil, fmt.Errorf("initial bind as %s: %w", cfg.BindDN, err)
		}
	}
	return l, nil
}

func dialLDAPAuto(cfg config.LDAPConfig) (*ldap.Conn, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("LDAP URL is empty")
	}

	isLDAPS := strings.HasPrefix(strings.ToLower(u), "ldaps://")
	isLDAP := strings.HasPrefix(strings.ToLower(u), "ldap://")

	if !isLDAP && !isLDAPS {
		return nil, errors.New("URL must start with ldap:// or ldaps://")
	}

	if isLDAPS {
		return ldap.DialURL(u, ldap.DialWithTLSConfig(tlsConfigFor(cfg, strings.TrimPrefix(u, "ldaps://"))))
	}

	conn, err := ldap.DialURL(u)
	if err != nil {
		return nil, err
	}

	if cfg.RequireTLS {
		if err := conn.StartTLS(tlsConfigFor(cfg, strings.TrimPrefix(u, "ldap://"))); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	return conn, nil
}

func tlsConfigFor(cfg config.LDAPConfig, hostPort string) *tls.Config {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
		tlsConfig.ServerName = host
	} else {
		tlsConfig.ServerName = hostPort
	}
	return tlsConfig
}
