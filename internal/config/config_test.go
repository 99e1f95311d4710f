package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "STORAGE_TYPE", "IMAP_SECURITY", "SCAN_USERS_PER_SECOND", "AMQP_RECONNECT_MAX_DELAY", "AMQP_ADDED_ROUTING_KEY", "AUTH_ADMIN_USERS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "tls", cfg.IMAP.Security)
	assert.Equal(t, 1, cfg.Scan.UsersPerSecond)
	assert.Equal(t, 30*time.Second, cfg.Broker.ReconnectMaxDelay)
	assert.Equal(t, "sabre:contact:created", cfg.Broker.AddedRoutingKey)
	assert.Empty(t, cfg.Auth.AdminUsers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("SQLITE_DRIVER", "sqlite3")
	t.Setenv("AUTH_ADMIN_USERS", " admin, ops@y.com ,,")
	t.Setenv("SCAN_USERS_PER_SECOND", "7")
	t.Setenv("AMQP_RECONNECT_MAX_DELAY", "2s")
	t.Setenv("IMAP_SECURITY", "starttls")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "sqlite3", cfg.Storage.SQLiteDriver)
	assert.Equal(t, []string{"admin", "ops@y.com"}, cfg.Auth.AdminUsers)
	assert.Equal(t, 7, cfg.Scan.UsersPerSecond)
	assert.Equal(t, 2*time.Second, cfg.Broker.ReconnectMaxDelay)
	assert.Equal(t, "starttls", cfg.IMAP.Security)
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("SCAN_USERS_PER_SECOND", "-4")
	t.Setenv("LDAP_PAGE_SIZE", "lots")
	t.Setenv("LDAP_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Scan.UsersPerSecond)
	assert.Equal(t, 500, cfg.LDAP.PageSize)
	assert.Equal(t, 5*time.Second, cfg.LDAP.Timeout)
}

func TestLoadRejectsUnknownModes(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "mongo")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("IMAP_SECURITY", "plaintext")
	_, err = Load()
	assert.Error(t, err)
}
