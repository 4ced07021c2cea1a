package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("KEYCLOAK_URL", "")
	t.Setenv("LOGIN_STRATEGY", "")
	c := config.New()

	require.Equal(t, "http://localhost:8090/realms/Kienlongbank", c.GetIssuerURL())
	require.Equal(t, "http://localhost:8090/realms/Kienlongbank/protocol/openid-connect/token", c.GetTokenURL())
	require.Equal(t, config.DirectGrantStrategy, c.GetLoginStrategy())
	require.Equal(t, []string{"localhost:8090"}, c.GetProviderHosts())
	require.Equal(t, 30*time.Second, c.GetPollInterval())
	require.Equal(t, 30*time.Minute, c.GetProfileIdleTimeout())
	require.Equal(t, []string{"openid", "profile", "email"}, c.GetScopes())
	require.False(t, c.GetRegistrationEnabled())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  url: http://idp.internal:8080/
  realm: bank
  strategy: redirect
session:
  poll_interval: 5s
storage:
  dir: /var/lib/klb
`), 0o600))

	t.Setenv("KEYCLOAK_REALM", "override")
	t.Setenv("SESSION_FILE", "")
	t.Setenv("FOLDER", "")

	c, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://idp.internal:8080", c.GetProviderURL())
	require.Equal(t, "override", c.GetRealm())
	require.Equal(t, config.RedirectStrategy, c.GetLoginStrategy())
	require.Equal(t, 5*time.Second, c.GetPollInterval())
	require.Equal(t, filepath.Join("/var/lib/klb", "session.json"), c.GetSessionFile())
}

func TestLoadMissingFile(t *testing.T) {
	c, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [unterminated"), 0o600))
	_, err := config.Load(path)
	require.Error(t, err)
}
