package coverage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every configuration variable so a test starts from the
// built-in defaults regardless of the host environment.
func clearEnv(t *testing.T) {
	t.Helper()

	keys := []string{
		"API_URL", "API_HOST", "API_PORT", "API_VERSION",
		"USERNAME", "PASSWORD",
		"SSL_VERIFY", "SSL_CERT",
		"CONNECT_TIMEOUT", "REQUEST_TIMEOUT",
		"MAX_RETRIES", "RETRY_DELAY", "TOKEN_CACHE_TTL",
	}

	for _, key := range keys {
		t.Setenv(envPrefix+key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	config := Load(nil)

	assert.Equal(t, "https://coverage.dmawi.de:8080/v1", config.APIURL)
	assert.Empty(t, config.Username)
	assert.Empty(t, config.Password)
	assert.False(t, config.SSLVerify)
	assert.Equal(t, 30*time.Second, config.ConnectTimeout)
	assert.Equal(t, 300*time.Second, config.RequestTimeout)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Second, config.RetryDelay)
	assert.Equal(t, 5*time.Minute, config.TokenCacheTTL)
}

func TestLoad_ComposedAPIURL(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPrefix+"API_HOST", "custom.host")
	t.Setenv(envPrefix+"API_PORT", "9000")
	t.Setenv(envPrefix+"API_VERSION", "2")

	config := Load(nil)

	assert.Equal(t, "https://custom.host:9000/v2", config.APIURL)
}

func TestLoad_ExplicitAPIURLWins(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPrefix+"API_URL", "http://localhost:3000/v1")
	t.Setenv(envPrefix+"API_HOST", "ignored.host")

	config := Load(nil)

	assert.Equal(t, "http://localhost:3000/v1", config.APIURL)
}

func TestLoad_EnvironmentValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPrefix+"USERNAME", "ci-bot")
	t.Setenv(envPrefix+"PASSWORD", "secret")
	t.Setenv(envPrefix+"SSL_VERIFY", "true")
	t.Setenv(envPrefix+"CONNECT_TIMEOUT", "10")
	t.Setenv(envPrefix+"MAX_RETRIES", "5")

	config := Load(nil)

	assert.Equal(t, "ci-bot", config.Username)
	assert.Equal(t, "secret", config.Password)
	assert.True(t, config.SSLVerify)
	assert.Equal(t, 10*time.Second, config.ConnectTimeout)
	assert.Equal(t, 5, config.MaxRetries)
}

func TestLoad_DurationStrings(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPrefix+"REQUEST_TIMEOUT", "2m30s")
	t.Setenv(envPrefix+"RETRY_DELAY", "0.5")

	config := Load(nil)

	assert.Equal(t, 2*time.Minute+30*time.Second, config.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, config.RetryDelay)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPrefix+"USERNAME", "from-env")

	username := "from-override"
	retries := 7
	sslVerify := true

	config := Load(&Overrides{
		Username:   &username,
		MaxRetries: &retries,
		SSLVerify:  &sslVerify,
	})

	assert.Equal(t, "from-override", config.Username)
	assert.Equal(t, 7, config.MaxRetries)
	assert.True(t, config.SSLVerify)

	// Nil override fields keep the environment-derived values.
	assert.Equal(t, "https://coverage.dmawi.de:8080/v1", config.APIURL)
}

func TestConfigValidate(t *testing.T) {
	config := Config{
		APIURL:   "https://coverage.example.com/v1",
		Username: "user",
		Password: "pass",
	}

	assert.NoError(t, config.Validate())
}

func TestConfigValidate_MissingCredentials(t *testing.T) {
	config := Config{APIURL: "https://coverage.example.com/v1"}

	assert.ErrorIs(t, config.Validate(), ErrMissingCredentials)

	config.Username = "user"
	assert.ErrorIs(t, config.Validate(), ErrMissingCredentials)

	config.Password = "pass"
	assert.NoError(t, config.Validate())
}

func TestConfigValidate_InvalidAPIURL(t *testing.T) {
	config := Config{Username: "user", Password: "pass"}

	for _, url := range []string{"", "ftp://coverage.example.com", "coverage.example.com"} {
		config.APIURL = url
		assert.ErrorIs(t, config.Validate(), ErrInvalidAPIURL, "url %q", url)
	}
}

func TestNewConfig(t *testing.T) {
	clearEnv(t)

	_, err := NewConfig(nil)
	require.ErrorIs(t, err, ErrMissingCredentials)

	username := "user"
	password := "pass"

	config, err := NewConfig(&Overrides{Username: &username, Password: &password})
	require.NoError(t, err)
	assert.Equal(t, "user", config.Username)
}
