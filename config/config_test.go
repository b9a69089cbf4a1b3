package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	conf, err := LoadConfig("")
	require.NoError(t, err)

	home, err := homedir.Dir()
	require.NoError(t, err)

	assert.Equal(t, uint(8000), conf.Port)
	assert.Equal(t, filepath.Join(home, ".mjyt-dlp"), conf.DataDir)
	assert.Equal(t, "/mcp/messages/{sessionId}", conf.MessagesEndpoint)
	assert.Equal(t, "supersede", conf.Sessions.AttachPolicy)
	assert.Equal(t, time.Hour, conf.Sessions.IdleTimeout)
	assert.Equal(t, "Bearer ", conf.Asr.AuthPrefix)
	assert.False(t, conf.Admin.Enabled())
}

func TestYamlFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "mjytdlp.yaml", `
port: 9100
dataDir: /tmp/mjyt
sessions:
  idleTimeout: 2d
  sweepInterval: 30
  attachPolicy: reject
workers:
  max: 10
  maxStreams: 4
cors:
  allowedOrigins: ["https://a.test"]
`)
	conf, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint(9100), conf.Port)
	assert.Equal(t, "/tmp/mjyt", conf.DataDir)
	assert.Equal(t, 48*time.Hour, conf.Sessions.IdleTimeout)
	assert.Equal(t, 30*time.Second, conf.Sessions.SweepInterval)
	assert.Equal(t, "reject", conf.Sessions.AttachPolicy)
	assert.Equal(t, 4, conf.Workers.MaxStreams)
	require.NotNil(t, conf.Cors)
	assert.Equal(t, []string{"https://a.test"}, conf.Cors.AllowedOrigins)
	assert.Equal(t, 15*time.Second, conf.Sessions.KeepAlive)
}

func TestEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8123")
	t.Setenv("MJYTDLP_DATA_DIR", "/srv/other")
	t.Setenv("MJYTDLP_HOME", "/srv/mjyt")
	t.Setenv("MJYTDLP_ASR_URL", "http://asr.local:9000")
	t.Setenv("MJYTDLP_ASR_AUTH_PREFIX", "Token ")
	t.Setenv("MJYTDLP_ADMIN_PASSWORD", "s3cret")
	t.Setenv("MJYTDLP_REDIS_ADDR", "localhost:6379")
	t.Setenv("MJYTDLP_CACHE_TYPE", "redis")

	path := writeConfig(t, "mjytdlp.json", `{"port": 9000, "asr": {"timeout": "5m"}}`)
	conf, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint(8123), conf.Port)
	assert.Equal(t, "/srv/mjyt", conf.DataDir)
	assert.Equal(t, "http://asr.local:9000", conf.Asr.Url)
	assert.Equal(t, "Token ", conf.Asr.AuthPrefix)
	assert.Equal(t, 5*time.Minute, conf.Asr.Timeout)
	assert.True(t, conf.Admin.Enabled())
	require.NotNil(t, conf.Redis)
	assert.Equal(t, "localhost:6379", conf.Redis.Addr)
}

func TestDisableAdmin(t *testing.T) {
	clearEnv(t)
	t.Setenv("MJYTDLP_ADMIN_PASSWORD", "s3cret")
	t.Setenv("MJYTDLP_DISABLE_ADMIN", "yes")

	conf, err := LoadConfig("")
	require.NoError(t, err)
	assert.False(t, conf.Admin.Enabled())
}

func TestInvalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
	}{
		{"policy", `{"sessions": {"attachPolicy": "share"}}`},
		{"duration", `{"sessions": {"idleTimeout": "soon"}}`},
		{"template", `{"messagesEndpoint": "/mcp/messages/{id}"}`},
		{"endpoint", `{"mcpEndpoint": "mcp"}`},
		{"workers", `{"workers": {"max": 4, "maxStreams": 4}}`},
		{"cache", `{"cache": {"type": "memcached"}}`},
		{"redis cache without redis", `{"cache": {"type": "redis"}}`},
		{"port", `{"port": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "bad.json", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
