package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewId(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		id := NewSessionId()
		assert.Len(t, id, 32)
		assert.NotContains(t, id, "-")
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestEndpointTemplate(t *testing.T) {
	tmpl, err := NewEndpointTemplate("/mcp/messages/{sessionId}")
	require.NoError(t, err)

	uri, err := tmpl.Expand(map[string]string{"sessionId": "abc123"})
	require.NoError(t, err)
	assert.Equal(t, "/mcp/messages/abc123", uri)

	assert.Equal(t, map[string]string{"sessionId": "abc123"}, tmpl.Match("/mcp/messages/abc123"))
	assert.Equal(t, "/mcp/messages/{sessionId}", tmpl.Raw())

	_, err = NewEndpointTemplate("/mcp/{broken")
	assert.Error(t, err)
}

func TestDetectMime(t *testing.T) {
	assert.Equal(t, "image/png", DetectMime("cover.png", nil, "application/octet-stream"))
	assert.Equal(t, "application/octet-stream", DetectMime("track.zz-not-a-type", nil, "application/octet-stream"))
	assert.Equal(t, "text/plain; charset=utf-8", DetectMime("", []byte("hello"), "application/octet-stream"))
}

func TestSecureKey(t *testing.T) {
	assert.Equal(t, SecureKey("a"), SecureKey("a"))
	assert.NotEqual(t, SecureKey("a"), SecureKey("b"))
	assert.Len(t, SecureKey("anything"), 32)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("abc"))
	assert.Equal(t, "sk***yz", MaskSecret("sk-1234567xyz"))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "data.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
