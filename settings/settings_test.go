package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjytdlp/mjytdlp/types"
)

func TestSanitize(t *testing.T) {
	settings, err := Sanitize([]byte(`{
		"default_provider": "ghost",
		"providers": [
			{"id": "openai", "model": "gpt-4o-mini", "base_url": " https://api.openai.com ", "timeout": "12.5"},
			{"name": "local", "enabled": "off", "auth_header": "", "extra_headers": {"X-A": " 1 ", "": "x", "X-B": 2}},
			{"id": "openai", "model": "duplicate"},
			{"label": "no id"},
			"junk"
		]
	}`))
	require.NoError(t, err)

	require.Len(t, settings.Providers, 2)
	assert.Empty(t, settings.DefaultProvider, "default naming an unknown provider is cleared")

	openai := settings.Providers[0]
	assert.Equal(t, "openai", openai.Id)
	assert.Equal(t, "openai", openai.Label)
	assert.Equal(t, "gpt-4o-mini", openai.Model)
	assert.Equal(t, "https://api.openai.com", openai.BaseUrl)
	assert.Equal(t, 12.5, openai.Timeout)
	assert.Equal(t, DefaultAuthHeader, openai.AuthHeader)
	assert.Equal(t, DefaultAuthPrefix, openai.AuthPrefix)
	assert.True(t, openai.Enabled)

	local := settings.Providers[1]
	assert.Equal(t, "local", local.Id)
	assert.False(t, local.Enabled)
	assert.Empty(t, local.AuthHeader)
	assert.Equal(t, map[string]string{"X-A": "1"}, local.ExtraHeaders)
}

func TestSanitizeRejectsNonObject(t *testing.T) {
	for _, input := range []string{`[]`, `"x"`, `null`, `{`} {
		_, err := Sanitize([]byte(input))
		assert.ErrorIs(t, err, ErrInvalidSettings, input)
	}
}

func TestStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "nested"))

	empty := store.Load()
	assert.Empty(t, empty.Providers)

	saved, err := store.Save([]byte(`{"default_provider":"p1","providers":[{"id":"p1","model":"m","api_key":"sk-1234567890"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "p1", saved.DefaultProvider)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded := store.Load()
	assert.Equal(t, saved, loaded)

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestStoreLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{nope"), 0o600))

	settings := NewStore(dir).Load()
	assert.Empty(t, settings.Providers)
}

func TestResolve(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Save([]byte(`{"default_provider":"a","providers":[{"id":"a","model":"m"},{"id":"b","enabled":false}]}`))
	require.NoError(t, err)

	p, err := store.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Id)

	tests := []struct {
		name     string
		provider string
		want     string
	}{
		{"disabled", "b", "provider disabled: b"},
		{"unknown", "zzz", "provider not found: zzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Resolve(tt.provider)
			var toolErr *types.ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Equal(t, types.KindNotConfigured, toolErr.Kind)
			assert.Equal(t, tt.want, toolErr.Message)
		})
	}

	_, err = NewStore(t.TempDir()).Resolve("")
	var toolErr *types.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, types.KindNotConfigured, toolErr.Kind)
}

func TestListAndMask(t *testing.T) {
	settings := &Settings{
		DefaultProvider: "a",
		Providers: []Provider{
			{Id: "a", Label: "A", ApiKey: "sk-abcdefgh", Enabled: true},
			{Id: "b", Label: "B", ApiKey: "short"},
		},
	}

	list := settings.List()
	require.NotNil(t, list.DefaultProvider)
	assert.Equal(t, "a", *list.DefaultProvider)
	assert.True(t, list.Providers[0].IsDefault)
	assert.False(t, list.Providers[1].IsDefault)

	data, err := json.Marshal(list)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-abcdefgh")

	masked := settings.Masked()
	assert.Equal(t, "sk***gh", masked.Providers[0].ApiKey)
	assert.Equal(t, "***", masked.Providers[1].ApiKey)
	assert.Equal(t, "sk-abcdefgh", settings.Providers[0].ApiKey, "original is not modified")
}

func TestResolvedApiKey(t *testing.T) {
	t.Setenv("MJYTDLP_TEST_KEY", " from-env ")
	p := Provider{ApiKey: "inline", ApiKeyEnv: "MJYTDLP_TEST_KEY"}
	assert.Equal(t, "from-env", p.ResolvedApiKey())

	p.ApiKeyEnv = ""
	assert.Equal(t, "inline", p.ResolvedApiKey())
}
