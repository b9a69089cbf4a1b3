package settings

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/types"
	"github.com/mjytdlp/mjytdlp/utils"
)

const (
	FileName = "mcp_settings.json"

	DefaultAuthHeader = "Authorization"
	DefaultAuthPrefix = "Bearer "
)

var ErrInvalidSettings = errors.New("settings must be a JSON object")

// Provider is an OpenAI-compatible chat completions endpoint used for translation.
type Provider struct {
	Id           string            `json:"id"`
	Label        string            `json:"label"`
	BaseUrl      string            `json:"base_url"`
	EndpointUrl  string            `json:"endpoint_url"`
	Model        string            `json:"model"`
	ApiKey       string            `json:"api_key"`
	ApiKeyEnv    string            `json:"api_key_env"`
	AuthHeader   string            `json:"auth_header"`
	AuthPrefix   string            `json:"auth_prefix"`
	ExtraHeaders map[string]string `json:"extra_headers"`
	// Timeout is in seconds, zero means the translation default.
	Timeout float64 `json:"timeout,omitempty"`
	Enabled bool    `json:"enabled"`
}

// ResolvedApiKey prefers the environment variable named by ApiKeyEnv.
func (p *Provider) ResolvedApiKey() string {
	if p.ApiKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(p.ApiKeyEnv))
	}
	return strings.TrimSpace(p.ApiKey)
}

type Settings struct {
	DefaultProvider string     `json:"default_provider,omitempty"`
	Providers       []Provider `json:"providers"`
}

// ProviderSummary is the listing shape; it never carries keys.
type ProviderSummary struct {
	Id          string `json:"id"`
	Label       string `json:"label"`
	Model       string `json:"model"`
	BaseUrl     string `json:"base_url"`
	EndpointUrl string `json:"endpoint_url"`
	Enabled     bool   `json:"enabled"`
	IsDefault   bool   `json:"is_default"`
}

type ProviderList struct {
	DefaultProvider *string           `json:"default_provider"`
	Providers       []ProviderSummary `json:"providers"`
}

func (s *Settings) List() *ProviderList {
	out := &ProviderList{Providers: make([]ProviderSummary, 0, len(s.Providers))}
	if s.DefaultProvider != "" {
		def := s.DefaultProvider
		out.DefaultProvider = &def
	}
	for _, p := range s.Providers {
		out.Providers = append(out.Providers, ProviderSummary{
			Id:          p.Id,
			Label:       p.Label,
			Model:       p.Model,
			BaseUrl:     p.BaseUrl,
			EndpointUrl: p.EndpointUrl,
			Enabled:     p.Enabled,
			IsDefault:   p.Id == s.DefaultProvider,
		})
	}
	return out
}

// Masked returns a copy safe to hand to the admin API.
func (s *Settings) Masked() *Settings {
	out := &Settings{
		DefaultProvider: s.DefaultProvider,
		Providers:       make([]Provider, len(s.Providers)),
	}
	for i, p := range s.Providers {
		p.ApiKey = utils.MaskSecret(p.ApiKey)
		out.Providers[i] = p
	}
	return out
}

// Store reads and writes the settings file in the data directory.
type Store struct {
	path string
	lock sync.RWMutex
}

func NewStore(dataDir string) *Store {
	return &Store{
		path: filepath.Join(dataDir, FileName),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the sanitized settings. A missing or unreadable file yields
// empty settings.
func (s *Store) Load() *Settings {
	s.lock.RLock()
	defer s.lock.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("path", s.path).Warning("Failed to read settings file")
		}
		return &Settings{Providers: []Provider{}}
	}

	settings, err := Sanitize(data)
	if err != nil {
		log.WithError(err).WithField("path", s.path).Warning("Ignoring malformed settings file")
		return &Settings{Providers: []Provider{}}
	}
	return settings
}

// Save sanitizes data and writes it atomically.
func (s *Store) Save(data []byte) (*Settings, error) {
	settings, err := Sanitize(data)
	if err != nil {
		return nil, err
	}

	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode settings")
	}
	payload = append(payload, '\n')

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := utils.WriteFileAtomic(s.path, payload, 0o600); err != nil {
		return nil, errors.Wrap(err, "failed to save settings")
	}
	return settings, nil
}

// Resolve picks the provider to translate with: the requested one or the default.
func (s *Store) Resolve(providerId string) (*Provider, error) {
	settings := s.Load()

	chosen := strings.TrimSpace(providerId)
	if chosen == "" {
		chosen = settings.DefaultProvider
	}
	if chosen == "" {
		return nil, types.NewNotConfigured("no provider configured, set default_provider in MCP settings")
	}

	for i := range settings.Providers {
		p := &settings.Providers[i]
		if p.Id != chosen {
			continue
		}
		if !p.Enabled {
			return nil, types.NewNotConfigured("provider disabled: " + chosen)
		}
		return p, nil
	}
	return nil, types.NewNotConfigured("provider not found: " + chosen)
}

// Sanitize normalizes a settings document: providers without an id are
// dropped, duplicate ids keep the first entry, and a default that names an
// unknown provider is cleared.
func Sanitize(data []byte) (*Settings, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, ErrInvalidSettings
	}

	settings := &Settings{Providers: []Provider{}}
	seen := map[string]bool{}
	if list, ok := raw["providers"].([]any); ok {
		for _, entry := range list {
			p, ok := sanitizeProvider(entry)
			if !ok || seen[p.Id] {
				continue
			}
			seen[p.Id] = true
			settings.Providers = append(settings.Providers, p)
		}
	}

	def := asString(raw["default_provider"])
	if def != "" && seen[def] {
		settings.DefaultProvider = def
	}
	return settings, nil
}

func sanitizeProvider(entry any) (Provider, bool) {
	raw, ok := entry.(map[string]any)
	if !ok {
		return Provider{}, false
	}
	id := asString(raw["id"])
	if id == "" {
		id = asString(raw["name"])
	}
	if id == "" {
		return Provider{}, false
	}

	p := Provider{
		Id:           id,
		Label:        asString(raw["label"]),
		BaseUrl:      asString(raw["base_url"]),
		EndpointUrl:  asString(raw["endpoint_url"]),
		Model:        asString(raw["model"]),
		ApiKey:       asString(raw["api_key"]),
		ApiKeyEnv:    asString(raw["api_key_env"]),
		AuthHeader:   DefaultAuthHeader,
		AuthPrefix:   DefaultAuthPrefix,
		ExtraHeaders: map[string]string{},
		Timeout:      asPositiveFloat(raw["timeout"]),
		Enabled:      true,
	}
	if p.Label == "" {
		p.Label = id
	}
	// an explicit empty string disables the header, absence means default
	if v, ok := raw["auth_header"].(string); ok {
		p.AuthHeader = strings.TrimSpace(v)
	}
	if v, ok := raw["auth_prefix"].(string); ok {
		p.AuthPrefix = v
	}
	if headers, ok := raw["extra_headers"].(map[string]any); ok {
		for k, v := range headers {
			vs, ok := v.(string)
			k, vs = strings.TrimSpace(k), strings.TrimSpace(vs)
			if ok && k != "" && vs != "" {
				p.ExtraHeaders[k] = vs
			}
		}
	}
	if enabled, ok := asBool(raw["enabled"]); ok {
		p.Enabled = enabled
	}
	return p, true
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asPositiveFloat(v any) float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		f, _ = t.Float64()
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	if f > 0 {
		return f
	}
	return 0
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return false, false
		}
		return f != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true, true
		case "0", "false", "no", "n", "off":
			return false, true
		}
	}
	return false, false
}
