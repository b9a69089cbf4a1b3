package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/xhit/go-str2duration/v2"

	webhttp "github.com/mjytdlp/mjytdlp/backends/web/http"
	"github.com/mjytdlp/mjytdlp/storages"
	"github.com/mjytdlp/mjytdlp/storages/sessions"
	"github.com/mjytdlp/mjytdlp/utils"
)

const DefaultDataDir = "~/.mjyt-dlp"

type CorsConfig struct {
	AllowedOrigins []string `koanf:"allowedOrigins"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type SessionsConfig struct {
	IdleTimeout   time.Duration `koanf:"idleTimeout"`
	SweepInterval time.Duration `koanf:"sweepInterval"`
	KeepAlive     time.Duration `koanf:"keepAlive"`
	QueueSize     int           `koanf:"queueSize"`
	Shards        int           `koanf:"shards"`
	AttachPolicy  string        `koanf:"attachPolicy"`
}

// WorkersConfig caps concurrent MCP requests. MaxStreams of them at most
// may be long-lived SSE streams.
type WorkersConfig struct {
	Max        int `koanf:"max"`
	MaxStreams int `koanf:"maxStreams"`
}

type ToolsConfig struct {
	CallTimeout time.Duration `koanf:"callTimeout"`
}

type TranslateConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type YtdlpConfig struct {
	Binary       string        `koanf:"binary"`
	CacheTTL     time.Duration `koanf:"cacheTTL"`
	FetchTimeout time.Duration `koanf:"fetchTimeout"`
}

type CacheConfig struct {
	Type string `koanf:"type"`
}

type AsrConfig struct {
	Url        string             `koanf:"url"`
	ApiKey     string             `koanf:"apiKey"`
	AuthHeader string             `koanf:"authHeader"`
	AuthPrefix string             `koanf:"authPrefix"`
	Timeout    time.Duration      `koanf:"timeout"`
	MTls       *webhttp.TlsConfig `koanf:"mTLS"`
}

type AdminConfig struct {
	Password string `koanf:"password"`
	Disabled bool   `koanf:"disabled"`
}

// Enabled reports whether the admin API is served at all.
func (a AdminConfig) Enabled() bool {
	return !a.Disabled && strings.TrimSpace(a.Password) != ""
}

type TlsConfig struct {
	CertFile string `koanf:"certFile"`
	KeyFile  string `koanf:"keyFile"`
}

type Config struct {
	HostName         string          `koanf:"hostName"`
	Addr             string          `koanf:"addr"`
	Port             uint            `koanf:"port"`
	DataDir          string          `koanf:"dataDir"`
	McpEndpoint      string          `koanf:"mcpEndpoint"`
	SseEndpoint      string          `koanf:"sseEndpoint"`
	MessagesEndpoint string          `koanf:"messagesEndpoint"`
	ShutdownTimeout  time.Duration   `koanf:"shutdownTimeout"`
	Tls              *TlsConfig      `koanf:"tls"`
	Cors             *CorsConfig     `koanf:"cors"`
	Redis            *RedisConfig    `koanf:"redis"`
	Sessions         SessionsConfig  `koanf:"sessions"`
	Workers          WorkersConfig   `koanf:"workers"`
	Tools            ToolsConfig     `koanf:"tools"`
	Translate        TranslateConfig `koanf:"translate"`
	Ytdlp            YtdlpConfig     `koanf:"ytdlp"`
	Cache            CacheConfig     `koanf:"cache"`
	Asr              AsrConfig       `koanf:"asr"`
	Admin            AdminConfig     `koanf:"admin"`
}

func Default() *Config {
	return &Config{
		HostName:         "localhost",
		Addr:             "0.0.0.0",
		Port:             8000,
		DataDir:          DefaultDataDir,
		McpEndpoint:      "/mcp",
		SseEndpoint:      "/mcp/sse",
		MessagesEndpoint: "/mcp/messages/{sessionId}",
		ShutdownTimeout:  10 * time.Second,
		Sessions: SessionsConfig{
			IdleTimeout:   time.Hour,
			SweepInterval: time.Minute,
			KeepAlive:     15 * time.Second,
			QueueSize:     sessions.DefaultQueueSize,
			Shards:        sessions.DefaultShards,
			AttachPolicy:  string(sessions.PolicySupersede),
		},
		Workers: WorkersConfig{
			Max:        256,
			MaxStreams: 192,
		},
		Tools: ToolsConfig{
			CallTimeout: 120 * time.Second,
		},
		Translate: TranslateConfig{
			Timeout: 30 * time.Second,
		},
		Ytdlp: YtdlpConfig{
			Binary:       "yt-dlp",
			CacheTTL:     10 * time.Minute,
			FetchTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Type: storages.InMemoryStorageType,
		},
		Asr: AsrConfig{
			AuthHeader: webhttp.DefaultAuthHeader,
			AuthPrefix: webhttp.DefaultAuthPrefix,
			Timeout:    600 * time.Second,
		},
	}
}

// envKeys maps the supported environment variables onto config keys.
var envKeys = map[string]string{
	"PORT":                    "port",
	"MJYTDLP_ADDR":            "addr",
	"MJYTDLP_HOME":            "dataDir",
	"MJYTDLP_DATA_DIR":        "dataDir",
	"MJYTDLP_ASR_URL":         "asr.url",
	"MJYTDLP_ASR_API_KEY":     "asr.apiKey",
	"MJYTDLP_ASR_AUTH_HEADER": "asr.authHeader",
	"MJYTDLP_ASR_AUTH_PREFIX": "asr.authPrefix",
	"MJYTDLP_ASR_TIMEOUT":     "asr.timeout",
	"MJYTDLP_ADMIN_PASSWORD":  "admin.password",
	"MJYTDLP_DISABLE_ADMIN":   "admin.disabled",
	"MJYTDLP_REDIS_ADDR":      "redis.addr",
	"MJYTDLP_CACHE_TYPE":      "cache.type",
	"MJYTDLP_YTDLP_BINARY":    "ytdlp.binary",
}

// LoadConfig builds the configuration from the defaults, an optional JSON or
// YAML file and the environment, in that order, then validates it.
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(configPath)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		default:
			parser = json.Parser()
		}
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}

	homeSet := false
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		configKey, ok := envKeys[key]
		if !ok {
			return "", nil
		}
		if key == "MJYTDLP_ASR_AUTH_PREFIX" {
			return configKey, value
		}
		if strings.TrimSpace(value) == "" {
			return "", nil
		}
		switch key {
		case "MJYTDLP_HOME":
			homeSet = true
		case "MJYTDLP_DATA_DIR":
			if homeSet {
				return "", nil
			}
		case "MJYTDLP_DISABLE_ADMIN":
			return configKey, truthy(value)
		}
		return configKey, strings.TrimSpace(value)
	}), nil); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}

	conf := Default()
	if err := k.UnmarshalWithConf("", conf, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.DecodeHookFuncType(durationHook),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           conf,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// durationHook reads durations as "90s", "1h30m", "2d" or a number of seconds.
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		d, err := str2duration.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid duration %q", v)
		}
		return d, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	}
	return data, nil
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("server address cannot be empty")
	}
	if c.Port == 0 || c.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Port)
	}
	if c.HostName == "" {
		c.HostName = "localhost"
	}
	for name, endpoint := range map[string]string{
		"mcpEndpoint":      c.McpEndpoint,
		"sseEndpoint":      c.SseEndpoint,
		"messagesEndpoint": c.MessagesEndpoint,
	} {
		if !strings.HasPrefix(endpoint, "/") {
			return fmt.Errorf("%s must start with /", name)
		}
	}
	tmpl, err := utils.NewEndpointTemplate(c.MessagesEndpoint)
	if err != nil {
		return err
	}
	if !slices.Contains(tmpl.Varnames(), "sessionId") {
		return errors.New("messagesEndpoint must contain {sessionId}")
	}

	dataDir, err := homedir.Expand(strings.TrimSpace(c.DataDir))
	if err != nil {
		return errors.Wrap(err, "failed to expand data directory")
	}
	if dataDir == "" {
		return errors.New("data directory cannot be empty")
	}
	c.DataDir = dataDir

	switch sessions.AttachPolicy(c.Sessions.AttachPolicy) {
	case sessions.PolicySupersede, sessions.PolicyReject:
	default:
		return fmt.Errorf(`unknown attach policy "%s"`, c.Sessions.AttachPolicy)
	}
	if c.Sessions.IdleTimeout <= 0 || c.Sessions.SweepInterval <= 0 || c.Sessions.KeepAlive <= 0 {
		return errors.New("session timeouts must be positive")
	}
	if c.Sessions.QueueSize <= 0 {
		return errors.New("sessions.queueSize must be positive")
	}

	if c.Workers.Max <= 0 {
		return errors.New("workers.max must be positive")
	}
	if c.Workers.MaxStreams <= 0 || c.Workers.MaxStreams >= c.Workers.Max {
		return errors.New("workers.maxStreams must be positive and lower than workers.max")
	}

	supported := []string{storages.InMemoryStorageType, storages.RedisStorageType, storages.NoneStorageType}
	if !slices.Contains(supported, c.Cache.Type) {
		return fmt.Errorf(`cache type "%s" is not supported`, c.Cache.Type)
	}
	if c.Cache.Type == storages.RedisStorageType && (c.Redis == nil || c.Redis.Addr == "") {
		return errors.New("redis cache requires redis.addr")
	}

	if c.Asr.AuthHeader == "" {
		c.Asr.AuthHeader = webhttp.DefaultAuthHeader
	}
	if c.Asr.AuthPrefix == "" {
		c.Asr.AuthPrefix = webhttp.DefaultAuthPrefix
	}
	return nil
}
