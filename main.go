package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjytdlp/mjytdlp/asr"
	webhttp "github.com/mjytdlp/mjytdlp/backends/web/http"
	"github.com/mjytdlp/mjytdlp/config"
	"github.com/mjytdlp/mjytdlp/cookies"
	"github.com/mjytdlp/mjytdlp/mcp"
	"github.com/mjytdlp/mjytdlp/metrics"
	"github.com/mjytdlp/mjytdlp/settings"
	"github.com/mjytdlp/mjytdlp/storages/cache"
	"github.com/mjytdlp/mjytdlp/tools"
	"github.com/mjytdlp/mjytdlp/translate"
	"github.com/mjytdlp/mjytdlp/ytdlp"
)

var (
	flagConfFilePath string
	flagLogLevel     string
)

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "mjytdlp",
		Short: "MCP gateway for translation, yt-dlp metadata and transcription",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logLevel, err := log.ParseLevel(flagLogLevel)
			if err != nil {
				return errors.Wrap(err, "invalid flag 'loglevel'")
			}
			log.SetLevel(logLevel)
			return nil
		},
		RunE: serve,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfFilePath, "config", "", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "loglevel", "info", "Log level, one of: trace, debug, info, warn, error, fatal, panic")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		RunE:  serve,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", mcp.ServerName, mcp.ServerVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("MJYT-DLP exited")
	}
}

func serve(cmd *cobra.Command, args []string) error {
	conf, err := config.LoadConfig(flagConfFilePath)
	if err != nil {
		return errors.Wrap(err, "error loading config")
	}
	if err := os.MkdirAll(conf.DataDir, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create data dir %s", conf.DataDir)
	}

	var rdb *redis.Client
	if conf.Redis != nil {
		if rdb, err = connectRedis(cmd.Context(), conf.Redis); err != nil {
			return err
		}
		defer rdb.Close()
	}

	m := metrics.New()
	store := mcp.NewSessionStore(conf.Sessions, m, clockwork.NewRealClock())

	cacheStorage, err := cache.New(conf.Cache.Type, rdb, store.Clock())
	if err != nil {
		return err
	}

	cookieStore := cookies.NewStore(conf.DataDir)
	settingsStore := settings.NewStore(conf.DataDir)
	extractor := ytdlp.NewExtractor(ytdlp.NewExecRunner(), cookieStore, cacheStorage, ytdlp.Config{
		Binary:       conf.Ytdlp.Binary,
		CacheTTL:     conf.Ytdlp.CacheTTL,
		FetchTimeout: conf.Ytdlp.FetchTimeout,
	})
	transcriber := asr.New(asr.Config{
		Url:        conf.Asr.Url,
		ApiKey:     conf.Asr.ApiKey,
		AuthHeader: conf.Asr.AuthHeader,
		AuthPrefix: conf.Asr.AuthPrefix,
		Timeout:    conf.Asr.Timeout,
		MTls:       conf.Asr.MTls,
	}, extractor)
	if !transcriber.Configured() {
		log.Warning("ASR service URL is not configured, transcribe will fail")
	}

	registry, err := tools.NewRegistry(m, tools.Builtin(tools.Services{
		Translator:  translate.New(settingsStore, conf.Translate.Timeout),
		Extractor:   extractor,
		Transcriber: transcriber,
	}, conf.Tools.CallTimeout)...)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(conf, mcp.Deps{
		Store:    store,
		Registry: registry,
		Metrics:  m,
		Settings: settingsStore,
		Cookies:  cookieStore,
	})
	if err != nil {
		return errors.Wrap(err, "error creating server")
	}

	log.WithFields(log.Fields{
		"server_name":    mcp.ServerName,
		"server_version": mcp.ServerVersion,
		"addr":           conf.Addr,
		"port":           conf.Port,
		"mcp_end_point":  conf.McpEndpoint,
		"sse_end_point":  conf.SseEndpoint,
		"data_dir":       conf.DataDir,
		"admin":          conf.Admin.Enabled(),
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer webhttp.TransportPool.CloseIdle()
	return server.Start(ctx)
}

func connectRedis(ctx context.Context, conf *config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr: conf.Addr,
	}
	if conf.Username != "" {
		opts.Username = conf.Username
	}
	if conf.Password != "" {
		opts.Password = conf.Password
	}
	if conf.DB != 0 {
		opts.DB = conf.DB
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", conf.Addr)
	}
	return rdb, nil
}
