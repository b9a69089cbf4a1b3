package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mjytdlp/mjytdlp/config"
	"github.com/mjytdlp/mjytdlp/cookies"
	"github.com/mjytdlp/mjytdlp/jsonrpc"
	"github.com/mjytdlp/mjytdlp/metrics"
	"github.com/mjytdlp/mjytdlp/settings"
	"github.com/mjytdlp/mjytdlp/storages/sessions"
	"github.com/mjytdlp/mjytdlp/tools"
	"github.com/mjytdlp/mjytdlp/utils"
)

const (
	messagesSessionVar = "sessionId"

	maxBodySize = 10 << 20

	readHeaderTimeout = 10 * time.Second
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Store    *sessions.Store
	Registry *tools.Registry
	Metrics  *metrics.Metrics
	Settings *settings.Store
	Cookies  *cookies.Store
}

type Server struct {
	conf       *config.Config
	store      *sessions.Store
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	settings   *settings.Store
	cookies    *cookies.Store
	messages   *utils.EndpointTemplate

	// slots bounds every in-flight MCP request, streamSlots the long-lived
	// streams among them so calls always have room left.
	slots       *semaphore.Weighted
	streamSlots *semaphore.Weighted
}

// NewSessionStore builds the session store with its metrics hooks.
func NewSessionStore(conf config.SessionsConfig, m *metrics.Metrics, clock clockwork.Clock) *sessions.Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return sessions.NewStore(sessions.Options{
		Shards:       conf.Shards,
		QueueSize:    conf.QueueSize,
		AttachPolicy: sessions.AttachPolicy(conf.AttachPolicy),
		Clock:        clock,
		OnCreate: func(sess *sessions.Session) {
			m.SessionOpened(string(sess.Mode))
		},
		OnRemove: func(sess *sessions.Session, reason string) {
			m.SessionClosed(string(sess.Mode), reason)
			log.WithFields(log.Fields{
				"session_id": sess.Id,
				"mode":       sess.Mode,
				"reason":     reason,
				"age":        clock.Since(sess.CreatedAt).Round(time.Second).String(),
			}).Info("Session removed")
		},
	})
}

func NewServer(conf *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Registry == nil {
		return nil, errors.New("session store and tool registry are required")
	}

	messages, err := utils.NewEndpointTemplate(conf.MessagesEndpoint)
	if err != nil {
		return nil, err
	}

	return &Server{
		conf:        conf,
		store:       deps.Store,
		dispatcher:  NewDispatcher(deps.Store, deps.Registry, deps.Metrics),
		metrics:     deps.Metrics,
		settings:    deps.Settings,
		cookies:     deps.Cookies,
		messages:    messages,
		slots:       semaphore.NewWeighted(int64(conf.Workers.Max)),
		streamSlots: semaphore.NewWeighted(int64(conf.Workers.MaxStreams)),
	}, nil
}

// Router wires every endpoint of the gateway.
func (s *Server) Router() http.Handler {
	origins := []string{"*"}
	if s.conf.Cors != nil && len(s.conf.Cors.AllowedOrigins) > 0 {
		origins = s.conf.Cors.AllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{mcpSessionIdHeader},
	})
	c.Log = log.StandardLogger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)
	r.Use(s.addCommonHeaders)

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limit)
		r.Get(s.conf.SseEndpoint, s.handleSSE)
		r.Post(s.messages.Raw(), s.handleMessages)
		r.HandleFunc(s.conf.McpEndpoint, s.mainHandler)
	})

	if s.settings != nil && s.cookies != nil {
		r.Route("/admin", s.adminRoutes)
	}

	return r
}

// Start serves until ctx is done, then closes every session and shuts the
// HTTP server down.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.conf.Addr, s.conf.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(log.Fields{
			"addr": addr,
			"tls":  s.conf.Tls != nil,
		}).Info("Starting MCP server")
		var err error
		if s.conf.Tls != nil {
			err = httpServer.ListenAndServeTLS(s.conf.Tls.CertFile, s.conf.Tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	})

	g.Go(func() error {
		s.sweep(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		closed := s.store.CloseAll()
		log.WithField("sessions", closed).Info("Shutting down MCP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.conf.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// sweep expires idle sessions every sweep interval.
func (s *Server) sweep(ctx context.Context) {
	clock := s.store.Clock()
	ticker := clock.NewTicker(s.conf.Sessions.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if expired := s.store.Sweep(clock.Now(), s.conf.Sessions.IdleTimeout); len(expired) > 0 {
				log.WithField("sessions", len(expired)).Info("Expired idle sessions")
			}
		}
	}
}

// limit rejects requests over the worker ceiling instead of queueing them.
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !s.slots.TryAcquire(1) {
			s.writeBusy(w)
			return
		}
		defer s.slots.Release(1)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) addCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", ServerName+"/"+ServerVersion)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) writeBusy(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	s.writeJsonError(
		w,
		jsonrpc.GetErrorResponse("Server is busy", jsonrpc.ERROR_SERVER, nil, nil),
		http.StatusServiceUnavailable,
	)
}

func (s *Server) writeJsonError(w http.ResponseWriter, response *jsonrpc.Response, httpCode int) {
	s.writeJson(w, response, httpCode)
}

func (s *Server) writeJson(w http.ResponseWriter, payload any, httpCode int) {
	responseJson, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("Failed to marshal response")
		httpCode = http.StatusInternalServerError
		responseJson, _ = json.Marshal(jsonrpc.GetErrorResponse("Internal error", jsonrpc.ERROR_INTERNAL, nil, nil))
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(httpCode)
	if _, err := fmt.Fprintln(w, string(responseJson)); err != nil {
		log.WithError(err).Error("Failed to write response")
	}
}
