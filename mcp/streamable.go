package mcp

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/jsonrpc"
	"github.com/mjytdlp/mjytdlp/storages/sessions"
)

func (s *Server) mainHandler(w http.ResponseWriter, r *http.Request) {
	log.WithFields(log.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent(),
	}).Debug("Handling request")

	switch r.Method {
	case http.MethodPost:
		s.handlePostRequest(w, r)
	case http.MethodGet:
		s.handleGetRequest(w, r)
	case http.MethodDelete:
		s.handleDeleteRequest(w, r)
	default:
		s.handleUnsupportedRequest(w, r)
	}
}

func (s *Server) handlePostRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeJsonError(w, jsonrpc.GetErrorResponse("Failed to read request body", jsonrpc.ERROR_PARSE, nil, nil), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var sess *sessions.Session
	if sessionId := r.Header.Get(mcpSessionIdHeader); sessionId != "" {
		if sess = s.validateSession(w, sessionId); sess == nil {
			return
		}
	} else if isInitialize(body) {
		// a fresh initialize without a session id opens a stateful session
		if sess, err = s.store.Create(sessions.ModeHTTP, sessions.ClientInfo{}, ""); err != nil {
			log.WithError(err).Error("Failed to create session")
			s.writeJsonError(w, jsonrpc.GetErrorResponse("Failed to create session", jsonrpc.ERROR_SERVER, nil, nil), http.StatusInternalServerError)
			return
		}
	}
	if sess != nil {
		w.Header().Set(mcpSessionIdHeader, sess.Id)
	}

	reply, failure := s.dispatcher.Handle(r.Context(), sess, body)
	if failure != nil {
		s.writeJsonError(w, failure, http.StatusBadRequest)
		return
	}
	if reply.Rejected {
		s.writeJsonError(w, reply.Responses[0], http.StatusBadRequest)
		return
	}
	if reply.Empty() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if r.Context().Err() != nil {
		s.requeue(sess, reply.Responses)
		return
	}

	if acceptsEventStream(r) {
		stream, err := OpenStream(w, s.metrics)
		if err == nil {
			for i, resp := range reply.Responses {
				if err := stream.Message(0, resp); err != nil {
					log.WithError(err).Warning("Failed to write SSE response")
					s.requeue(sess, reply.Responses[i:])
					return
				}
			}
			return
		}
		log.WithError(err).Debug("Falling back to a JSON response")
	}

	s.writeJson(w, reply.Payload(), http.StatusOK)
}

// requeue keeps the responses of a client that went away mid-call so a
// reconnecting GET stream receives them. Stateless calls lose them.
func (s *Server) requeue(sess *sessions.Session, responses []*jsonrpc.Response) {
	if sess == nil {
		log.Info("Client went away before the response, dropping it")
		return
	}
	for _, resp := range responses {
		if err := s.store.Enqueue(sess.Id, resp); err != nil {
			log.WithFields(log.Fields{
				"session_id": sess.Id,
				"call_id":    resp.Id,
			}).WithError(err).Warning("Failed to queue response")
		}
	}
}

// handleGetRequest opens the session's stream when the client asks for SSE,
// otherwise it describes the server.
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	sessionId := r.Header.Get(mcpSessionIdHeader)
	if !acceptsEventStream(r) || sessionId == "" {
		s.writeJson(w, &infoDocument{
			Name:           ServerName,
			Version:        ServerVersion,
			Sse:            s.conf.SseEndpoint,
			StreamableHttp: s.conf.McpEndpoint,
		}, http.StatusOK)
		return
	}

	if !s.streamSlots.TryAcquire(1) {
		s.writeBusy(w)
		return
	}
	defer s.streamSlots.Release(1)

	sess := s.validateSession(w, sessionId)
	if sess == nil {
		return
	}
	att, err := s.store.Attach(sess.Id)
	if err != nil {
		code, status, message := sessionErrorCode(err)
		s.writeJsonError(w, jsonrpc.GetErrorResponse(message, code, nil, nil), status)
		return
	}
	defer s.store.Detach(sess.Id, att)

	w.Header().Set(mcpSessionIdHeader, sess.Id)
	stream, err := OpenStream(w, s.metrics)
	if err != nil {
		log.WithError(err).Error("Failed to open SSE stream")
		s.writeJsonError(w, jsonrpc.GetErrorResponse("SSE not supported", jsonrpc.ERROR_SERVER, nil, nil), http.StatusInternalServerError)
		return
	}
	stream.Pump(r.Context(), s.store, sess, att, s.conf.Sessions.KeepAlive)
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	sessionId := r.Header.Get(mcpSessionIdHeader)
	if sessionId == "" {
		s.writeJsonError(w, jsonrpc.GetErrorResponse("Mcp-Session-Id header must be provided", jsonrpc.ERROR_SERVER, nil, nil), http.StatusBadRequest)
		return
	}
	if err := s.store.Close(sessionId); err != nil {
		code, status, message := sessionErrorCode(err)
		s.writeJsonError(w, jsonrpc.GetErrorResponse(message, code, nil, nil), status)
		return
	}
	log.WithField("session_id", sessionId).Info("Session deleted by client")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUnsupportedRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "POST, GET, DELETE")
	s.writeJsonError(
		w,
		jsonrpc.GetErrorResponse("Method not allowed", jsonrpc.ERROR_SERVER, nil, nil),
		http.StatusMethodNotAllowed,
	)
}

// validateSession writes the error response itself and returns nil when the
// session can not be used.
func (s *Server) validateSession(w http.ResponseWriter, sessionId string) *sessions.Session {
	sess, err := s.store.Get(sessionId)
	if err != nil {
		log.WithField("session_id", sessionId).WithError(err).Debug("Rejected session")
		code, status, message := sessionErrorCode(err)
		s.writeJsonError(w, jsonrpc.GetErrorResponse(message, code, nil, nil), status)
		return nil
	}
	return sess
}

func isInitialize(body []byte) bool {
	msg := jsonrpc.RawMessage{}
	if err := json.Unmarshal(body, &msg); err != nil {
		return false
	}
	return msg.GetMethod() == methodInitialize && msg.Id != nil
}

func acceptsEventStream(r *http.Request) bool {
	for _, header := range r.Header.Values("Accept") {
		for _, part := range strings.Split(header, ",") {
			mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
			if strings.EqualFold(strings.TrimSpace(mediaType), eventStreamContentType) {
				return true
			}
		}
	}
	return false
}
