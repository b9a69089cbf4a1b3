package mcp

import (
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/jsonrpc"
	"github.com/mjytdlp/mjytdlp/storages/sessions"
)

// handleSSE opens a legacy SSE session. The first event tells the client
// where to POST its messages; responses arrive as message events.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.streamSlots.TryAcquire(1) {
		s.writeBusy(w)
		return
	}
	defer s.streamSlots.Release(1)

	sess, att, err := s.store.CreateAttached(sessions.ModeSSE)
	if err != nil {
		log.WithError(err).Error("Failed to create SSE session")
		s.writeJsonError(w, jsonrpc.GetErrorResponse("Failed to create session", jsonrpc.ERROR_SERVER, nil, nil), http.StatusInternalServerError)
		return
	}
	defer s.store.Detach(sess.Id, att)

	endpoint, err := s.messages.Expand(map[string]string{messagesSessionVar: sess.Id})
	if err != nil {
		log.WithError(err).Error("Failed to expand messages endpoint")
		s.writeJsonError(w, jsonrpc.GetErrorResponse("Failed to create session", jsonrpc.ERROR_SERVER, nil, nil), http.StatusInternalServerError)
		return
	}

	stream, err := OpenStream(w, s.metrics)
	if err != nil {
		log.WithError(err).Error("Failed to open SSE stream")
		s.writeJsonError(w, jsonrpc.GetErrorResponse("SSE not supported", jsonrpc.ERROR_SERVER, nil, nil), http.StatusInternalServerError)
		return
	}

	fields := log.Fields{
		"session_id":  sess.Id,
		"remote_addr": r.RemoteAddr,
	}
	if err := stream.Event(eventEndpoint, "", endpoint); err != nil {
		log.WithFields(fields).WithError(err).Warning("Failed to write endpoint event")
		return
	}
	log.WithFields(fields).Info("SSE session opened")

	stream.Pump(r.Context(), s.store, sess, att, s.conf.Sessions.KeepAlive)
	log.WithFields(fields).Info("SSE session closed")
}

// handleMessages accepts a client message for an SSE session. Results and
// per-message errors go out on the session's stream; the POST itself only
// acknowledges. Bodies that are not JSON at all are answered directly.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionId := s.messages.Match(r.URL.Path)[messagesSessionVar]
	sess, err := s.store.Get(sessionId)
	if err != nil {
		code, status, message := sessionErrorCode(err)
		s.writeJsonError(w, jsonrpc.GetErrorResponse(message, code, nil, nil), status)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeJsonError(w, jsonrpc.GetErrorResponse("Failed to read request body", jsonrpc.ERROR_PARSE, nil, nil), http.StatusBadRequest)
		return
	}

	reply, failure := s.dispatcher.Handle(r.Context(), sess, body)
	if failure != nil {
		s.writeJsonError(w, failure, http.StatusBadRequest)
		return
	}

	for _, resp := range reply.Responses {
		if err := s.store.Enqueue(sess.Id, resp); err != nil {
			// the stream went away while the call ran
			log.WithFields(log.Fields{
				"session_id": sess.Id,
				"call_id":    resp.Id,
			}).WithError(err).Info("Dropped response for a closed session")
		}
	}

	s.writeJson(w, map[string]bool{"ok": true}, http.StatusAccepted)
}
