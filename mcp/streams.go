package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/metrics"
	"github.com/mjytdlp/mjytdlp/storages/sessions"
)

const (
	eventEndpoint = "endpoint"
	eventMessage  = "message"
)

var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// Stream writes server-sent events to one HTTP response.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	metrics *metrics.Metrics
}

// OpenStream sends the SSE headers and flushes them so the client starts
// reading right away.
func OpenStream(w http.ResponseWriter, m *metrics.Metrics) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", eventStreamContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Stream{
		w:       w,
		flusher: flusher,
		metrics: m,
	}, nil
}

// Event writes one event. Empty name and id are left out of the frame.
func (s *Stream) Event(name, id, data string) error {
	frame := ""
	if name != "" {
		frame += "event: " + name + "\n"
	}
	if id != "" {
		frame += "id: " + id + "\n"
	}
	frame += "data: " + data + "\n\n"
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Message writes a JSON-RPC message event. seq of zero means no event id.
func (s *Stream) Message(seq uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal SSE message")
	}
	id := ""
	if seq > 0 {
		id = strconv.FormatUint(seq, 10)
	}
	if err := s.Event(eventMessage, id, string(data)); err != nil {
		return err
	}
	s.metrics.SSEMessage()
	return nil
}

func (s *Stream) KeepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Pump delivers the session's queue to the stream until the client goes away,
// the session closes or another stream takes over the slot. The caller
// detaches att afterwards.
func (s *Stream) Pump(ctx context.Context, store *sessions.Store, sess *sessions.Session, att *sessions.Attachment, keepAlive time.Duration) {
	fields := log.Fields{
		"session_id": sess.Id,
		"attachment": att.Id,
	}
	ticker := store.Clock().NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.WithFields(fields).Debug("Client disconnected, closing stream")
			return
		case <-sess.Done():
			log.WithFields(fields).Debug("Session closed, closing stream")
			return
		case <-att.Evicted():
			log.WithFields(fields).Info("Stream superseded, closing")
			return
		case <-ticker.Chan():
			if err := s.KeepAlive(); err != nil {
				log.WithFields(fields).WithError(err).Debug("Failed to write keep-alive")
				return
			}
		case <-att.Wake():
			messages, err := store.Drain(sess.Id, att)
			if err != nil {
				log.WithFields(fields).WithError(err).Debug("Stream lost its session")
				return
			}
			for i, msg := range messages {
				if err := s.Message(msg.Seq, msg.Data); err != nil {
					log.WithFields(fields).WithError(err).Warning("Failed to write SSE message")
					if err := store.Requeue(sess.Id, messages[i:]); err != nil {
						log.WithFields(fields).WithError(err).Debug("Dropped unsent messages")
					}
					return
				}
			}
		}
	}
}
