package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openloop-ai/openloop/internal/event"
	"github.com/openloop-ai/openloop/internal/logging"
)

// SSEHeartbeatInterval is the interval for SSE keep-alive comments.
const SSEHeartbeatInterval = 30 * time.Second

// wireEvent is the SSE payload shape: {"type": "...", "properties": {...}}.
type wireEvent struct {
	Type       event.Type `json:"type"`
	Properties any        `json:"properties"`
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", jsonData); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// streamEvents streams the runtime event bus over SSE. Observers see turn
// progress, tool executions, and compactions without ever touching a live
// context window.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// The marshalled feed rides the bus's watermill channel; the
	// subscription ends with the request context.
	events, err := event.StreamEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent(wireEvent{Type: "monitor.connected", Properties: map[string]any{}}); err != nil {
		return
	}

	log := logging.For("server")
	log.Debug().Msg("monitor event stream connected")

	heartbeat := time.NewTicker(SSEHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Msg("monitor event stream disconnected")
			return
		case <-heartbeat.C:
			sse.writeHeartbeat()
		case msg, ok := <-events:
			if !ok {
				return
			}
			var envelope struct {
				Type event.Type      `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
				msg.Ack()
				continue
			}
			msg.Ack()
			if err := sse.writeEvent(wireEvent{Type: envelope.Type, Properties: envelope.Data}); err != nil {
				return
			}
		}
	}
}
