package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openloop-ai/openloop/pkg/types"
)

const sessionLogPrefix = "session-log"

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Updated   int64  `json:"updated"`
	Messages  int    `json:"messages"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// listSessions returns a summary of every persisted session log.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	summaries := []SessionSummary{}
	err := s.store.Scan(r.Context(), []string{sessionLogPrefix}, func(key string, data json.RawMessage) error {
		var log types.SessionLog
		if err := json.Unmarshal(data, &log); err != nil {
			// A torn or foreign file in the log directory is skipped, not
			// a listing failure.
			return nil
		}
		summaries = append(summaries, SessionSummary{
			SessionID: log.SessionID,
			Updated:   log.Updated,
			Messages:  len(log.ContextWindow.ConversationHistory),
		})
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// getSession returns the full persisted log for one session.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var log types.SessionLog
	if err := s.store.Get(r.Context(), []string{sessionLogPrefix, sessionID}, &log); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found: "+sessionID)
		return
	}
	writeJSON(w, http.StatusOK, log)
}
