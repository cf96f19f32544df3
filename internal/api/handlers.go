package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BTreeMap/Fernly/internal/flow"
	"github.com/BTreeMap/Fernly/internal/learning"
	"github.com/BTreeMap/Fernly/internal/models"
)

// degradedMessage accompanies replies whose learning changes were not saved.
const degradedMessage = "Learning data could not be saved; the conversation continues without it"

// ChatRequest is the body of POST /v1/chat. An empty SessionID starts a new
// session; otherwise it must be an id returned by an earlier chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the result of POST /v1/chat.
type ChatResponse struct {
	SessionID  string          `json:"session_id"`
	Reply      string          `json:"reply"`
	Intent     models.Intent   `json:"intent"`
	Candidates []models.Intent `json:"candidates,omitempty"`
	ResponseID string          `json:"response_id,omitempty"`
}

// SessionResponse is the result of GET /v1/sessions/{id}.
type SessionResponse struct {
	SessionID  string                    `json:"session_id"`
	LastActive time.Time                 `json:"last_active"`
	Turns      []models.ConversationTurn `json:"turns"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       now.UTC().Format(time.RFC3339),
		"uptime_seconds":  int64(now.Sub(s.startedAt).Seconds()),
		"active_sessions": s.sessions.Len(),
		"sms_enabled":     s.sms != nil,
	})
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := flow.ValidateMessage(req.Message); err != nil {
		slog.Warn("Server.chatHandler: invalid message", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if req.SessionID != "" && !validSessionID(req.SessionID) {
		slog.Warn("Server.chatHandler: rejected session id", "session", req.SessionID)
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrSessionNotFound.Error()))
		return
	}

	sess, status := s.sessions.Open(r.Context(), req.SessionID)
	if !status.OK() {
		slog.Warn("Server.chatHandler: learning unavailable for session", "session", sess.ID, "error", status.Err)
	}
	turn, err := s.engine.Respond(r.Context(), sess, req.Message)
	if err != nil {
		slog.Error("Server.chatHandler: failed to respond", "session", sess.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	result := ChatResponse{
		SessionID:  sess.ID,
		Reply:      turn.Reply,
		Intent:     turn.Intent,
		Candidates: turn.Candidates,
		ResponseID: turn.ResponseID,
	}
	if !turn.Status.OK() {
		writeJSONResponse(w, http.StatusOK, models.Degraded(degradedMessage, result))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// validSessionID reports whether id has the canonical form of the ids this API
// issues. Sessions keyed by phone number never match.
func validSessionID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

// lookupSession writes a 404 and returns nil when the session does not exist.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) *flow.Session {
	id := chi.URLParam(r, "id")
	if !validSessionID(id) {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrSessionNotFound.Error()))
		return nil
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		return nil
	}
	return sess
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(SessionResponse{
		SessionID:  sess.ID,
		LastActive: sess.LastActive(),
		Turns:      sess.History(),
	}))
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validSessionID(id) {
		writeJSONResponse(w, http.StatusNotFound, models.Error(models.ErrSessionNotFound.Error()))
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
			return
		}
		slog.Error("Server.deleteSessionHandler: failed to delete session", "session", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete session"))
		return
	}
	slog.Info("Server.deleteSessionHandler: session ended", "session", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session ended", nil))
}

func (s *Server) learningHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	writeLearningStatus(w, sess.Learning.Status(), sess.Learning.Summary())
}

func (s *Server) resetLearningHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.lookupSession(w, r)
	if sess == nil {
		return
	}
	status := sess.Learning.Reset(r.Context())
	slog.Info("Server.resetLearningHandler: learning reset", "session", sess.ID, "status", status)
	writeLearningStatus(w, status, sess.Learning.Summary())
}

func writeLearningStatus(w http.ResponseWriter, status learning.Status, summary learning.Summary) {
	if !status.OK() {
		writeJSONResponse(w, http.StatusOK, models.Degraded(degradedMessage, summary))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}
