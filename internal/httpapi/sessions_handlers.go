package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/feynmanlabs/feynman/internal/eventlog"
	"github.com/feynmanlabs/feynman/internal/store"
	"github.com/feynmanlabs/feynman/internal/topic"
)

const (
	defaultSessionListLimit = 50
	maxSessionListLimit     = 200
	maxSubtopics            = 20
)

// handleCreateSession starts a new teaching session. If the caller does not
// supply subtopics, the analyzer breaks the main topic down for them.
func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if r.sessions != nil && r.sessions.IsDraining() {
		http.Error(w, `{"error": "server is draining"}`, http.StatusConflict)
		return
	}

	var body struct {
		MainTopic string   `json:"main_topic"`
		Subtopics []string `json:"subtopics"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.MainTopic == "" {
		http.Error(w, `{"error": "main_topic is required"}`, http.StatusBadRequest)
		return
	}
	if len(body.Subtopics) > maxSubtopics {
		http.Error(w, `{"error": "too many subtopics"}`, http.StatusBadRequest)
		return
	}

	subtopics := body.Subtopics
	if len(subtopics) == 0 {
		ctx, cancel := context.WithTimeout(req.Context(), 30*time.Second)
		defer cancel()

		generated, err := r.analyzer.GenerateSubtopics(ctx, body.MainTopic)
		if err != nil {
			r.logger.Printf("sessions: failed to generate subtopics for %q: %v", body.MainTopic, err)
			captureError(req, err, "sessions: subtopic generation failed")
			http.Error(w, `{"error": "failed to generate subtopics"}`, http.StatusBadGateway)
			return
		}
		if len(generated) > maxSubtopics {
			generated = generated[:maxSubtopics]
		}
		subtopics = generated
	}

	// The catalog constructor rejects empty and duplicate names.
	catalog, err := topic.NewCatalog(subtopics)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusBadRequest)
		return
	}

	sess, err := r.store.CreateSession(req.Context(), user.ID, body.MainTopic, catalog.Names())
	if err != nil {
		r.logger.Printf("sessions: failed to create session: %v", err)
		captureError(req, err, "sessions: create failed")
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}

	r.eventLog.LogAsync(sess.ID, eventlog.EventSessionStarted, map[string]any{
		"main_topic": sess.MainTopic,
		"subtopics":  catalog.Names(),
	})
	r.discord.NotifySessionStarted(context.Background(), sess.ID, sess.MainTopic, catalog.Len())

	r.logger.Printf("sessions: created %s (topic=%q, subtopics=%d)", sess.ID, sess.MainTopic, catalog.Len())
	writeJSON(w, http.StatusCreated, map[string]any{
		"session":   sess,
		"subtopics": catalog.Names(),
		"ws_url":    fmt.Sprintf("%s/v1/sessions/%s/ws", wsURLFromPublicBase(r.cfg.PublicBaseURL), sess.ID),
	})
}

// handleListSessions lists the caller's sessions, newest first.
func (r *Router) handleListSessions(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	limit := defaultSessionListLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, `{"error": "invalid limit"}`, http.StatusBadRequest)
			return
		}
		if n > maxSessionListLimit {
			n = maxSessionListLimit
		}
		limit = n
	}

	sessions, err := r.store.ListSessionsByUser(req.Context(), user.ID, limit)
	if err != nil {
		r.logger.Printf("sessions: failed to list sessions: %v", err)
		http.Error(w, `{"error": "failed to list sessions"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// getOwnedSession loads a session and verifies the caller owns it. Responds
// with 404 for both missing and foreign sessions.
func (r *Router) getOwnedSession(w http.ResponseWriter, req *http.Request) *store.Session {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return nil
	}

	id := req.PathValue("id")
	if id == "" {
		http.Error(w, `{"error": "session id is required"}`, http.StatusBadRequest)
		return nil
	}

	sess, err := r.store.GetSession(req.Context(), id)
	if err != nil || sess.UserID != user.ID {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return nil
	}
	return sess
}

// handleGetSession returns a session with its subtopics and transcript.
func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	sess := r.getOwnedSession(w, req)
	if sess == nil {
		return
	}

	detail, err := r.store.GetSessionDetail(req.Context(), sess.ID)
	if err != nil {
		r.logger.Printf("sessions: failed to load detail for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to load session"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleGetProgress returns the coverage state partitioned into covered and
// incomplete subtopics.
func (r *Router) handleGetProgress(w http.ResponseWriter, req *http.Request) {
	sess := r.getOwnedSession(w, req)
	if sess == nil {
		return
	}

	subs, err := r.store.GetSessionSubtopics(req.Context(), sess.ID)
	if err != nil {
		r.logger.Printf("sessions: failed to load subtopics for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to load progress"}`, http.StatusInternalServerError)
		return
	}

	covered := []store.SessionSubtopic{}
	incomplete := []store.SessionSubtopic{}
	for _, sub := range subs {
		if sub.HasDefinition && sub.HasMechanism && sub.HasExample {
			covered = append(covered, sub)
		} else {
			incomplete = append(incomplete, sub)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"status":         sess.Status,
		"covered":        covered,
		"incomplete":     incomplete,
		"covered_count":  len(covered),
		"subtopic_count": len(subs),
	})
}

// handleGetSessionEvents returns the engine event log for debugging.
func (r *Router) handleGetSessionEvents(w http.ResponseWriter, req *http.Request) {
	sess := r.getOwnedSession(w, req)
	if sess == nil {
		return
	}

	events, err := r.store.ListSessionEvents(req.Context(), sess.ID, 500)
	if err != nil {
		r.logger.Printf("sessions: failed to load events for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to load events"}`, http.StatusInternalServerError)
		return
	}

	type eventView struct {
		EventType string          `json:"event_type"`
		EventData json.RawMessage `json:"event_data"`
		CreatedAt time.Time       `json:"created_at"`
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		data := json.RawMessage(e.EventData)
		if len(data) == 0 {
			data = json.RawMessage(`{}`)
		}
		out = append(out, eventView{EventType: e.EventType, EventData: data, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
