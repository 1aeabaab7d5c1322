package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/feynmanlabs/feynman/internal/eventlog"
	"github.com/feynmanlabs/feynman/internal/notifications"
	"github.com/feynmanlabs/feynman/internal/session"
	"github.com/feynmanlabs/feynman/internal/store"
	"github.com/feynmanlabs/feynman/internal/topic"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is what the transcription client sends us.
type clientMessage struct {
	Type string `json:"type"` // "segment" or "mark"
	Text string `json:"text,omitempty"`
}

// serverMessage is what we send back for the client to speak or display.
type serverMessage struct {
	Type    string `json:"type"` // "speak" or "complete"
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsSession binds one websocket connection to a live session engine: inbound
// transcript segments feed the engine, outbound commands are relayed to the
// client, and both sides of the conversation are persisted as they happen.
type wsSession struct {
	rec    *store.Session
	engine *session.Session

	conn   *websocket.Conn
	connMu sync.Mutex

	store    *store.Store
	eventLog *eventlog.Logger
	discord  *notifications.Discord
	apns     *notifications.APNsClient
	logger   *log.Logger

	positions map[string]int // subtopic name -> catalog position

	seqMu        sync.Mutex
	utteranceSeq int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *Router) handleSessionWS(w http.ResponseWriter, req *http.Request) {
	sess := r.getOwnedSession(w, req)
	if sess == nil {
		return
	}
	if sess.Status != "active" {
		http.Error(w, `{"error": "session is not active"}`, http.StatusConflict)
		return
	}

	if !r.sessions.Add() {
		http.Error(w, `{"error": "server is draining"}`, http.StatusServiceUnavailable)
		return
	}
	defer r.sessions.Done()

	// Load persisted coverage so a reconnect resumes where it left off.
	subs, err := r.store.GetSessionSubtopics(req.Context(), sess.ID)
	if err != nil {
		r.logger.Printf("session_ws: failed to load subtopics for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to load session"}`, http.StatusInternalServerError)
		return
	}
	names := make([]string, 0, len(subs))
	seed := make([]topic.Subtopic, 0, len(subs))
	positions := make(map[string]int, len(subs))
	for _, sub := range subs {
		names = append(names, sub.Name)
		positions[sub.Name] = sub.Position
		seed = append(seed, topic.Subtopic{
			Name:          sub.Name,
			HasDefinition: sub.HasDefinition,
			HasMechanism:  sub.HasMechanism,
			HasExample:    sub.HasExample,
		})
	}

	catalog, err := topic.NewCatalog(names)
	if err != nil {
		r.logger.Printf("session_ws: bad catalog for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "session has no subtopics"}`, http.StatusConflict)
		return
	}

	engine, err := session.New(session.Config{
		ID:              sess.ID,
		MainTopic:       sess.MainTopic,
		Catalog:         catalog,
		Analyzer:        r.analyzer,
		Logger:          r.logger,
		MatchThreshold:  r.cfg.MatchThreshold,
		AnswerTimeout:   r.cfg.AnswerTimeout,
		SpeechTimeout:   r.cfg.SpeechTimeout,
		InitialCoverage: seed,
		Events:          r.eventLog,
	})
	if err != nil {
		r.logger.Printf("session_ws: failed to build engine for %s: %v", sess.ID, err)
		http.Error(w, `{"error": "failed to start session"}`, http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("session_ws: upgrade failed: %v", err)
		engine.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws := &wsSession{
		rec:       sess,
		engine:    engine,
		conn:      conn,
		store:     r.store,
		eventLog:  r.eventLog,
		discord:   r.discord,
		apns:      r.apns,
		logger:    r.logger,
		positions: positions,
		ctx:       ctx,
		cancel:    cancel,
	}
	ws.seedSequence()

	r.logger.Printf("session_ws: connected to session %s (topic=%q)", sess.ID, sess.MainTopic)
	ws.run()
}

// seedSequence continues the utterance numbering from the persisted transcript.
func (s *wsSession) seedSequence() {
	detail, err := s.store.GetSessionDetail(s.ctx, s.rec.ID)
	if err != nil {
		return
	}
	s.seqMu.Lock()
	s.utteranceSeq = len(detail.Utterances)
	s.seqMu.Unlock()
}

func (s *wsSession) run() {
	defer s.cleanup()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pumpCommands()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("session_ws: connection closed for session %s", s.rec.ID)
			} else {
				s.logger.Printf("session_ws: read error for session %s: %v", s.rec.ID, err)
			}
			return
		}

		var m clientMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			s.logger.Printf("session_ws: failed to parse message: %v", err)
			continue
		}

		switch m.Type {
		case "segment":
			s.handleSegment(m.Text)

		case "mark":
			// Client finished playing the last spoken prompt.
			s.engine.SpeakingDone()

		default:
			s.logger.Printf("session_ws: unknown message type %q", m.Type)
		}
	}
}

func (s *wsSession) handleSegment(text string) {
	if text == "" {
		return
	}

	s.persistUtterance("user", text)
	s.eventLog.LogAsync(s.rec.ID, eventlog.EventSegmentReceived, map[string]any{
		"text": text,
	})
	if err := s.store.TouchSession(s.ctx, s.rec.ID); err != nil {
		s.logger.Printf("session_ws: failed to touch session %s: %v", s.rec.ID, err)
	}

	s.engine.OnSegment(text)
}

// pumpCommands relays engine commands to the client until the engine closes
// its command stream.
func (s *wsSession) pumpCommands() {
	for cmd := range s.engine.Commands() {
		switch cmd.Kind {
		case session.CommandSpeakText:
			if err := s.writeMessage(serverMessage{Type: "speak", Text: cmd.Text}); err != nil {
				s.logger.Printf("session_ws: failed to send speak command: %v", err)
				s.cancel()
				return
			}
			// The engine logs the question_asked / resume_prompt distinction
			// itself; here we only persist the transcript line.
			s.persistUtterance("coach", cmd.Text)

		case session.CommandSessionComplete:
			if err := s.writeMessage(serverMessage{Type: "complete", Message: cmd.Text}); err != nil {
				s.logger.Printf("session_ws: failed to send complete command: %v", err)
				s.cancel()
				return
			}
			s.persistUtterance("coach", cmd.Text)
			s.onComplete()
		}

		s.saveProgress()
	}
}

// onComplete marks the session finished and fans out notifications.
func (s *wsSession) onComplete() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.UpdateSessionStatus(ctx, s.rec.ID, "completed", nowUTC()); err != nil {
		s.logger.Printf("session_ws: failed to mark session %s completed: %v", s.rec.ID, err)
	}
	s.eventLog.LogAsync(s.rec.ID, eventlog.EventSessionCompleted, map[string]any{
		"main_topic": s.rec.MainTopic,
	})

	subtopicCount := len(s.positions)
	s.discord.NotifySessionCompleted(context.Background(), s.rec.ID, s.rec.MainTopic,
		subtopicCount, time.Since(s.rec.StartedAt))

	tokens, err := s.store.GetUserPushTokens(ctx, s.rec.UserID)
	if err != nil {
		s.logger.Printf("session_ws: failed to load push tokens: %v", err)
		return
	}
	for _, t := range tokens {
		if t.Platform != "ios" {
			continue
		}
		if err := s.apns.SendSessionCompleted(t.Token, notifications.SessionSummary{
			SessionID:     s.rec.ID,
			MainTopic:     s.rec.MainTopic,
			CoveredCount:  subtopicCount,
			SubtopicCount: subtopicCount,
		}); err != nil {
			s.logger.Printf("session_ws: push failed: %v", err)
		}
	}
}

// saveProgress flushes the engine's coverage snapshot to the database.
func (s *wsSession) saveProgress() {
	snap := s.engine.Progress()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flush := func(subs []topic.Subtopic) {
		for _, sub := range subs {
			err := s.store.SaveSubtopic(ctx, s.rec.ID, store.SessionSubtopic{
				Name:          sub.Name,
				HasDefinition: sub.HasDefinition,
				HasMechanism:  sub.HasMechanism,
				HasExample:    sub.HasExample,
				Position:      s.positions[sub.Name],
			})
			if err != nil {
				s.logger.Printf("session_ws: failed to save subtopic %q: %v", sub.Name, err)
			}
		}
	}
	flush(snap.Covered)
	flush(snap.Incomplete)
}

func (s *wsSession) persistUtterance(speaker, text string) {
	s.seqMu.Lock()
	s.utteranceSeq++
	seq := s.utteranceSeq
	s.seqMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.store.InsertUtterance(ctx, s.rec.ID, store.Utterance{
		Speaker:  speaker,
		Text:     text,
		Sequence: seq,
	})
	if err != nil {
		s.logger.Printf("session_ws: failed to persist utterance: %v", err)
	}
}

func (s *wsSession) writeMessage(msg serverMessage) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *wsSession) cleanup() {
	s.cancel()

	// Closing the engine drains its orchestration goroutine and closes the
	// command stream, which ends pumpCommands.
	s.engine.Close()
	s.wg.Wait()

	s.connMu.Lock()
	s.conn.Close()
	s.connMu.Unlock()

	s.saveProgress()
	s.eventLog.LogAsync(s.rec.ID, eventlog.EventSessionEnded, nil)

	s.logger.Printf("session_ws: session %s disconnected", s.rec.ID)
}
