package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/feynmanlabs/feynman/internal/eventlog"
	"github.com/feynmanlabs/feynman/internal/notifications"
	"github.com/feynmanlabs/feynman/internal/store"
)

// SessionReaperJob marks idle sessions as abandoned and nudges their owners
// to come back. It runs on a configurable interval (default: 5 minutes).
type SessionReaperJob struct {
	store       *store.Store
	eventLog    *eventlog.Logger
	apns        *notifications.APNsClient
	logger      *log.Logger
	interval    time.Duration
	idleTimeout time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewSessionReaperJob creates a new session reaper job.
func NewSessionReaperJob(s *store.Store, eventLog *eventlog.Logger, apns *notifications.APNsClient, logger *log.Logger, interval, idleTimeout time.Duration) *SessionReaperJob {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if idleTimeout == 0 {
		idleTimeout = 30 * time.Minute
	}
	return &SessionReaperJob{
		store:       s,
		eventLog:    eventLog,
		apns:        apns,
		logger:      logger,
		interval:    interval,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the background job.
func (j *SessionReaperJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("SessionReaperJob: started (interval=%v, idle_timeout=%v)", j.interval, j.idleTimeout)
}

// Stop gracefully stops the background job.
func (j *SessionReaperJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Println("SessionReaperJob: stopped")
}

func (j *SessionReaperJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.reapStaleSessions()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.reapStaleSessions()
		case <-j.stopCh:
			return
		}
	}
}

func (j *SessionReaperJob) reapStaleSessions() {
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-j.idleTimeout)

	sessions, err := j.store.ListStaleActiveSessions(ctx, cutoff)
	if err != nil {
		j.logger.Printf("SessionReaperJob: failed to list stale sessions: %v", err)
		return
	}

	for _, sess := range sessions {
		if err := j.store.UpdateSessionStatus(ctx, sess.ID, "abandoned", time.Now().UTC()); err != nil {
			j.logger.Printf("SessionReaperJob: failed to mark session %s abandoned: %v", sess.ID, err)
			continue
		}
		j.eventLog.LogAsync(sess.ID, eventlog.EventSessionEnded, map[string]any{
			"reason":       "abandoned",
			"idle_timeout": j.idleTimeout.String(),
		})
		j.sendAbandonedNudge(ctx, sess)
	}

	if len(sessions) > 0 {
		j.logger.Printf("SessionReaperJob: reaped %d stale sessions", len(sessions))
	}
}

func (j *SessionReaperJob) sendAbandonedNudge(ctx context.Context, sess *store.Session) {
	subs, err := j.store.GetSessionSubtopics(ctx, sess.ID)
	if err != nil {
		j.logger.Printf("SessionReaperJob: failed to load subtopics for %s: %v", sess.ID, err)
		return
	}
	covered := 0
	for _, sub := range subs {
		if sub.HasDefinition && sub.HasMechanism && sub.HasExample {
			covered++
		}
	}

	tokens, err := j.store.GetUserPushTokens(ctx, sess.UserID)
	if err != nil {
		j.logger.Printf("SessionReaperJob: failed to load push tokens for user %s: %v", sess.UserID, err)
		return
	}

	for _, t := range tokens {
		if t.Platform != "ios" {
			continue
		}
		err := j.apns.SendSessionAbandoned(t.Token, notifications.SessionSummary{
			SessionID:     sess.ID,
			MainTopic:     sess.MainTopic,
			CoveredCount:  covered,
			SubtopicCount: len(subs),
		})
		if err != nil {
			j.logger.Printf("SessionReaperJob: failed to send abandoned nudge: %v", err)
		}
	}
}
