package session

import (
	"context"
	"strings"
	"time"

	"github.com/feynmanlabs/feynman/internal/analyzer"
	"github.com/feynmanlabs/feynman/internal/eventlog"
)

// deliverQuestions speaks each queued question in order, waits for and grades
// the teacher's answer, and finally summarizes where the teacher left off.
// The cursor advances unconditionally per graded answer, so the loop
// terminates for any finite queue even when every answer grades false.
func (s *Session) deliverQuestions() {
	for {
		s.mu.Lock()
		if s.questionIdx >= len(s.questionQueue) {
			s.mu.Unlock()
			break
		}
		q := s.questionQueue[s.questionIdx]
		s.mu.Unlock()

		if err := s.bus.Send(s.ctx, SpeakText(q.Text)); err != nil {
			s.logger.Printf("session %s: failed to send question command: %v", s.id, err)
			break
		}
		s.logEvent(eventlog.EventQuestionAsked, map[string]any{
			"subtopic": q.Subtopic,
			"field":    string(q.Field),
			"text":     q.Text,
		})
		s.waitSpeechDone()

		answer, ok := s.waitForAnswer()
		if !ok {
			// Answer wait expired or the session is closing: stop
			// questioning rather than hang.
			s.logger.Printf("session %s: no answer for %q, resuming listening", s.id, q.Text)
			break
		}

		s.logEvent(eventlog.EventAnswerReceived, map[string]any{
			"question": q.Text,
			"text":     answer,
		})

		ctx, cancel := context.WithTimeout(s.ctx, s.analyzerTimeout)
		correct, err := s.analyzer.AnalyzeAnswer(ctx, q.Text, answer)
		cancel()
		if err != nil {
			// Grading failure counts as incorrect; the queue must not stall.
			s.logger.Printf("session %s: grading failed for %q, treating as incorrect: %v", s.id, q.Text, err)
			correct = false
		}
		if correct {
			s.ledger.RecordFieldConfirmed(q.Subtopic, q.Field)
		}
		s.logger.Printf("session %s: answer for %s/%s graded correct=%v", s.id, q.Subtopic, q.Field, correct)
		s.logEvent(eventlog.EventAnswerGraded, map[string]any{
			"subtopic": q.Subtopic,
			"field":    string(q.Field),
			"correct":  correct,
		})

		s.mu.Lock()
		s.questionIdx++
		s.mu.Unlock()
	}

	s.finishDelivery()
}

// finishDelivery wraps up a question/answer cycle: the mid-analysis backlog
// becomes resumption context for the next listening turn, the teacher gets a
// "you left off at X" nudge (or the terminal message once every subtopic is
// covered), and the session returns to listening.
func (s *Session) finishDelivery() {
	s.mu.Lock()
	if len(s.midAnalysisBacklog) > 0 {
		s.resumptionContext = append(s.resumptionContext, s.midAnalysisBacklog...)
		s.midAnalysisBacklog = nil
	}
	contextText := strings.Join(s.resumptionContext, " ")
	s.questionQueue = nil
	s.questionIdx = 0
	s.mu.Unlock()

	if s.ctx.Err() == nil {
		if !s.announceCompletion() {
			ctx, cancel := context.WithTimeout(s.ctx, s.analyzerTimeout)
			msg, err := s.analyzer.LastExplainedContext(ctx, contextText, s.mainTopic, s.catalog.Names())
			cancel()
			if err != nil {
				s.logger.Printf("session %s: left-off summary failed, using canned message: %v", s.id, err)
				msg = analyzer.ContinuePrompt
			}
			if err := s.bus.Send(s.ctx, SpeakText(msg)); err != nil {
				s.logger.Printf("session %s: failed to send resume command: %v", s.id, err)
			} else {
				s.logEvent(eventlog.EventResumePrompt, map[string]any{"text": msg})
			}
		}
	}

	// Segments that landed in the answer buffer after the last grading are
	// ordinary speech again; carry them into the next analysis trigger.
	s.mu.Lock()
	if len(s.answerBuffer) > 0 {
		s.midAnalysisBacklog = append(s.midAnalysisBacklog, s.answerBuffer...)
		s.answerBuffer = nil
	}
	s.phase = PhaseListening
	s.mu.Unlock()
}

// waitSpeechDone blocks until the runtime signals that the last SpeakText
// finished playing. Expiry is non-fatal; we simply move on.
func (s *Session) waitSpeechDone() {
	timer := time.NewTimer(s.speechTimeout)
	defer timer.Stop()

	select {
	case <-s.speechDone:
	case <-timer.C:
		s.logger.Printf("session %s: timed out waiting for speech to finish", s.id)
	case <-s.ctx.Done():
	}
}

// waitForAnswer blocks until the answer buffer is non-empty (woken by
// OnSegment), then drains and joins it. Returns false on timeout or session
// close.
func (s *Session) waitForAnswer() (string, bool) {
	timer := time.NewTimer(s.answerTimeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.answerBuffer) > 0 {
			answer := strings.Join(s.answerBuffer, " ")
			s.answerBuffer = nil
			s.mu.Unlock()
			return answer, true
		}
		s.mu.Unlock()

		select {
		case <-s.answerReady:
		case <-timer.C:
			return "", false
		case <-s.ctx.Done():
			return "", false
		}
	}
}
