package session

import (
	"context"
	"strings"

	"github.com/feynmanlabs/feynman/internal/analyzer"
	"github.com/feynmanlabs/feynman/internal/eventlog"
	"github.com/feynmanlabs/feynman/internal/topic"
)

// runAnalysis is the analysis pipeline: it merges newly arrived text with
// previously unattributed text, invokes the analyzer once per merged chunk,
// records verdicts in the ledger, and either installs a question queue
// (returning true) or drains the mid-analysis backlog and returns the session
// to listening.
//
// The backlog drains oldest-first so sustained input cannot starve earlier
// utterances. The drain is an explicit loop rather than recursion.
func (s *Session) runAnalysis(seed string) (questionsQueued bool, err error) {
	text := seed
	for {
		matches := s.catalog.FindMentions(text, s.threshold)

		if len(matches) == 0 {
			// No known subtopic here: hold the text until a matching chunk
			// arrives, then move on to buffered segments.
			s.mu.Lock()
			s.pendingUnattributed = append(s.pendingUnattributed, text)
			next, ok := s.popBacklogLocked()
			if !ok {
				s.phase = PhaseListening
				s.mu.Unlock()
				return false, nil
			}
			s.mu.Unlock()
			text = next
			continue
		}

		// Merge held text with the matching segment. The held buffer is only
		// cleared after a successful analyzer round-trip so a failure leaves
		// everything in place for retry.
		s.mu.Lock()
		parts := append(append([]string{}, s.pendingUnattributed...), text)
		s.mu.Unlock()
		combined := strings.Join(parts, " ")

		candidates := make([]string, len(matches))
		for i, m := range matches {
			candidates[i] = m.Name
		}
		s.logEvent(eventlog.EventAnalysisStarted, map[string]any{
			"candidates": candidates,
		})

		ctx, cancel := context.WithTimeout(s.ctx, s.analyzerTimeout)
		verdicts, analyzeErr := s.analyzer.AnalyzeTopic(ctx, combined, matches)
		cancel()
		if analyzeErr != nil {
			s.logEvent(eventlog.EventAnalysisFailed, map[string]any{
				"error": analyzeErr.Error(),
			})
			s.mu.Lock()
			s.pendingUnattributed = append(s.pendingUnattributed, text)
			s.mu.Unlock()
			return false, analyzeErr
		}

		s.mu.Lock()
		s.pendingUnattributed = nil
		s.mu.Unlock()

		questions := s.recordVerdicts(verdicts)

		if len(questions) == 0 {
			s.mu.Lock()
			next, ok := s.popBacklogLocked()
			if !ok {
				s.phase = PhaseListening
				s.mu.Unlock()
				return false, nil
			}
			s.mu.Unlock()
			text = next
			continue
		}

		s.mu.Lock()
		s.questionQueue = questions
		s.questionIdx = 0
		s.phase = PhaseAwaitingAnswers
		s.mu.Unlock()

		s.logger.Printf("session %s: queued %d clarifying questions", s.id, len(questions))
		return true, nil
	}
}

// recordVerdicts updates the ledger from analyzer verdicts and collects the
// clarifying questions for incomplete subtopics. Verdicts for subtopics not
// in the catalog, and questions with an unknown field or empty text, are
// logged and dropped.
func (s *Session) recordVerdicts(verdicts []analyzer.Verdict) []QueuedQuestion {
	var questions []QueuedQuestion
	for _, v := range verdicts {
		if !s.catalog.Has(v.Subtopic) {
			s.logger.Printf("session %s: dropping verdict for unknown subtopic %q", s.id, v.Subtopic)
			continue
		}

		s.ledger.RecordVerdict(v.Subtopic, v.HasDefinition, v.HasMechanism, v.HasExample)
		if v.HasDefinition && v.HasMechanism && v.HasExample {
			continue
		}

		for _, q := range v.Questions {
			field := topic.Field(q.Field)
			if !field.Valid() || strings.TrimSpace(q.Text) == "" {
				s.logger.Printf("session %s: dropping malformed question for %q (field %q)", s.id, v.Subtopic, q.Field)
				continue
			}
			questions = append(questions, QueuedQuestion{
				Subtopic: v.Subtopic,
				Field:    field,
				Text:     q.Text,
			})
		}
	}
	return questions
}

// popBacklogLocked removes and returns the oldest backlog segment. Caller
// must hold s.mu.
func (s *Session) popBacklogLocked() (string, bool) {
	if len(s.midAnalysisBacklog) == 0 {
		return "", false
	}
	next := s.midAnalysisBacklog[0]
	s.midAnalysisBacklog = s.midAnalysisBacklog[1:]
	return next, true
}
