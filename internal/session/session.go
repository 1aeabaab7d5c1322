package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/feynmanlabs/feynman/internal/analyzer"
	"github.com/feynmanlabs/feynman/internal/coverage"
	"github.com/feynmanlabs/feynman/internal/eventlog"
	"github.com/feynmanlabs/feynman/internal/topic"
)

// EventRecorder receives the engine's decision events for the session audit
// log. *eventlog.Logger satisfies it.
type EventRecorder interface {
	LogAsync(sessionID string, eventType eventlog.EventType, data map[string]any)
}

// Phase is the session's turn-taking state.
type Phase int

const (
	// PhaseListening waits for the teacher's next explanation segment.
	PhaseListening Phase = iota
	// PhaseAnalyzing has an analyzer round-trip in flight for the current
	// explanation chunk.
	PhaseAnalyzing
	// PhaseAwaitingAnswers is delivering clarifying questions and waiting for
	// the teacher's answers.
	PhaseAwaitingAnswers
)

func (p Phase) String() string {
	switch p {
	case PhaseListening:
		return "listening"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseAwaitingAnswers:
		return "awaiting_answers"
	default:
		return "unknown"
	}
}

// QueuedQuestion is one clarifying question waiting for delivery, tied to the
// subtopic and coverage field it would confirm.
type QueuedQuestion struct {
	Subtopic string
	Field    topic.Field
	Text     string
}

// Config configures a Session.
type Config struct {
	ID        string
	MainTopic string
	Catalog   *topic.Catalog
	Analyzer  analyzer.Client
	Logger    *log.Logger

	// MatchThreshold is the fuzzy-mention score a subtopic must exceed.
	// Defaults to topic.DefaultThreshold.
	MatchThreshold int
	// AnswerTimeout bounds the wait for the teacher to answer a question.
	// Expiry is non-fatal: the session returns to listening.
	AnswerTimeout time.Duration
	// SpeechTimeout bounds the wait for the runtime's "finished speaking"
	// signal after a SpeakText command.
	SpeechTimeout time.Duration
	// AnalyzerTimeout bounds each analyzer network call.
	AnalyzerTimeout time.Duration
	// CommandBuffer is the command bus capacity.
	CommandBuffer int
	// InitialCoverage seeds the ledger when resuming a persisted session.
	// Entries for subtopics outside the catalog are ignored.
	InitialCoverage []topic.Subtopic
	// Events, when set, receives analysis and grading decisions as they are
	// made.
	Events EventRecorder
}

// Session is the orchestration engine for one teaching session. It routes
// transcribed segments by phase, runs the analysis pipeline, delivers
// clarifying questions, and keeps per-subtopic coverage.
//
// Two roles touch a session concurrently: the ingestion role calls OnSegment
// and SpeakingDone as transport events arrive; the orchestration role (one
// goroutine, spawned per listening->analyzing transition) runs analysis and
// question delivery. They share state only through mu-guarded buffers and the
// answerReady/speechDone notify channels. The mutex is never held across an
// analyzer call or a command send.
type Session struct {
	id        string
	mainTopic string
	catalog   *topic.Catalog
	ledger    *coverage.Ledger
	analyzer  analyzer.Client
	bus       *CommandBus
	logger    *log.Logger
	events    EventRecorder

	threshold       int
	answerTimeout   time.Duration
	speechTimeout   time.Duration
	analyzerTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	completed bool
	phase     Phase

	// Exactly one of these buffers receives new segments at any instant,
	// selected by phase (pendingUnattributed is fed by the pipeline itself).
	pendingUnattributed []string // text with no detected subtopic yet
	midAnalysisBacklog  []string // segments arriving while analyzing
	resumptionContext   []string // leftover text carried across a Q/A cycle
	answerBuffer        []string // segments answering the current question

	questionQueue []QueuedQuestion
	questionIdx   int

	answerReady chan struct{}
	speechDone  chan struct{}

	wg sync.WaitGroup
}

// New creates a session in the listening phase.
func New(cfg Config) (*Session, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("session: catalog is required")
	}
	if cfg.Analyzer == nil {
		return nil, errors.New("session: analyzer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = topic.DefaultThreshold
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = 2 * time.Minute
	}
	if cfg.SpeechTimeout <= 0 {
		cfg.SpeechTimeout = 30 * time.Second
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = 30 * time.Second
	}

	ledger := coverage.NewLedger()
	for _, sub := range cfg.InitialCoverage {
		if !cfg.Catalog.Has(sub.Name) {
			continue
		}
		if !sub.HasDefinition && !sub.HasMechanism && !sub.HasExample {
			continue
		}
		ledger.RecordVerdict(sub.Name, sub.HasDefinition, sub.HasMechanism, sub.HasExample)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:              cfg.ID,
		mainTopic:       cfg.MainTopic,
		catalog:         cfg.Catalog,
		ledger:          ledger,
		analyzer:        cfg.Analyzer,
		bus:             NewCommandBus(cfg.CommandBuffer),
		logger:          cfg.Logger,
		events:          cfg.Events,
		threshold:       cfg.MatchThreshold,
		answerTimeout:   cfg.AnswerTimeout,
		speechTimeout:   cfg.SpeechTimeout,
		analyzerTimeout: cfg.AnalyzerTimeout,
		ctx:             ctx,
		cancel:          cancel,
		phase:           PhaseListening,
		answerReady:     make(chan struct{}, 1),
		speechDone:      make(chan struct{}, 1),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// MainTopic returns the topic being taught.
func (s *Session) MainTopic() string { return s.mainTopic }

// Commands returns the ordered command stream for the runtime.
func (s *Session) Commands() <-chan Command { return s.bus.Commands() }

// Phase returns the current turn-taking phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Progress returns a read-only coverage snapshot in catalog order.
func (s *Session) Progress() coverage.Snapshot {
	return s.ledger.Snapshot(s.catalog.Names())
}

// Subtopics returns the catalog's subtopic names in order.
func (s *Session) Subtopics() []string { return s.catalog.Names() }

// OnSegment is the single mutation entry point, called once per transcribed
// utterance in arrival order by the ingestion role. It never blocks on
// analysis or delivery and never drops a segment.
func (s *Session) OnSegment(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch s.phase {
	case PhaseListening:
		if len(s.resumptionContext) > 0 {
			text = strings.Join(s.resumptionContext, " ") + " " + text
			s.resumptionContext = nil
		}
		s.phase = PhaseAnalyzing
		// Add while still holding mu: Close flips closed under the same lock
		// before it waits, so it either sees this goroutine or we saw closed.
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.orchestrate(text)
		}()

	case PhaseAnalyzing:
		s.midAnalysisBacklog = append(s.midAnalysisBacklog, text)
		s.mu.Unlock()

	case PhaseAwaitingAnswers:
		s.answerBuffer = append(s.answerBuffer, text)
		s.mu.Unlock()
		s.notifyAnswer()
	}
}

// SpeakingDone is called by the runtime when a SpeakText command has finished
// playing. Non-blocking.
func (s *Session) SpeakingDone() {
	select {
	case s.speechDone <- struct{}{}:
	default:
	}
}

// Close cancels all pending waits, waits for the orchestration goroutine to
// drain, and closes the command stream. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.bus.close()
}

func (s *Session) logEvent(eventType eventlog.EventType, data map[string]any) {
	if s.events != nil {
		s.events.LogAsync(s.id, eventType, data)
	}
}

func (s *Session) notifyAnswer() {
	select {
	case s.answerReady <- struct{}{}:
	default:
	}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// orchestrate runs one analysis pass and, when it queues questions, the
// question/answer cycle. It always leaves the session listening.
func (s *Session) orchestrate(seed string) {
	queued, err := s.runAnalysis(seed)
	if err != nil {
		// Non-fatal: buffered text is preserved for retry on the next
		// segment.
		s.logger.Printf("session %s: analysis failed, returning to listening: %v", s.id, err)
		s.setPhase(PhaseListening)
		return
	}
	if queued {
		s.deliverQuestions()
	}
}

// announceCompletion emits the terminal command once every catalog subtopic is
// fully covered. Fires at most once per session.
func (s *Session) announceCompletion() bool {
	if s.catalog.Len() == 0 || s.ledger.CoveredCount() != s.catalog.Len() {
		return false
	}

	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return true
	}
	s.completed = true
	s.mu.Unlock()

	msg := fmt.Sprintf("That's everything! You've fully explained all %d subtopics of %s. Great teaching!",
		s.catalog.Len(), s.mainTopic)
	if err := s.bus.Send(s.ctx, SessionComplete(msg)); err != nil {
		s.logger.Printf("session %s: failed to send completion command: %v", s.id, err)
	}
	return true
}
