package analyzer

import (
	"context"

	"github.com/feynmanlabs/feynman/internal/topic"
)

// Question is one clarifying question the analyzer produced for a missing
// coverage field of a subtopic.
type Question struct {
	Field string `json:"field"` // "has_definition" | "has_mechanism" | "has_example"
	Text  string `json:"question"`
}

// Verdict is the analyzer's completeness judgement for one subtopic given a
// chunk of the teacher's explanation. Candidates the text never actually
// discussed come back with all three booleans false, which is a valid
// verdict.
type Verdict struct {
	Subtopic      string     `json:"subtopic"`
	HasDefinition bool       `json:"has_definition"`
	HasMechanism  bool       `json:"has_mechanism"`
	HasExample    bool       `json:"has_example"`
	Questions     []Question `json:"questions"`
}

// Client defines the interface for explanation-analysis providers. The
// session core depends on this abstraction only; production uses the OpenAI
// client, tests use a deterministic scripted fake.
type Client interface {
	// GenerateSubtopics lists the subtopics a thorough explanation of
	// mainTopic should cover. Called once at session creation.
	GenerateSubtopics(ctx context.Context, mainTopic string) ([]string, error)

	// AnalyzeTopic judges, for each candidate subtopic, whether text provides
	// its definition, mechanism and an example, with clarifying questions for
	// whatever is missing.
	AnalyzeTopic(ctx context.Context, text string, candidates []topic.Subtopic) ([]Verdict, error)

	// AnalyzeAnswer grades the teacher's answer to a clarifying question.
	AnalyzeAnswer(ctx context.Context, question, answer string) (bool, error)

	// LastExplainedContext produces a one-sentence "you left off at X"
	// message from the teacher's most recent explanation. An empty text
	// yields a canned nudge to continue.
	LastExplainedContext(ctx context.Context, text, mainTopic string, subtopics []string) (string, error)
}
