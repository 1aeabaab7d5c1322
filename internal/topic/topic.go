package topic

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"
)

// Field names one of the three coverage aspects a subtopic needs before it
// counts as fully explained.
type Field string

const (
	FieldDefinition Field = "has_definition"
	FieldMechanism  Field = "has_mechanism"
	FieldExample    Field = "has_example"
)

// Valid reports whether f is one of the three known coverage fields.
func (f Field) Valid() bool {
	return f == FieldDefinition || f == FieldMechanism || f == FieldExample
}

// Subtopic is a named unit of content. It is covered once the teacher has
// provided a definition, a mechanism and an example for it.
type Subtopic struct {
	Name          string
	HasDefinition bool
	HasMechanism  bool
	HasExample    bool
}

// New creates a subtopic with no fields demonstrated yet.
func New(name string) Subtopic {
	return Subtopic{Name: name}
}

// IsComplete reports whether all three coverage fields are true.
func (s Subtopic) IsComplete() bool {
	return s.HasDefinition && s.HasMechanism && s.HasExample
}

// Score counts how many coverage fields are true (0-3).
func (s Subtopic) Score() int {
	n := 0
	if s.HasDefinition {
		n++
	}
	if s.HasMechanism {
		n++
	}
	if s.HasExample {
		n++
	}
	return n
}

// Set sets the named coverage field. Unknown fields are ignored.
func (s *Subtopic) Set(f Field, value bool) {
	switch f {
	case FieldDefinition:
		s.HasDefinition = value
	case FieldMechanism:
		s.HasMechanism = value
	case FieldExample:
		s.HasExample = value
	}
}

// Catalog is an immutable, ordered set of subtopics for one teaching session
// plus the fuzzy matcher used to spot mentions in transcribed speech.
//
// Matching algorithm: both the subtopic name and the segment are lowercased;
// the name is compared against every sliding window of the same word count in
// the segment using normalized Levenshtein similarity (agext/levenshtein),
// scaled to 0-100. A direct substring hit scores 100. The best window score
// is the mention score; a subtopic is mentioned iff score > threshold.
type Catalog struct {
	subtopics []Subtopic
	params    *levenshtein.Params
}

// DefaultThreshold is the mention score a subtopic must exceed before
// FindMentions reports it.
const DefaultThreshold = 70

// NewCatalog builds a catalog from an ordered list of subtopic names.
// Duplicate names (case-insensitive) are rejected.
func NewCatalog(names []string) (*Catalog, error) {
	seen := make(map[string]struct{}, len(names))
	subtopics := make([]Subtopic, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("empty subtopic name")
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate subtopic name: %q", name)
		}
		seen[key] = struct{}{}
		subtopics = append(subtopics, New(strings.TrimSpace(name)))
	}
	return &Catalog{
		subtopics: subtopics,
		params:    levenshtein.NewParams(),
	}, nil
}

// Subtopics returns the catalog's subtopics in order. The returned slice is a
// copy; callers may not mutate catalog state.
func (c *Catalog) Subtopics() []Subtopic {
	out := make([]Subtopic, len(c.subtopics))
	copy(out, c.subtopics)
	return out
}

// Names returns the subtopic names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.subtopics))
	for i, s := range c.subtopics {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of subtopics.
func (c *Catalog) Len() int {
	return len(c.subtopics)
}

// Has reports whether the catalog contains a subtopic with the given name
// (case-insensitive).
func (c *Catalog) Has(name string) bool {
	name = strings.ToLower(name)
	for _, s := range c.subtopics {
		if strings.ToLower(s.Name) == name {
			return true
		}
	}
	return false
}

// FindMentions returns, in catalog order, every subtopic whose name matches
// the text with a score above threshold. Pure and deterministic for a fixed
// catalog, text and threshold; an empty catalog yields an empty result.
func (c *Catalog) FindMentions(text string, threshold int) []Subtopic {
	var mentions []Subtopic
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	for _, s := range c.subtopics {
		if c.mentionScore(lower, words, strings.ToLower(s.Name)) > threshold {
			mentions = append(mentions, s)
		}
	}
	return mentions
}

// mentionScore computes the best 0-100 similarity between name and any
// name-sized word window of the text.
func (c *Catalog) mentionScore(text string, words []string, name string) int {
	if strings.Contains(text, name) {
		return 100
	}
	span := len(strings.Fields(name))
	if span == 0 || len(words) < span {
		return 0
	}
	best := 0.0
	for i := 0; i+span <= len(words); i++ {
		window := strings.Join(words[i:i+span], " ")
		if sim := levenshtein.Similarity(window, name, c.params); sim > best {
			best = sim
		}
	}
	return int(best * 100)
}
