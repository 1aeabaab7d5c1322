package topic

import (
	"reflect"
	"testing"
)

func TestSubtopicCompleteness(t *testing.T) {
	s := New("Stacks")

	if s.IsComplete() {
		t.Error("new subtopic should not be complete")
	}
	if s.Score() != 0 {
		t.Errorf("Score() = %d, want 0", s.Score())
	}

	s.Set(FieldDefinition, true)
	s.Set(FieldMechanism, true)
	if s.IsComplete() {
		t.Error("subtopic missing an example should not be complete")
	}
	if s.Score() != 2 {
		t.Errorf("Score() = %d, want 2", s.Score())
	}

	s.Set(FieldExample, true)
	if !s.IsComplete() {
		t.Error("subtopic with all three fields should be complete")
	}
	if s.Score() != 3 {
		t.Errorf("Score() = %d, want 3", s.Score())
	}
}

func TestSubtopicSetUnknownField(t *testing.T) {
	s := New("Stacks")
	s.Set(Field("has_diagram"), true)
	if s.Score() != 0 {
		t.Errorf("unknown field changed subtopic, Score() = %d, want 0", s.Score())
	}
}

func TestFieldValid(t *testing.T) {
	for _, f := range []Field{FieldDefinition, FieldMechanism, FieldExample} {
		if !f.Valid() {
			t.Errorf("Field(%q).Valid() = false, want true", f)
		}
	}
	if Field("has_diagram").Valid() {
		t.Error(`Field("has_diagram").Valid() = true, want false`)
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	if _, err := NewCatalog([]string{"Stacks", "Queues", "stacks"}); err == nil {
		t.Error("NewCatalog should reject case-insensitive duplicate names")
	}
	if _, err := NewCatalog([]string{"Stacks", ""}); err == nil {
		t.Error("NewCatalog should reject empty names")
	}
}

func TestFindMentionsSubstring(t *testing.T) {
	c, err := NewCatalog([]string{"Stacks"})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	got := c.FindMentions("A stack is LIFO, so stacks pop from the top", DefaultThreshold)
	if len(got) != 1 || got[0].Name != "Stacks" {
		t.Fatalf("FindMentions() = %v, want [Stacks]", got)
	}
}

func TestFindMentionsFuzzy(t *testing.T) {
	c, err := NewCatalog([]string{"Binary Search", "Hash Tables"})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	// Slight transcription error should still match above the threshold.
	got := c.FindMentions("so binary serch halves the range each step", DefaultThreshold)
	if len(got) != 1 || got[0].Name != "Binary Search" {
		t.Fatalf("FindMentions() = %v, want [Binary Search]", got)
	}
}

func TestFindMentionsNoMatch(t *testing.T) {
	c, err := NewCatalog([]string{"Stacks"})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	if got := c.FindMentions("the weather is nice today", DefaultThreshold); len(got) != 0 {
		t.Errorf("FindMentions() = %v, want empty", got)
	}
}

func TestFindMentionsEmptyCatalog(t *testing.T) {
	c, err := NewCatalog(nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if got := c.FindMentions("anything at all", DefaultThreshold); len(got) != 0 {
		t.Errorf("FindMentions() on empty catalog = %v, want empty", got)
	}
}

func TestFindMentionsIdempotent(t *testing.T) {
	c, err := NewCatalog([]string{"Stacks", "Queues", "Heaps"})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	text := "a stack is LIFO while a queue is FIFO"
	first := c.FindMentions(text, DefaultThreshold)
	for i := 0; i < 10; i++ {
		if got := c.FindMentions(text, DefaultThreshold); !reflect.DeepEqual(got, first) {
			t.Fatalf("FindMentions not idempotent: %v != %v", got, first)
		}
	}
}

func TestFindMentionsCatalogOrder(t *testing.T) {
	c, err := NewCatalog([]string{"Queues", "Stacks"})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	got := c.FindMentions("stacks and queues are both linear structures", DefaultThreshold)
	if len(got) != 2 {
		t.Fatalf("FindMentions() returned %d mentions, want 2", len(got))
	}
	if got[0].Name != "Queues" || got[1].Name != "Stacks" {
		t.Errorf("mentions out of catalog order: %v", got)
	}
}

func TestCatalogHas(t *testing.T) {
	c, err := NewCatalog([]string{"Stacks"})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if !c.Has("stacks") {
		t.Error(`Has("stacks") = false, want true`)
	}
	if c.Has("Queues") {
		t.Error(`Has("Queues") = true, want false`)
	}
}

func TestSubtopicsReturnsCopy(t *testing.T) {
	c, err := NewCatalog([]string{"Stacks"})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	subs := c.Subtopics()
	subs[0].HasDefinition = true

	if c.Subtopics()[0].HasDefinition {
		t.Error("mutating the returned slice changed catalog state")
	}
}
