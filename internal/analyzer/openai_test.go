package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/feynmanlabs/feynman/internal/topic"
)

// newChatServer returns an httptest server that answers every chat completion
// request with the given content.
func newChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer test-key", r.Header.Get("Authorization"))
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(url string) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: url})
}

func TestNewOpenAIClientDefaults(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key"})

	if client.model != "gpt-4o-mini" {
		t.Errorf("model = %q, want %q", client.model, "gpt-4o-mini")
	}
	if client.baseURL != openaiAPIURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, openaiAPIURL)
	}
	if client.apiKey != "test-key" {
		t.Errorf("apiKey = %q, want %q", client.apiKey, "test-key")
	}
}

func TestGenerateSubtopics(t *testing.T) {
	srv := newChatServer(t, "1. Stacks\n2. Queues\n3. Hash Tables\n\nnot a list line")
	defer srv.Close()

	got, err := newTestClient(srv.URL).GenerateSubtopics(context.Background(), "Data Structures")
	if err != nil {
		t.Fatalf("GenerateSubtopics: %v", err)
	}
	want := []string{"Stacks", "Queues", "Hash Tables"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GenerateSubtopics() = %v, want %v", got, want)
	}
}

func TestGenerateSubtopicsEmptyList(t *testing.T) {
	srv := newChatServer(t, "no numbered lines here")
	defer srv.Close()

	if _, err := newTestClient(srv.URL).GenerateSubtopics(context.Background(), "X"); err == nil {
		t.Error("GenerateSubtopics should fail when no list items parse")
	}
}

func TestAnalyzeTopicArray(t *testing.T) {
	srv := newChatServer(t, `[
		{"subtopic":"Stacks","has_definition":true,"has_mechanism":false,"has_example":false,
		 "questions":[{"field":"has_mechanism","question":"How does push work?"}]}
	]`)
	defer srv.Close()

	got, err := newTestClient(srv.URL).AnalyzeTopic(context.Background(),
		"a stack is LIFO", []topic.Subtopic{topic.New("Stacks")})
	if err != nil {
		t.Fatalf("AnalyzeTopic: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d verdicts, want 1", len(got))
	}
	v := got[0]
	if v.Subtopic != "Stacks" || !v.HasDefinition || v.HasMechanism || v.HasExample {
		t.Errorf("verdict = %+v, want Stacks {true,false,false}", v)
	}
	if len(v.Questions) != 1 || v.Questions[0].Field != "has_mechanism" || v.Questions[0].Text != "How does push work?" {
		t.Errorf("questions = %+v", v.Questions)
	}
}

func TestAnalyzeTopicSingleObjectNormalized(t *testing.T) {
	srv := newChatServer(t, "```json\n{\"subtopic\":\"Stacks\",\"has_definition\":true}\n```")
	defer srv.Close()

	got, err := newTestClient(srv.URL).AnalyzeTopic(context.Background(),
		"text", []topic.Subtopic{topic.New("Stacks")})
	if err != nil {
		t.Fatalf("AnalyzeTopic: %v", err)
	}
	if len(got) != 1 || got[0].Subtopic != "Stacks" {
		t.Fatalf("got = %+v, want single Stacks verdict", got)
	}
	// Missing booleans default to false.
	if got[0].HasMechanism || got[0].HasExample {
		t.Errorf("missing booleans should default to false: %+v", got[0])
	}
}

func TestAnalyzeTopicSkipsUnnamedEntries(t *testing.T) {
	srv := newChatServer(t, `[{"subtopic":""},{"subtopic":"Stacks"}]`)
	defer srv.Close()

	got, err := newTestClient(srv.URL).AnalyzeTopic(context.Background(),
		"text", []topic.Subtopic{topic.New("Stacks")})
	if err != nil {
		t.Fatalf("AnalyzeTopic: %v", err)
	}
	if len(got) != 1 || got[0].Subtopic != "Stacks" {
		t.Errorf("got = %+v, want entry without a name dropped", got)
	}
}

func TestAnalyzeTopicMalformed(t *testing.T) {
	srv := newChatServer(t, "not json at all")
	defer srv.Close()

	if _, err := newTestClient(srv.URL).AnalyzeTopic(context.Background(),
		"text", []topic.Subtopic{topic.New("Stacks")}); err == nil {
		t.Error("AnalyzeTopic should return an error for unparseable output")
	}
}

func TestAnalyzeAnswer(t *testing.T) {
	for _, tc := range []struct {
		content string
		want    bool
		wantErr bool
	}{
		{`{"correct": true}`, true, false},
		{`{"correct": false}`, false, false},
		{`{"something_else": 1}`, false, true},
		{`garbage`, false, true},
	} {
		srv := newChatServer(t, tc.content)
		got, err := newTestClient(srv.URL).AnalyzeAnswer(context.Background(), "Q?", "A.")
		srv.Close()

		if tc.wantErr {
			if err == nil {
				t.Errorf("AnalyzeAnswer(%q) expected error", tc.content)
			}
			continue
		}
		if err != nil {
			t.Errorf("AnalyzeAnswer(%q): %v", tc.content, err)
			continue
		}
		if got != tc.want {
			t.Errorf("AnalyzeAnswer(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestLastExplainedContextEmptyText(t *testing.T) {
	// No server: an empty text must not hit the network.
	c := newTestClient("http://127.0.0.1:0")
	got, err := c.LastExplainedContext(context.Background(), "  ", "OS", []string{"Paging"})
	if err != nil {
		t.Fatalf("LastExplainedContext: %v", err)
	}
	if got != ContinuePrompt {
		t.Errorf("got %q, want canned continue prompt", got)
	}
}

func TestLastExplainedContext(t *testing.T) {
	srv := newChatServer(t, "  You last left off on Paging. Please keep telling me more about it.\n")
	defer srv.Close()

	got, err := newTestClient(srv.URL).LastExplainedContext(context.Background(),
		"so paging splits memory", "OS", []string{"Paging"})
	if err != nil {
		t.Fatalf("LastExplainedContext: %v", err)
	}
	want := "You last left off on Paging. Please keep telling me more about it."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GenerateSubtopics(context.Background(), "X")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if want := fmt.Sprintf("%d", http.StatusTooManyRequests); !strings.Contains(err.Error(), want) {
		t.Errorf("error %q should mention status %s", err, want)
	}
}
