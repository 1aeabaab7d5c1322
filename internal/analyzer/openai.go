package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/feynmanlabs/feynman/internal/topic"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// OpenAIClient implements the Client interface using OpenAI's chat
// completions API.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey     string
	Model      string       // e.g., "gpt-4o-mini"
	BaseURL    string       // Override for tests; defaults to the OpenAI API
	HTTPClient *http.Client // Optional shared client with connection pooling
}

// NewOpenAIClient creates a new OpenAI analyzer client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openaiAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// chatRequest represents an OpenAI chat completion request.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse represents an OpenAI chat completion response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chat sends a single-turn prompt and returns the raw completion text.
func (c *OpenAIClient) chat(ctx context.Context, prompt string, jsonMode bool, temperature float64) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OpenAI API error: %s - %s", resp.Status, string(respBody))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// stripCodeFences removes a markdown code fence the model sometimes wraps
// around JSON output.
func stripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// GenerateSubtopics lists the subtopics for a main topic by parsing the
// model's numbered list.
func (c *OpenAIClient) GenerateSubtopics(ctx context.Context, mainTopic string) ([]string, error) {
	content, err := c.chat(ctx, subtopicsPrompt(mainTopic), false, 0.3)
	if err != nil {
		return nil, err
	}

	var subtopics []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, ".")
		if idx < 0 {
			continue
		}
		if name := strings.TrimSpace(line[idx+1:]); name != "" {
			subtopics = append(subtopics, name)
		}
	}
	if len(subtopics) == 0 {
		return nil, fmt.Errorf("no subtopics parsed from response: %q", content)
	}
	return subtopics, nil
}

// AnalyzeTopic judges coverage of the candidate subtopics in text. A bare
// JSON object is accepted as a one-element array; missing booleans default
// to false; entries without a subtopic name are skipped.
func (c *OpenAIClient) AnalyzeTopic(ctx context.Context, text string, candidates []topic.Subtopic) ([]Verdict, error) {
	names := make([]string, len(candidates))
	for i, s := range candidates {
		names[i] = s.Name
	}

	content, err := c.chat(ctx, analyzeTopicPrompt(text, names), true, 0.2)
	if err != nil {
		return nil, err
	}
	content = stripCodeFences(content)

	var verdicts []Verdict
	if err := json.Unmarshal([]byte(content), &verdicts); err != nil {
		// json_object mode may yield a single object instead of an array.
		var one Verdict
		if objErr := json.Unmarshal([]byte(content), &one); objErr != nil {
			return nil, fmt.Errorf("failed to parse analysis: %w (content: %s)", err, content)
		}
		verdicts = []Verdict{one}
	}

	out := verdicts[:0]
	for _, v := range verdicts {
		if strings.TrimSpace(v.Subtopic) == "" {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// AnalyzeAnswer grades the teacher's answer to a clarifying question.
func (c *OpenAIClient) AnalyzeAnswer(ctx context.Context, question, answer string) (bool, error) {
	content, err := c.chat(ctx, analyzeAnswerPrompt(question, answer), true, 0.1)
	if err != nil {
		return false, err
	}
	content = stripCodeFences(content)

	var result struct {
		Correct *bool `json:"correct"`
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil || result.Correct == nil {
		return false, fmt.Errorf("invalid grading response: %s", content)
	}
	return *result.Correct, nil
}

// LastExplainedContext summarizes where the teacher left off. An empty text
// short-circuits to the canned continue message without a network call.
func (c *OpenAIClient) LastExplainedContext(ctx context.Context, text, mainTopic string, subtopics []string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return ContinuePrompt, nil
	}
	content, err := c.chat(ctx, lastContextPrompt(text, mainTopic, subtopics), false, 0.2)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}
