package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIChatCompletionURL is the default endpoint for OpenAI chat completions.
const OpenAIChatCompletionURL = "https://api.openai.com/v1/chat/completions"

// ErrGenerationFailed is returned when the response backend rejects or
// fails a generation request.
var ErrGenerationFailed = errors.New("chat: response generation failed")

// Generator produces the assistant reply for a user message. Implementations
// may be slow or fail; callers must treat Generate as an untrusted external
// call and honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, message string) (string, error)
}

// StaticReply is the canned response served when no model backend is
// configured.
const StaticReply = "This is a dummy response."

// StaticGenerator answers every message with StaticReply. It is the default
// backend and keeps the service usable without any API keys.
type StaticGenerator struct{}

// Generate returns StaticReply unless ctx is already done.
func (StaticGenerator) Generate(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return StaticReply, nil
}

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewOpenAIGenerator returns a generator backed by the given API key. An
// empty url falls back to the official OpenAI endpoint.
func NewOpenAIGenerator(apiKey, url, model string) *OpenAIGenerator {
	if url == "" {
		url = OpenAIChatCompletionURL
	}
	if model == "" {
		model = "gpt-4"
	}
	return &OpenAIGenerator{
		apiKey:     apiKey,
		url:        url,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionChoice struct {
	Message completionMessage `json:"message"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
}

// Generate sends the message to the chat completions endpoint and returns
// the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, message string) (string, error) {
	payload := completionRequest{
		Model:    g.model,
		Messages: []completionMessage{{Role: "user", Content: message}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: provider returned %d: %s", ErrGenerationFailed, resp.StatusCode, msg)
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationFailed)
	}

	return parsed.Choices[0].Message.Content, nil
}
