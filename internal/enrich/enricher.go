// Package enrich turns a raw decision narrative into a structured record
// using a hosted LLM behind an OpenAI-compatible API.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/blackboxhq/blackbox-gw/internal/config"
)

const systemPrompt = `You structure engineering career decisions for a professional journal.
Given a decision narrative, respond with a single JSON object with exactly these keys:
"title" (short headline, <= 80 chars), "summary" (1-2 sentences),
"context" (the situation that forced the decision), "options" (array of the
alternatives considered, may be empty), "rationale" (why this option won),
"tags" (array of 1-5 lowercase topic tags).
Use only information present in the narrative. Do not invent alternatives.`

// Enriched is the validated structure returned by the model.
type Enriched struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Context   string   `json:"context"`
	Options   []string `json:"options"`
	Rationale string   `json:"rationale"`
	Tags      []string `json:"tags"`
}

// Enricher calls the model with a bounded timeout. Failures are terminal;
// retry policy belongs to the caller (and is deliberately "none" for
// webhook-driven enrichment).
type Enricher struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg config.AIConfig, logger *slog.Logger) *Enricher {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Enricher{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Enrich structures a narrative. It returns both the parsed struct and the
// raw JSON for persistence.
func (e *Enricher) Enrich(ctx context.Context, narrative string) (*Enriched, json.RawMessage, error) {
	if strings.TrimSpace(narrative) == "" {
		return nil, nil, fmt.Errorf("narrative is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: narrative},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("enrichment call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("enrichment call returned no choices")
	}

	content := resp.Choices[0].Message.Content
	enriched, err := parseEnriched(content)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("narrative enriched",
		"model", e.model,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	raw, err := json.Marshal(enriched)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal enriched decision: %w", err)
	}
	return enriched, raw, nil
}

// parseEnriched validates the model output against the expected shape.
// Models occasionally wrap JSON in a code fence; strip it before decoding.
func parseEnriched(content string) (*Enriched, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var enriched Enriched
	if err := json.Unmarshal([]byte(content), &enriched); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	if enriched.Title == "" {
		return nil, fmt.Errorf("model response missing title")
	}
	if enriched.Summary == "" {
		return nil, fmt.Errorf("model response missing summary")
	}
	if len(enriched.Tags) > 5 {
		enriched.Tags = enriched.Tags[:5]
	}
	return &enriched, nil
}
