package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/IgnatG/langextract-api/internal/common/config"
	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/common/logger"
	"github.com/IgnatG/langextract-api/internal/extraction"
)

// OpenAI runs extraction through the OpenAI chat completions API.
// One instance serves one model ID.
type OpenAI struct {
	client *openai.Client
	model  string
	log    logger.Logger
}

// NewOpenAI builds a provider for the given model using the shared
// OpenAI credentials.
func NewOpenAI(cfg config.ProvidersConfig, model string, log logger.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAI.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: config.GetDuration(cfg.OpenAI.Timeout)}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		log:    log,
	}
}

func (p *OpenAI) ID() string { return p.model }

// responseBody is the JSON shape the model is instructed to return.
type responseBody struct {
	Entities []struct {
		ExtractionClass string            `json:"extraction_class"`
		ExtractionText  string            `json:"extraction_text"`
		Attributes      map[string]string `json:"attributes,omitempty"`
	} `json:"entities"`
}

// Extract performs one extraction pass.
func (p *OpenAI) Extract(ctx context.Context, req Request) (extraction.Result, error) {
	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: float32(req.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(req.Prompt, req.Examples)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	})
	if err != nil {
		return extraction.Result{}, apperrors.NewProviderError(p.model, isTransient(err), err)
	}
	if len(resp.Choices) == 0 {
		return extraction.Result{}, apperrors.NewProviderError(p.model, false,
			fmt.Errorf("response contained no choices"))
	}

	content := []byte(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err := validateResponse(content); err != nil {
		return extraction.Result{}, apperrors.NewProviderError(p.model, false, err)
	}

	var body responseBody
	if err := json.Unmarshal(content, &body); err != nil {
		return extraction.Result{}, apperrors.NewProviderError(p.model, false,
			fmt.Errorf("decoding model output: %w", err))
	}

	entities := make([]extraction.Entity, 0, len(body.Entities))
	for _, e := range body.Entities {
		entity := extraction.Entity{
			ExtractionClass: e.ExtractionClass,
			ExtractionText:  e.ExtractionText,
			Attributes:      e.Attributes,
		}
		// Offsets come from locating the text, never from the model.
		if idx := strings.Index(req.Text, e.ExtractionText); idx >= 0 {
			end := idx + len(e.ExtractionText)
			entity.CharStart = &idx
			entity.CharEnd = &end
		}
		entities = append(entities, entity)
	}

	tokens := resp.Usage.TotalTokens
	result := extraction.Result{
		Entities: entities,
		Metadata: extraction.Metadata{
			Provider:         p.model,
			TokensUsed:       &tokens,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		},
	}

	p.log.Debug("extraction pass complete", map[string]interface{}{
		"model":    p.model,
		"entities": len(entities),
		"tokens":   tokens,
	})
	return result, nil
}

// isTransient classifies provider failures. Rate limits, server errors
// and network timeouts are worth retrying; everything else is fatal.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func buildSystemPrompt(prompt string, examples []extraction.Example) string {
	var b strings.Builder
	b.WriteString("You extract structured entities from text. ")
	b.WriteString("Task: ")
	b.WriteString(prompt)
	b.WriteString("\nReturn ONLY a JSON object of the form ")
	b.WriteString(`{"entities":[{"extraction_class":"...","extraction_text":"...","attributes":{...}}]}.`)
	b.WriteString("\nextraction_text must be copied verbatim from the input. Never output null.")

	for i, ex := range examples {
		labelled, err := json.Marshal(map[string]interface{}{"entities": ex.Extractions})
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n\nExample %d input:\n%s\nExample %d output:\n%s", i+1, ex.Text, i+1, labelled)
	}
	return b.String()
}
