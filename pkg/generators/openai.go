package generators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/openfroyo/unitforge/pkg/engine"
)

// OpenAIConfig configures the chat-completion generator.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

// OpenAI generates slot content through an OpenAI compatible chat completion API.
type OpenAI struct {
	client  *openai.Client
	config  OpenAIConfig
	schemas *Schemas
	logger  zerolog.Logger
}

var _ engine.Generator = (*OpenAI)(nil)

// NewOpenAI creates a generator. BaseURL, when set, points the client at a
// compatible endpoint such as a local gateway.
func NewOpenAI(cfg OpenAIConfig, logger zerolog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, engine.NewValidationError("openai generator requires an API key")
	}
	if cfg.Model == "" {
		return nil, engine.NewValidationError("openai generator requires a model")
	}
	schemas, err := CompileSchemas()
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		config:  cfg,
		schemas: schemas,
		logger:  logger.With().Str("component", "generator").Str("model", cfg.Model).Logger(),
	}, nil
}

// Generate asks the model for one slot and decodes the JSON reply.
func (g *OpenAI) Generate(ctx context.Context, req *engine.GenerationRequest) (*engine.Artifact, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return nil, engine.NewPermanentError("failed to build prompt", err).WithCode(engine.ErrCodeInternal)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Messages:    messages,
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, engine.NewTransientError("model returned no choices", nil).
			WithCode(engine.ErrCodeGenerationFailed)
	}

	g.logger.Debug().
		Str("unit_id", req.Unit.UnitID).
		Str("slot", string(req.Slot)).
		Int("attempt", req.Attempt).
		Int("tokens", resp.Usage.TotalTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("Chat completion finished")

	artifact, err := g.schemas.Decode(req.Slot, resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	artifact.Model = resp.Model
	if artifact.Model == "" {
		artifact.Model = g.config.Model
	}
	return artifact, nil
}

const systemPrompt = `You write content for one unit of a language course.
Reply with a single JSON object and nothing else.
The object must match the "%s" definition of this JSON Schema:
%s
Include "quality": {"score": <0..1>, "notes": [...]} rating your own output.
Honour every field of "constraints": counts, forbidden headwords, the reinforcement
budget, required headwords, eligible strategy kinds and the exact assessment kinds.
If "feedback" is present, the previous attempt was rejected for those reasons.`

var slotGuidance = map[engine.SlotKind]string{
	engine.SlotVocabulary:  "Produce exactly vocabulary_count new words suited to the unit level, each with IPA.",
	engine.SlotSentences:   "Produce sentence_count example sentences using the unit vocabulary.",
	engine.SlotStrategy:    "Produce one strategy whose kind is the first workable entry of eligible_strategies.",
	engine.SlotAssessments: "Produce one assessment for each kind listed in assessments, in that order.",
	engine.SlotQA:          "Produce at most qa_count question and answer pairs about the unit.",
}

func buildMessages(req *engine.GenerationRequest) ([]openai.ChatCompletionMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	system := fmt.Sprintf(systemPrompt, req.Slot, artifactSchema)
	if guidance, ok := slotGuidance[req.Slot]; ok {
		system += "\n" + guidance
	}
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: string(payload)},
	}, nil
}

// classifyAPIError maps client failures onto the engine taxonomy. Rate limits and
// server errors are retried; other rejections are permanent.
func classifyAPIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return engine.NewTransientError("model endpoint rate limited the request", err).
			WithCode(engine.ErrCodeRateLimited).
			WithDetail("status", status)
	case status >= 500, status == 0, status == http.StatusRequestTimeout:
		return engine.NewTransientError("model endpoint unavailable", err).
			WithCode(engine.ErrCodeGenerationFailed).
			WithDetail("status", status)
	default:
		msg := "model endpoint rejected the request"
		if apiErr != nil && apiErr.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(apiErr.Message))
		}
		return engine.NewPermanentError(msg, err).
			WithCode(engine.ErrCodeGenerationFailed).
			WithDetail("status", status)
	}
}
