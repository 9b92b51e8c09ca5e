package engines

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/pipeline"
)

const visionEngineID = "vision"

const visionSystemPrompt = "You are a precise OCR transcription assistant for scanned identity " +
	"and certificate documents. Transcribe every piece of visible text, English and Arabic, " +
	"preserving numbers exactly as printed."

const visionUserPrompt = `Transcribe this scanned document page and pick out labelled values.

Respond with JSON only, no prose, in this shape:
{"text": "<full transcription>", "fields": {"<field name>": "<value>", ...}}

Use snake_case field names such as passport_number, emirates_id_number,
attestation_number_1, attestation_number_2. Omit fields you cannot read.`

// Vision runs OCR through a multimodal chat model. It has no native
// confidence, so one is estimated from text quality.
type Vision struct {
	client *openai.Client
	model  string
	log    *logging.Logger
}

// NewVision builds the vision engine. baseURL may point at any
// OpenAI-compatible endpoint; empty means the default.
func NewVision(apiKey, baseURL, model string, log *logging.Logger) *Vision {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Vision{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log,
	}
}

func (e *Vision) ID() string { return visionEngineID }

type visionExtraction struct {
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields"`
}

func (e *Vision) Run(ctx context.Context, img pipeline.PageImage) (*pipeline.EngineResult, error) {
	dataURI := fmt.Sprintf("data:image/%s;base64,%s",
		img.Format, base64.StdEncoding.EncodeToString(img.Data))

	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: visionSystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: visionUserPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: dataURI,
						},
					},
				},
			},
		},
		Temperature: 0,
		MaxTokens:   4096,
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, apperrors.NewTransientEngineError(visionEngineID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.NewTransientEngineError(visionEngineID,
			fmt.Errorf("model %s returned no choices", e.model))
	}

	var extraction visionExtraction
	raw := extractJSON(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &extraction); err != nil {
		return nil, apperrors.NewTransientEngineError(visionEngineID,
			fmt.Errorf("unparsable model output: %w", err))
	}

	fields := make([]pipeline.ExtractedField, 0, len(extraction.Fields))
	for _, name := range sortedKeys(extraction.Fields) {
		fields = append(fields, pipeline.ExtractedField{
			Name:         name,
			Value:        extraction.Fields[name],
			SourceEngine: visionEngineID,
		})
	}

	confidence := estimateTextConfidence(extraction.Text)
	e.log.Debug("transcription complete", "ref", img.Ref, "model", e.model,
		"confidence", confidence, "fields", len(fields))

	return &pipeline.EngineResult{
		Text:       extraction.Text,
		Confidence: confidence,
		Fields:     fields,
	}, nil
}

// extractJSON strips markdown code fences and surrounding prose, leaving the
// outermost JSON object. Chat models wrap JSON despite instructions.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
