// Package engines implements the ranked OCR backends: the document-AI
// service, a vision LLM, and local Tesseract. Each satisfies
// pipeline.Engine and reports failures as transient, leaving retry and
// fallback to the selector.
package engines

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/veridoc/docintake-worker/internal/errors"
	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/pipeline"
)

const docAIEngineID = "docai"

// DocAI calls the hosted document-AI extraction service, the most capable
// ranked backend. It returns both raw text and structured fields with a
// native confidence score.
type DocAI struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logging.Logger
}

// NewDocAI builds a client for the extraction service at baseURL.
func NewDocAI(baseURL, apiKey string, timeout time.Duration, log *logging.Logger) *DocAI {
	return &DocAI{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (e *DocAI) ID() string { return docAIEngineID }

type docAIRequest struct {
	Image    string `json:"image"` // base64 encoded page
	Format   string `json:"format"`
	Ref      string `json:"ref,omitempty"`
	Rotation int    `json:"rotation"`
}

type docAIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Fields     []struct {
			Name       string  `json:"name"`
			Value      string  `json:"value"`
			Confidence float64 `json:"confidence"`
		} `json:"fields"`
	} `json:"data"`
}

// Run posts the page to the extraction endpoint. Every failure is reported
// as transient; the service has no permanent per-document failure mode.
func (e *DocAI) Run(ctx context.Context, img pipeline.PageImage) (*pipeline.EngineResult, error) {
	reqBody, err := json.Marshal(docAIRequest{
		Image:    base64.StdEncoding.EncodeToString(img.Data),
		Format:   img.Format,
		Ref:      img.Ref,
		Rotation: img.Rotation,
	})
	if err != nil {
		return nil, apperrors.NewTransientEngineError(docAIEngineID, err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/extract", e.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperrors.NewTransientEngineError(docAIEngineID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewTransientEngineError(docAIEngineID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransientEngineError(docAIEngineID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewTransientEngineError(docAIEngineID,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var ocrResp docAIResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return nil, apperrors.NewTransientEngineError(docAIEngineID, err)
	}
	if !ocrResp.Success {
		return nil, apperrors.NewTransientEngineError(docAIEngineID,
			fmt.Errorf("service reported failure: %s", ocrResp.Message))
	}

	fields := make([]pipeline.ExtractedField, 0, len(ocrResp.Data.Fields))
	for _, f := range ocrResp.Data.Fields {
		fields = append(fields, pipeline.ExtractedField{
			Name:         f.Name,
			Value:        f.Value,
			Confidence:   f.Confidence,
			SourceEngine: docAIEngineID,
		})
	}

	e.log.Debug("extraction complete", "ref", img.Ref,
		"confidence", ocrResp.Data.Confidence, "fields", len(fields), "textLength", len(ocrResp.Data.Text))

	return &pipeline.EngineResult{
		Text:       ocrResp.Data.Text,
		Confidence: ocrResp.Data.Confidence,
		Fields:     fields,
	}, nil
}
