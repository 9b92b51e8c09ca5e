// Package classifier calls the primary document-type model service. The
// pipeline treats it as advisory: outages degrade a document rather than
// fail it, and text-pattern verification can overrule its label.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/pipeline"
)

// Client calls the hosted classification model.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// New builds a classifier client for the service at baseURL.
func New(baseURL string, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type classifyRequest struct {
	Image  string `json:"image"` // base64 encoded page
	Format string `json:"format"`
	Ref    string `json:"ref,omitempty"`
}

type classifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"data"`
}

// Classify posts the oriented page and returns the model's label and
// confidence.
func (c *Client) Classify(ctx context.Context, img pipeline.PageImage) (string, float64, error) {
	reqBody, err := json.Marshal(classifyRequest{
		Image:  base64.StdEncoding.EncodeToString(img.Data),
		Format: img.Format,
		Ref:    img.Ref,
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal classify request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/classify", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", 0, fmt.Errorf("create classify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var clsResp classifyResponse
	if err := json.Unmarshal(body, &clsResp); err != nil {
		return "", 0, fmt.Errorf("parse classifier response: %w", err)
	}
	if !clsResp.Success {
		return "", 0, fmt.Errorf("classifier reported failure: %s", clsResp.Message)
	}

	c.log.Debug("classified", "ref", img.Ref,
		"label", clsResp.Data.Label, "confidence", clsResp.Data.Confidence)

	return clsResp.Data.Label, clsResp.Data.Confidence, nil
}
