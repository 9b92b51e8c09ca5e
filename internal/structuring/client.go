// Package structuring hands finalized documents to the downstream
// structuring service. Delivery failures are reported but never fail the
// document; the consumer logs and moves on.
package structuring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veridoc/docintake-worker/internal/logging"
	"github.com/veridoc/docintake-worker/internal/pipeline"
)

// Client posts finalized documents downstream.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// New builds a structuring client. An empty baseURL disables the handoff.
func New(baseURL string, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Enabled reports whether a downstream endpoint is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type ingestRequest struct {
	DocumentID     string                        `json:"documentId"`
	SourceRef      string                        `json:"sourceRef"`
	Classification pipeline.ClassificationResult `json:"classification"`
	Rotation       int                           `json:"rotation"`
	Text           string                        `json:"text"`
	Fields         []pipeline.ExtractedField     `json:"fields"`
	Corrections    []pipeline.CorrectionEvent    `json:"corrections"`
	Degraded       bool                          `json:"degraded"`
}

// Submit posts the finalized document's decisions and text downstream.
func (c *Client) Submit(ctx context.Context, doc *pipeline.Document) error {
	if !c.Enabled() {
		return nil
	}

	reqBody, err := json.Marshal(ingestRequest{
		DocumentID:     doc.ID,
		SourceRef:      doc.SourceRef,
		Classification: doc.Classification,
		Rotation:       doc.Rotation,
		Text:           doc.ChosenAttempt.Text,
		Fields:         doc.Fields,
		Corrections:    doc.Corrections,
		Degraded:       doc.Degraded,
	})
	if err != nil {
		return fmt.Errorf("marshal ingest request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/documents/ingest", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create ingest request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ingest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("structuring returned status %d: %s", resp.StatusCode, string(body))
	}

	c.log.Info("document handed off", "doc", doc.ID, "fields", len(doc.Fields))
	return nil
}
