package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/swarmleads/leadengine/internal/lead"
)

const defaultModelTimeout = 60 * time.Second

// ModelClientConfig configures the HTTP model extractor.
type ModelClientConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// ModelClient calls a JSON-over-HTTP structured extraction endpoint. The
// endpoint receives plain text and answers with candidate addresses.
type ModelClient struct {
	cfg    ModelClientConfig
	client *http.Client
}

// NewModelClient builds a ModelClient. Endpoint must be set.
func NewModelClient(cfg ModelClientConfig) (*ModelClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("model extractor: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultModelTimeout
	}
	return &ModelClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type modelRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type modelResponse struct {
	Emails []struct {
		Email string `json:"email"`
		Type  string `json:"type,omitempty"`
	} `json:"emails"`
}

// ExtractEmails sends the bounded text to the model endpoint and parses its
// findings. Unparseable candidates in the response are dropped.
func (c *ModelClient) ExtractEmails(ctx context.Context, text string) ([]lead.ExtractionResult, error) {
	body, err := json.Marshal(modelRequest{Model: c.cfg.Model, Text: text})
	if err != nil {
		return nil, fmt.Errorf("model extractor: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("model extractor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model extractor: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model extractor: unexpected status %d", resp.StatusCode)
	}

	var parsed modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("model extractor: decode response: %w", err)
	}

	var out []lead.ExtractionResult
	for _, e := range parsed.Emails {
		addr, ok := normalize(e.Email)
		if !ok {
			continue
		}
		out = append(out, lead.ExtractionResult{
			Email:      addr,
			Confidence: confidenceModel,
			Source:     lead.SourceModel,
			Type:       classify(addr),
		})
	}
	return out, nil
}
