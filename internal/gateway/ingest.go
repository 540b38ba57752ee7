package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

const defaultIngestTimeout = 30 * time.Second

// IngestStatusError is a non-2xx answer from the ingestion API.
type IngestStatusError struct {
	StatusCode int
	Body       string
}

func (e *IngestStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingest api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("ingest api returned %d: %s", e.StatusCode, e.Body)
}

type batchRequest struct {
	Jobs []crawler.NormalizedRecord `json:"jobs"`
}

// HTTPIngestClient posts batches to {BaseURL}/batch.
type HTTPIngestClient struct {
	endpoint string
	client   *http.Client
}

var _ crawler.IngestClient = (*HTTPIngestClient)(nil)

// NewHTTPIngestClient builds a client for the ingestion API rooted at baseURL.
func NewHTTPIngestClient(baseURL string, timeout time.Duration) (*HTTPIngestClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ingest url is required")
	}
	if timeout <= 0 {
		timeout = defaultIngestTimeout
	}
	return &HTTPIngestClient{
		endpoint: baseURL + "/batch",
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// SubmitBatch sends {"jobs": records}; any 2xx counts as accepted.
func (c *HTTPIngestClient) SubmitBatch(ctx context.Context, records []crawler.NormalizedRecord) error {
	payload, err := json.Marshal(batchRequest{Jobs: records})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &IngestStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
