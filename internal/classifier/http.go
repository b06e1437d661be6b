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

	"github.com/refset/desk-routing/internal/routing"
)

// HTTPClient calls a classification service over a small JSON REST API:
// POST {base}/classify with {"subject","body","instructions"} answered by a
// classification object, and GET {base}/health for liveness.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	authHeader string
}

// NewHTTPClient creates a client. Basic auth is sent when both credentials are set.
func NewHTTPClient(baseURL, username, password string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	if username != "" && password != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		c.authHeader = "Basic " + auth
	}
	return c
}

type classifyRequest struct {
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	Instructions string `json:"instructions"`
}

// Classify asks the remote service for a classification.
func (c *HTTPClient) Classify(ctx context.Context, subject, body string) (routing.Classification, error) {
	raw, err := c.post(ctx, c.baseURL+"/classify", classifyRequest{
		Subject:      subject,
		Body:         body,
		Instructions: instructions,
	})
	if err != nil {
		return routing.Classification{}, err
	}
	return decode(raw)
}

func (c *HTTPClient) post(ctx context.Context, url string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}

	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier API error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Name returns the classifier name.
func (c *HTTPClient) Name() string {
	return "http:" + c.baseURL
}

// Ping checks connectivity to the classification service.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier ping failed with status %d", resp.StatusCode)
	}
	return nil
}
