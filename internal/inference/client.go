// Package inference talks to the external face service that does the heavy
// lifting: descriptor (embedding) computation and emotion classification.
// Frames never leave the machine except through this client.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Emotion is the analysis result for one face crop.
type Emotion struct {
	Dominant string
	Scores   map[string]float64
}

// Client is a thin JSON client for the inference service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type imageRequest struct {
	Image string `json:"image"`
}

type embedResponse struct {
	Descriptor []float64 `json:"descriptor"`
}

type analyzeResponse struct {
	Dominant string             `json:"dominant_emotion"`
	Scores   map[string]float64 `json:"emotions"`
}

// Embed returns the face descriptor for a JPEG crop.
func (c *Client) Embed(ctx context.Context, jpeg []byte) ([]float64, error) {
	var resp embedResponse
	if err := c.post(ctx, "/v1/embed", jpeg, &resp); err != nil {
		return nil, err
	}
	if len(resp.Descriptor) == 0 {
		return nil, fmt.Errorf("inference service returned an empty descriptor")
	}
	return resp.Descriptor, nil
}

// Analyze returns the emotion classification for a JPEG crop.
func (c *Client) Analyze(ctx context.Context, jpeg []byte) (Emotion, error) {
	var resp analyzeResponse
	if err := c.post(ctx, "/v1/analyze", jpeg, &resp); err != nil {
		return Emotion{}, err
	}
	if resp.Dominant == "" {
		resp.Dominant = "unknown"
	}
	return Emotion{Dominant: resp.Dominant, Scores: resp.Scores}, nil
}

// Ping checks that the service is up before a session starts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service health check returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, jpeg []byte, out interface{}) error {
	body, err := json.Marshal(imageRequest{Image: base64.StdEncoding.EncodeToString(jpeg)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Keep a slice of the body for the error message, the services
		// usually answer with a short JSON error.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inference service returned %d on %s: %s", resp.StatusCode, path, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode inference response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
