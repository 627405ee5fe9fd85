package encoder

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

	"semsearch/internal/errkind"
)

// Config holds everything the client needs; nothing is read from the
// environment after construction.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dim        int
	MaxTextLen int
	Timeout    time.Duration
}

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) Dimension() int { return c.cfg.Dim }

// Encode implements Encoder. Inputs are validated before the request is
// built; transient 429/5xx responses are retried with backoff.
func (c *Client) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateTexts(texts, c.cfg.MaxTextLen); err != nil {
		return nil, err
	}
	reqBody := map[string]any{
		"model": c.cfg.Model,
		"input": texts,
	}
	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, errkind.Wrap(errkind.ModelUnavailable, err, "build embeddings request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errkind.Wrap(errkind.Timeout, err, "encode deadline exceeded")
		}
		return nil, errkind.Wrap(errkind.ModelUnavailable, err, "embeddings request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, errkind.New(errkind.ModelUnavailable, "embeddings http %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errkind.Wrap(errkind.ModelUnavailable, err, "decode embeddings response")
	}
	if len(out.Data) != len(texts) {
		return nil, errkind.New(errkind.ModelUnavailable, "embeddings count mismatch: want %d got %d", len(texts), len(out.Data))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, errkind.New(errkind.ModelUnavailable, "embeddings index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if len(v) != c.cfg.Dim {
			return nil, errkind.New(errkind.DimensionMismatch, "model returned %d-dim vector for texts[%d], configured dim is %d", len(v), i, c.cfg.Dim)
		}
	}
	return vecs, nil
}

// Ping checks the endpoint is reachable via GET /models.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return errkind.Wrap(errkind.ModelUnavailable, err, "build models request")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.ModelUnavailable, err, "model endpoint unreachable")
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errkind.New(errkind.ModelUnavailable, "models http %d", resp.StatusCode)
	}
	return nil
}

// do retries on 429/5xx with a short backoff.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	backoff := 200 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode/100 != 5 {
			return resp, nil
		}
		if attempt >= 2 {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

var _ Encoder = (*Client)(nil)

func (c *Client) String() string { return fmt.Sprintf("openai(%s, dim=%d)", c.cfg.Model, c.cfg.Dim) }
