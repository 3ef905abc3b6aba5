package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Client talks to the external image-synthesis API. The provider is slow and
// unreliable by assumption; retries and timeouts are the caller's job. The
// underlying http.Client carries no timeout of its own: the request context
// governs the whole call and cancels the transport when it expires.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type Request struct {
	Model          string
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
}

type Image struct {
	URL    string
	Width  int
	Height int
}

func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		log:        log,
	}
}

// Generate runs one synthesis attempt against a single model and returns the
// produced image references.
func (c *Client) Generate(ctx context.Context, req Request) ([]Image, error) {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"width":  req.Width,
		"height": req.Height,
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post generation: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("provider rejected generation", "status", resp.StatusCode, "model", req.Model, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("provider error: status=%d model=%s body=%s", resp.StatusCode, req.Model, truncateBody(rawBody))
	}

	var parsed struct {
		Images []struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"images"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode generation response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if len(parsed.Images) == 0 {
		return nil, fmt.Errorf("provider returned no images for model %s", req.Model)
	}

	images := make([]Image, 0, len(parsed.Images))
	for _, img := range parsed.Images {
		if img.URL == "" {
			return nil, fmt.Errorf("provider returned image without url for model %s", req.Model)
		}
		width := img.Width
		if width == 0 {
			width = req.Width
		}
		height := img.Height
		if height == 0 {
			height = req.Height
		}
		images = append(images, Image{URL: img.URL, Width: width, Height: height})
	}
	return images, nil
}

// Download fetches the raw bytes of a generated image, for rehosting.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download image: status=%d url=%s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
