// Package reel resolves reel links into downloadable video streams. The
// resolver endpoint answers with a list of candidate renditions; the first
// one is streamed back to the caller.
package reel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const requestTimeout = 60 * time.Second

// Client resolves and streams reel videos.
type Client struct {
	resolverURL string
	http        *http.Client
	log         *slog.Logger
}

// NewClient builds a client against resolverURL.
func NewClient(resolverURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		resolverURL: resolverURL,
		http:        &http.Client{Timeout: requestTimeout},
		log:         log.With("component", "fetch.reel"),
	}
}

type resolverResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// FetchStream resolves reelURL and opens a stream on the first rendition.
// The caller owns closing the returned body.
func (c *Client) FetchStream(ctx context.Context, reelURL string) (io.ReadCloser, error) {
	videoURL, err := c.resolve(ctx, reelURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open video stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("video stream returned status %d", resp.StatusCode)
	}

	c.log.Debug("Reel stream opened", "url", videoURL)
	return resp.Body, nil
}

// resolve asks the resolver for rendition URLs and picks the first.
func (c *Client) resolve(ctx context.Context, reelURL string) (string, error) {
	query := url.Values{}
	query.Set("url", reelURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolverURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build resolver request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolver request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}

	var decoded resolverResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode resolver response: %w", err)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].URL == "" {
		return "", fmt.Errorf("no video url found in reel post")
	}

	return decoded.Data[0].URL, nil
}
