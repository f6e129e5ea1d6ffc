// Package shortvideo fetches playable metadata for short-video links through
// a resolver API (tikwm-compatible JSON contract).
package shortvideo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://www.tikwm.com/api/"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"
	requestTimeout = 30 * time.Second
)

// Info is the metadata needed to mirror a short-video post into a chat.
type Info struct {
	PlayURL      string
	Author       string
	PlayCount    int64
	LikeCount    int64
	CommentCount int64
	Images       []string
}

// IsAudio reports whether the play URL points at an audio rendition.
func (i Info) IsAudio() bool {
	return strings.HasSuffix(strings.ToLower(i.PlayURL), ".mp3")
}

// Client talks to the resolver API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewClient builds a client against the default resolver endpoint.
func NewClient(log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.With("component", "fetch.shortvideo"),
	}
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Play   string `json:"play"`
		Author struct {
			Nickname string `json:"nickname"`
		} `json:"author"`
		PlayCount    int64    `json:"play_count"`
		DiggCount    int64    `json:"digg_count"`
		CommentCount int64    `json:"comment_count"`
		Images       []string `json:"images"`
	} `json:"data"`
}

// FetchInfo resolves a short-video link into playable metadata. The hd=1
// parameter asks the resolver for the highest-quality rendition.
func (c *Client) FetchInfo(ctx context.Context, videoURL string) (Info, error) {
	query := url.Values{}
	query.Set("url", videoURL)
	query.Set("hd", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return Info{}, fmt.Errorf("build resolver request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("resolver request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Info{}, fmt.Errorf("decode resolver response: %w", err)
	}
	if decoded.Code != 0 {
		return Info{}, fmt.Errorf("resolver rejected link: %s", decoded.Msg)
	}
	if decoded.Data.Play == "" {
		return Info{}, fmt.Errorf("resolver returned no play url")
	}

	info := Info{
		PlayURL:      decoded.Data.Play,
		Author:       decoded.Data.Author.Nickname,
		PlayCount:    decoded.Data.PlayCount,
		LikeCount:    decoded.Data.DiggCount,
		CommentCount: decoded.Data.CommentCount,
		Images:       decoded.Data.Images,
	}
	c.log.Debug("Short-video link resolved", "author", info.Author, "images", len(info.Images), "audio", info.IsAudio())

	return info, nil
}
