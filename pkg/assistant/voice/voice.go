// Package voice synthesizes spoken audio for short assistant answers.
package voice

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

	"chatkeeper/pkg/config"
)

const apiBase = "https://api.elevenlabs.io/v1/text-to-speech/"

// ErrUnavailable marks synthesis failures the caller should degrade from
// silently by sending the text answer instead.
var ErrUnavailable = errors.New("voice synthesis unavailable")

// Synthesizer turns text into speech through the ElevenLabs streaming API.
type Synthesizer struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// New validates config and builds a synthesizer.
func New(cfg config.VoiceConfig) (*Synthesizer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("voice.api_key is required")
	}
	if cfg.VoiceID == "" {
		return nil, errors.New("voice.voice_id is required")
	}

	return &Synthesizer{
		apiURL: apiBase + cfg.VoiceID + "/stream",
		apiKey: apiKey,
		http:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type ttsRequest struct {
	Text          string      `json:"text"`
	ModelID       string      `json:"model_id"`
	VoiceSettings ttsSettings `json:"voice_settings"`
}

type ttsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize streams the spoken rendering of text as MPEG audio. The caller
// owns the returned reader and must close it.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: "eleven_flash_v2_5",
		VoiceSettings: ttsSettings{
			Stability:       0.9,
			SimilarityBoost: 0.9,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusUnauthorized:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: invalid api key", ErrUnavailable)
	case http.StatusUnprocessableEntity:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: text rejected", ErrUnavailable)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
