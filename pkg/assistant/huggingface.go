package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatkeeper/pkg/config"
)

const hfEndpoint = "https://api-inference.huggingface.co/models/"

// HuggingFace is the fallback text provider, calling the hosted inference
// API for an instruct model.
type HuggingFace struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// NewHuggingFace validates config and builds the provider.
func NewHuggingFace(cfg config.HuggingFaceConfig) (*HuggingFace, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("assistants.huggingface.api_key is required")
	}

	return &HuggingFace{
		apiURL: hfEndpoint + cfg.Model,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (h *HuggingFace) Name() string { return "huggingface" }

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
}

type hfResponse struct {
	GeneratedText string `json:"generated_text"`
}

func (h *HuggingFace) Complete(ctx context.Context, prompt string) (string, error) {
	// Instruct models echo the prompt back; the [INST] wrapper makes the
	// echo detectable so it can be stripped from the answer.
	fullPrompt := "[INST]" + prompt + "[/INST]"

	body, err := json.Marshal(hfRequest{
		Inputs: fullPrompt,
		Parameters: hfParameters{
			MaxNewTokens: 9999,
			Temperature:  0.9,
			TopP:         0.9,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference returned status %d", resp.StatusCode)
	}

	var decoded []hfResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	if len(decoded) == 0 || decoded[0].GeneratedText == "" {
		return "", errors.New("no text generated")
	}

	return strings.TrimSpace(strings.Replace(decoded[0].GeneratedText, fullPrompt, "", 1)), nil
}
