package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatkeeper/pkg/config"
)

func newTestHuggingFace(t *testing.T, handler http.HandlerFunc) *HuggingFace {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewHuggingFace(config.HuggingFaceConfig{
		APIKey: "test-key",
		Model:  "test/model",
	})
	require.NoError(t, err)
	provider.apiURL = server.URL

	return provider
}

func TestHuggingFaceStripsPromptEcho(t *testing.T) {
	provider := newTestHuggingFace(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req hfRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "[INST]what is Go?[/INST]", req.Inputs)
		assert.Equal(t, 9999, req.Parameters.MaxNewTokens)

		json.NewEncoder(w).Encode([]hfResponse{
			{GeneratedText: req.Inputs + " Go is a programming language."},
		})
	})

	answer, err := provider.Complete(context.Background(), "what is Go?")
	require.NoError(t, err)
	assert.Equal(t, "Go is a programming language.", answer)
}

func TestHuggingFaceErrorStatus(t *testing.T) {
	provider := newTestHuggingFace(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := provider.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorContains(t, err, "503")
}

func TestHuggingFaceEmptyGeneration(t *testing.T) {
	provider := newTestHuggingFace(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]hfResponse{})
	})

	_, err := provider.Complete(context.Background(), "hello")
	require.Error(t, err)
}

func TestNewHuggingFaceRequiresKey(t *testing.T) {
	_, err := NewHuggingFace(config.HuggingFaceConfig{Model: "test/model"})
	require.Error(t, err)
}
