package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envConfigPath     = "CHATKEEPER_CONFIG"
	envCaretakerToken = "CARETAKER_BOT_TOKEN"
	envQuillToken     = "QUILL_BOT_TOKEN"
	envAdminID        = "QUILL_ADMIN_ID"
	envChannelID      = "QUILL_CHANNEL_ID"
	envMistralKey     = "MISTRAL_KEY"
	envHuggingFaceKey = "HUGGINGFACE_KEY"
	envVoiceKey       = "ELEVENLABS_API_KEY"
	envVoiceID        = "ELEVENLABS_VOICE_ID"
	tokensFile        = ".env.tokens"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Caretaker  CaretakerConfig  `json:"caretaker"`
	Quill      QuillConfig      `json:"quill"`
	Assistants AssistantsConfig `json:"assistants"`
	Voice      VoiceConfig      `json:"voice"`
	Storefront StorefrontConfig `json:"storefront"`
	Downloads  DownloadsConfig  `json:"downloads,omitempty"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// CaretakerConfig configures the link-watching bot.
type CaretakerConfig struct {
	Token                  string `json:"token"`
	RestartCooldownSeconds int    `json:"restart_cooldown_seconds"`
	ReelResolverURL        string `json:"reel_resolver_url"`
}

// QuillConfig configures the publishing bot.
type QuillConfig struct {
	Token            string `json:"token"`
	AdminID          int64  `json:"admin_id"`
	ChannelID        string `json:"channel_id"`
	ChannelTitle     string `json:"channel_title"`
	WatermarkPath    string `json:"watermark_path"`
	GroupQuietMillis int    `json:"group_quiet_millis"`
}

// AssistantsConfig stores AI text provider settings, primary first.
type AssistantsConfig struct {
	Mistral     MistralConfig     `json:"mistral"`
	HuggingFace HuggingFaceConfig `json:"huggingface"`
}

// MistralConfig configures the primary AI text provider.
type MistralConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// HuggingFaceConfig configures the fallback AI text provider.
type HuggingFaceConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// VoiceConfig configures speech synthesis for assistant replies.
type VoiceConfig struct {
	APIKey  string `json:"api_key"`
	VoiceID string `json:"voice_id"`
}

// StorefrontConfig configures the game-storefront report.
type StorefrontConfig struct {
	KnownGameIDs      []int   `json:"known_game_ids"`
	TopLimit          int     `json:"top_limit"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// DownloadsConfig controls where transient media files land.
type DownloadsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// Load resolves config.json, unmarshals it, loads the token file if present,
// and applies environment overrides.
func Load() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Tokens live next to the config in a dotenv file the same way secrets
	// are kept out of config.json. Absence is fine.
	_ = godotenv.Load(filepath.Join(filepath.Dir(configPath), tokensFile))

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects env-driven secrets on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	setString(&cfg.Caretaker.Token, envCaretakerToken)
	setString(&cfg.Quill.Token, envQuillToken)
	setString(&cfg.Quill.ChannelID, envChannelID)
	setString(&cfg.Assistants.Mistral.APIKey, envMistralKey)
	setString(&cfg.Assistants.HuggingFace.APIKey, envHuggingFaceKey)
	setString(&cfg.Voice.APIKey, envVoiceKey)
	setString(&cfg.Voice.VoiceID, envVoiceID)

	if raw := strings.TrimSpace(os.Getenv(envAdminID)); raw != "" {
		var id int64
		if _, err := fmt.Sscanf(raw, "%d", &id); err == nil {
			cfg.Quill.AdminID = id
		}
	}
}

func setString(target *string, envName string) {
	if value := strings.TrimSpace(os.Getenv(envName)); value != "" {
		*target = value
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Caretaker.RestartCooldownSeconds <= 0 {
		cfg.Caretaker.RestartCooldownSeconds = 10
	}
	if cfg.Quill.GroupQuietMillis <= 0 {
		cfg.Quill.GroupQuietMillis = 1000
	}
	if cfg.Assistants.Mistral.Model == "" {
		cfg.Assistants.Mistral.Model = "mistral-large-latest"
	}
	if cfg.Assistants.Mistral.BaseURL == "" {
		cfg.Assistants.Mistral.BaseURL = "https://api.mistral.ai/v1"
	}
	if cfg.Assistants.HuggingFace.Model == "" {
		cfg.Assistants.HuggingFace.Model = "mistralai/Mistral-7B-Instruct-v0.3"
	}
	if cfg.Storefront.TopLimit <= 0 {
		cfg.Storefront.TopLimit = 50
	}
	if cfg.Storefront.RequestsPerSecond <= 0 {
		cfg.Storefront.RequestsPerSecond = 2
	}
	if cfg.Downloads.Dir == "" {
		cfg.Downloads.Dir = "downloads"
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is CHATKEEPER_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
