package profile

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/kt3v/etherialsoul-server/internal/version"
)

// Profile is configuration to start the chat relay server.
type Profile struct {
	Mode    string // dev, prod
	Addr    string
	Port    int
	Version string

	// Unified LLM configuration (OpenAI-compatible protocol).
	LLMProvider   string // openai, deepseek, siliconflow, zai, ollama, ...
	LLMAPIKey     string
	LLMBaseURL    string
	LLMModel      string
	LLMTimeoutSec int

	LLMMaxRetries int
	LLMRetryBaseMS int

	// Profile-provider credentials; absent disables profile context entirely.
	ProfileProviderBaseURL string
	ProfileProviderAPIKey  string

	AIEnabled bool
}

// llmProviderDefaults mirrors known OpenAI-compatible endpoints so a bare
// LLM_PROVIDER is enough to get going without also supplying LLM_BASE_URL.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured. The health
// endpoint reports this verbatim as aiEnabled.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

// HasProfileProvider reports whether chart/profile lookups should be wired
// in at all (spec §6: "absent disables profile context").
func (p *Profile) HasProfileProvider() bool {
	return p.ProfileProviderBaseURL != "" || p.ProfileProviderAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads LLM and profile-provider configuration from environment
// variables, applying per-provider defaults where the operator only set
// LLM_PROVIDER.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("LLM_PROVIDER", "zai")
	p.LLMAPIKey = getEnvOrDefault("LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("LLM_MODEL", "")
	p.LLMTimeoutSec = getEnvOrDefaultInt("LLM_TIMEOUT_SECONDS", 120)
	p.LLMMaxRetries = getEnvOrDefaultInt("LLM_MAX_RETRIES", 3)
	p.LLMRetryBaseMS = getEnvOrDefaultInt("LLM_RETRY_BASE_MS", 800)

	p.AIEnabled = p.LLMAPIKey != ""

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("unknown LLM provider, using default: zai", "provider", p.LLMProvider)
		p.LLMProvider = "zai"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.ProfileProviderBaseURL = getEnvOrDefault("PROFILE_PROVIDER_BASE_URL", "")
	p.ProfileProviderAPIKey = getEnvOrDefault("PROFILE_PROVIDER_API_KEY", "")
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Port == 0 {
		p.Port = 3000
	}
	if p.Version == "" {
		p.Version = version.GetCurrentVersion(p.Mode)
	}
	return nil
}

// LLMTimeout is LLMTimeoutSec as a time.Duration, for direct use by
// internal/llm.Config.
func (p *Profile) LLMTimeout() time.Duration {
	return time.Duration(p.LLMTimeoutSec) * time.Second
}

// LLMRetryBase is LLMRetryBaseMS as a time.Duration.
func (p *Profile) LLMRetryBase() time.Duration {
	return time.Duration(p.LLMRetryBaseMS) * time.Millisecond
}
