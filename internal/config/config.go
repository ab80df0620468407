package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultModelID = "gemini-1.5-flash"
	DefaultOwnerID = "default-user"
)

// ProviderConfig holds the credential and endpoint of one provider family.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

type Config struct {
	HTTPPort     string
	LogLevel     string
	WriteTimeout time.Duration

	DatabaseURL       string
	DatabaseAuthToken string

	JWTSecret string

	DefaultModelID      string
	DefaultOwnerID      string
	DefaultSystemPrompt string
	HistoryLimit        int
	LLMMode             string

	Gemini   ProviderConfig
	OpenAI   ProviderConfig
	DeepSeek ProviderConfig

	// EnvFileLoaded reports whether a .env file was found and applied.
	EnvFileLoaded bool
}

// Load resolves the configuration once from the environment, after loading a
// .env file when one is present. Missing provider credentials are not an
// error here; they surface per request when a model needs them.
func Load() (*Config, error) {
	err := godotenv.Load()
	envLoaded := err == nil

	v := viper.New()
	v.SetDefault("http_port", "8080")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("http_write_timeout", "5m")
	v.SetDefault("database_url", "chat.db")
	v.SetDefault("default_model_id", DefaultModelID)
	v.SetDefault("default_owner_id", DefaultOwnerID)
	v.SetDefault("default_system_prompt", "You are a helpful assistant.")
	v.SetDefault("history_limit", 0)
	v.SetDefault("gemini_base_url", "generativelanguage.googleapis.com:443")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("deepseek_base_url", "https://api.deepseek.com/v1")
	v.AutomaticEnv()

	writeTimeout, err := time.ParseDuration(v.GetString("http_write_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_WRITE_TIMEOUT: %w", err)
	}
	historyLimit := v.GetInt("history_limit")
	if historyLimit < 0 {
		return nil, fmt.Errorf("HISTORY_LIMIT must not be negative, got %d", historyLimit)
	}

	cfg := &Config{
		HTTPPort:     v.GetString("http_port"),
		LogLevel:     strings.ToUpper(v.GetString("log_level")),
		WriteTimeout: writeTimeout,

		DatabaseURL:       v.GetString("database_url"),
		DatabaseAuthToken: v.GetString("database_auth_token"),

		JWTSecret: v.GetString("jwt_secret"),

		DefaultModelID:      v.GetString("default_model_id"),
		DefaultOwnerID:      v.GetString("default_owner_id"),
		DefaultSystemPrompt: v.GetString("default_system_prompt"),
		HistoryLimit:        historyLimit,
		LLMMode:             strings.ToUpper(v.GetString("llm_mode")),

		Gemini: ProviderConfig{
			APIKey:  v.GetString("gemini_api_key"),
			BaseURL: v.GetString("gemini_base_url"),
		},
		OpenAI: ProviderConfig{
			APIKey:  v.GetString("openai_api_key"),
			BaseURL: v.GetString("openai_base_url"),
		},
		DeepSeek: ProviderConfig{
			APIKey:  v.GetString("deepseek_api_key"),
			BaseURL: v.GetString("deepseek_base_url"),
		},
		EnvFileLoaded: envLoaded,
	}
	return cfg, nil
}
