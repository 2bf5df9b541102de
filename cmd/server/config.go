package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/comfortillo/chat-relay/internal/handlers"
	"github.com/comfortillo/chat-relay/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(ctx context.Context, systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	services.LLMParameters `yaml:",inline"`
}

type config struct {
	Port         string          `yaml:"port"`
	LogLevel     string          `yaml:"logLevel"`
	LogFormat    string          `yaml:"logFormat"`
	ErrorPrefix  string          `yaml:"errorPrefix"`
	SystemPrompt string          `yaml:"systemPrompt"`
	LLM          llmConfig       `yaml:"llm"`
	Journal      journalConfig   `yaml:"journal"`
	MaxBodyBytes int64           `yaml:"maxBodyBytes"`
	RateLimit    rateLimitConfig `yaml:"rateLimit"`
	Auth         authConfig      `yaml:"auth"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

type journalConfig struct {
	Path string `yaml:"path"`
}

type rateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	RedisURL string        `yaml:"redisURL"`
}

type authConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
}

const (
	defaultPort            = "8080"
	defaultOllamaHost      = "http://localhost:11434"
	defaultAnthropicTokens = 1024
	defaultRateLimitWindow = time.Minute

	configEnv = "CHATRELAY_CONFIG"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string          `yaml:"port"`
		LogLevel     string          `yaml:"logLevel"`
		LogFormat    string          `yaml:"logFormat"`
		ErrorPrefix  string          `yaml:"errorPrefix"`
		SystemPrompt string          `yaml:"systemPrompt"`
		LLM          yaml.Node       `yaml:"llm"`
		Journal      journalConfig   `yaml:"journal"`
		MaxBodyBytes int64           `yaml:"maxBodyBytes"`
		RateLimit    rateLimitConfig `yaml:"rateLimit"`
		Auth         authConfig      `yaml:"auth"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.LogFormat = rawConfig.LogFormat
	c.ErrorPrefix = rawConfig.ErrorPrefix
	c.SystemPrompt = rawConfig.SystemPrompt
	c.Journal = rawConfig.Journal
	c.MaxBodyBytes = rawConfig.MaxBodyBytes
	c.RateLimit = rawConfig.RateLimit
	c.Auth = rawConfig.Auth

	if rawConfig.LLM.Kind == 0 {
		return nil
	}

	var base BaseLLMConfig
	if err := rawConfig.LLM.Decode(&base); err != nil {
		return err
	}

	var llm llmConfig
	switch base.Provider {
	case "", "openai":
		llm = &openAIConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "gemini":
		llm = &geminiConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", base.Provider)
	}

	if err := rawConfig.LLM.Decode(llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// configPath resolves the config file location: the flag value, then $CHATRELAY_CONFIG, then the
// user config directory.
func configPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if p := os.Getenv(configEnv); p != "" {
		return p, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "chatrelay", "config.yaml"), nil
}

// loadConfig reads the config file at path. A missing or empty file yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.ErrorPrefix == "" {
		c.ErrorPrefix = handlers.DefaultErrorPrefix
	}
	if c.LLM == nil {
		c.LLM = &openAIConfig{}
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = defaultRateLimitWindow
	}
}

func (c config) guards(limiter handlers.Limiter) handlers.Guards {
	return handlers.Guards{
		MaxBodyBytes: c.MaxBodyBytes,
		Limiter:      limiter,
		JWTSecret:    c.Auth.JWTSecret,
	}
}

type closingLimiter interface {
	handlers.Limiter
	io.Closer
}

// limiter builds the configured rate limiter, or returns nil when rate limiting is off.
func (r rateLimitConfig) limiter() (closingLimiter, error) {
	if r.Requests <= 0 {
		return nil, nil
	}
	if r.RedisURL != "" {
		rl, err := services.NewRedisLimiter(r.RedisURL, r.Requests, r.Window)
		if err != nil {
			return nil, err
		}
		return rl, nil
	}
	return services.NewMemoryLimiter(r.Requests, r.Window), nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
}

func apiKey(value, env string) (string, error) {
	if value != "" {
		return value, nil
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("apiKey is required: set llm.apiKey or %s", env)
}

func (o openAIConfig) llm(_ context.Context, systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	key, err := apiKey(o.APIKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	return services.NewOpenAI(key, o.BaseURL, o.Model, systemPrompt, o.LLMParameters, logger), nil
}

func (o openRouterConfig) llm(_ context.Context, systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	key, err := apiKey(o.APIKey, "OPENROUTER_API_KEY")
	if err != nil {
		return nil, err
	}
	return services.NewOpenRouter(key, o.BaseURL, o.Model, systemPrompt, o.LLMParameters, logger), nil
}

func (a anthropicConfig) llm(_ context.Context, systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	key, err := apiKey(a.APIKey, "ANTHROPIC_API_KEY")
	if err != nil {
		return nil, err
	}
	maxTokens := defaultAnthropicTokens
	if a.MaxTokens != nil {
		maxTokens = *a.MaxTokens
	}
	return services.NewAnthropic(key, a.BaseURL, a.Model, systemPrompt, maxTokens, a.LLMParameters, logger), nil
}

func (o ollamaConfig) llm(_ context.Context, systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, systemPrompt, o.LLMParameters, logger)
}

func (g geminiConfig) llm(ctx context.Context, systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if g.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	key, err := apiKey(g.APIKey, "GEMINI_API_KEY")
	if err != nil {
		return nil, err
	}
	return services.NewGemini(ctx, key, g.Model, systemPrompt, g.LLMParameters, logger)
}
