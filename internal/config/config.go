package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/openchain/pkg/source"
)

// Config is the root configuration.
type Config struct {
	GitHub    GitHubConfig    `yaml:"github"`
	Sources   SourcesConfig   `yaml:"sources"`
	Cache     CacheConfig     `yaml:"cache"`
	Recommend RecommendConfig `yaml:"recommend"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	LLM       LLMConfig       `yaml:"llm"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// GitHubConfig configures the GitHub REST client and its token pool.
type GitHubConfig struct {
	Tokens      []string `yaml:"tokens"`
	BaseURL     string   `yaml:"base_url"`
	Timeout     string   `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     string   `yaml:"backoff"`
	RPS         float64  `yaml:"rps"`   // per token
	Burst       int      `yaml:"burst"` // per token
	PerPage     int      `yaml:"per_page"`
	Exclude     []string `yaml:"exclude"` // logins never recommended, on top of known bots
}

// ParseTimeout returns the per-request timeout.
func (g GitHubConfig) ParseTimeout() time.Duration {
	return parseDuration(g.Timeout, 10*time.Second)
}

// ParseBackoff returns the pause between retries.
func (g GitHubConfig) ParseBackoff() time.Duration {
	return parseDuration(g.Backoff, 500*time.Millisecond)
}

// SourcesConfig locates the secondary data sources.
type SourcesConfig struct {
	OpenDiggerURL string `yaml:"opendigger_url"`
	TrendingFeed  string `yaml:"trending_feed"`
}

// CacheConfig sizes the response cache.
type CacheConfig struct {
	Capacity int    `yaml:"capacity"`
	TTL      string `yaml:"ttl"`
}

// ParseTTL returns the entry lifetime.
func (c CacheConfig) ParseTTL() time.Duration {
	return parseDuration(c.TTL, time.Hour)
}

// RecommendConfig tunes the recommendation engine.
type RecommendConfig struct {
	Workers       int      `yaml:"workers"`
	Seed          uint64   `yaml:"seed"` // 0 picks a random seed per process
	FallbackUsers []string `yaml:"fallback_users"`
	FallbackRepos []string `yaml:"fallback_repos"`
}

// ScheduleConfig configures background maintenance in serve mode.
type ScheduleConfig struct {
	SweepInterval string `yaml:"sweep_interval"`
	WarmInterval  string `yaml:"warm_interval"`
}

// ParseSweepInterval returns how often expired cache entries are dropped.
func (s ScheduleConfig) ParseSweepInterval() time.Duration {
	return parseDuration(s.SweepInterval, 10*time.Minute)
}

// ParseWarmInterval returns how often trending pools are refreshed.
func (s ScheduleConfig) ParseWarmInterval() time.Duration {
	return parseDuration(s.WarmInterval, 30*time.Minute)
}

// LLMConfig configures the optional relationship explainer.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint (optional)
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			BaseURL:     source.DefaultBaseURL,
			Timeout:     "10s",
			MaxAttempts: 3,
			Backoff:     "500ms",
			RPS:         1.3,
			Burst:       20,
			PerPage:     100,
		},
		Sources: SourcesConfig{
			OpenDiggerURL: source.DefaultOpenDiggerURL,
			TrendingFeed:  source.DefaultTrendingFeed,
		},
		Cache: CacheConfig{Capacity: 10000, TTL: "1h"},
		Recommend: RecommendConfig{
			Workers: 10,
			FallbackUsers: []string{
				"torvalds", "gaearon", "sindresorhus", "yyx990803", "tj",
				"rsc", "kennethreitz", "fabpot", "mitsuhiko", "antirez",
			},
			FallbackRepos: []string{
				"torvalds/linux", "golang/go", "facebook/react", "vuejs/core",
				"microsoft/vscode", "kubernetes/kubernetes", "rust-lang/rust",
				"python/cpython", "tensorflow/tensorflow", "nodejs/node",
			},
		},
		Schedule: ScheduleConfig{
			SweepInterval: "10m",
			WarmInterval:  "30m",
		},
		LLM:    LLMConfig{Provider: "openai"},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	cfg.GitHub.Tokens = append(cfg.GitHub.Tokens, envTokens()...)

	if v := os.Getenv("GITHUB_API_URL"); v != "" {
		cfg.GitHub.BaseURL = v
	}
	if v := os.Getenv("OPENCHAIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OPENCHAIN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
		cfg.LLM.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
		cfg.LLM.Provider = "anthropic"
	}
}

// envTokens collects tokens from GITHUB_TOKENS (comma separated),
// GITHUB_TOKEN and GITHUB_TOKEN_1, GITHUB_TOKEN_2, ... until the first gap.
func envTokens() []string {
	var out []string
	for _, t := range strings.Split(os.Getenv("GITHUB_TOKENS"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if t := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); t != "" {
		out = append(out, t)
	}
	for i := 1; ; i++ {
		t := strings.TrimSpace(os.Getenv("GITHUB_TOKEN_" + strconv.Itoa(i)))
		if t == "" {
			break
		}
		out = append(out, t)
	}
	return out
}

// ValidTokens returns the distinct well-formed tokens in configuration order.
func (c *Config) ValidTokens() []string {
	var out []string
	for _, t := range c.GitHub.Tokens {
		t = strings.TrimSpace(t)
		if source.ValidToken(t) && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// ValidateTokens fails when no usable GitHub token is configured.
func (c *Config) ValidateTokens() error {
	if len(c.ValidTokens()) == 0 {
		return fmt.Errorf("no valid GitHub token: set GITHUB_TOKENS, GITHUB_TOKEN or github.tokens (%d configured)", len(c.GitHub.Tokens))
	}
	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
