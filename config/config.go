package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type Config struct {
	ProjectDir   string `json:"project_dir" validate:"required"`
	ResultsDir   string `json:"results_dir" validate:"required"`
	DataDir      string `json:"data_dir" validate:"required"`
	DataCacheDir string `json:"data_cache_dir" validate:"required"`
	HistoryDB    string `json:"history_db"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Debug    bool   `json:"debug"`

	// LLM providers
	ClaudeAPIKey   string `json:"claude_api_key"`
	ClaudeModel    string `json:"claude_model"`
	ClaudeBaseURL  string `json:"claude_base_url"`
	OpenAIAPIKey   string `json:"openai_api_key"`
	OpenAIModel    string `json:"openai_model"`
	OpenAIBaseURL  string `json:"openai_base_url"`
	GeminiAPIKey   string `json:"gemini_api_key"`
	GeminiModel    string `json:"gemini_model"`
	GeminiBaseURL  string `json:"gemini_base_url"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	DeepSeekModel  string `json:"deepseek_model"`
	MergeProvider  string `json:"merge_provider" validate:"omitempty,oneof=claude openai gemini deepseek"`
	MaxTokens      int    `json:"max_tokens" validate:"gte=256"`
	LLMTimeoutSecs int    `json:"llm_timeout_secs" validate:"gte=1"`

	// Retry policy shared by LLM calls and page navigation
	RetryMaxAttempts      int `json:"retry_max_attempts" validate:"gte=1,lte=10"`
	RetryBaseDelayMs      int `json:"retry_base_delay_ms" validate:"gte=0"`
	RetryRateLimitDelayMs int `json:"retry_rate_limit_delay_ms" validate:"gte=0"`
	RetryMaxDelayMs       int `json:"retry_max_delay_ms" validate:"gte=0"`

	// Market data sources
	GoldPageURL        string `json:"gold_page_url" validate:"omitempty,url"`
	ScrapeRulesFile    string `json:"scrape_rules_file"`
	NavigationTimeoutS int    `json:"navigation_timeout_secs" validate:"gte=1"`
	UserAgent          string `json:"user_agent"`
	NewsQuery          string `json:"news_query"`
	NewsLanguage       string `json:"news_language"`
	NewsCountry        string `json:"news_country"`
	MaxNewsItems       int    `json:"max_news_items" validate:"gte=1"`
	YahooSymbol        string `json:"yahoo_symbol"`
	LongportSymbol     string `json:"longport_symbol"`
	CacheEnabled       bool   `json:"cache_enabled"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`

	// Outputs
	RedisURL         string `json:"redis_url"`
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`
	MetricsTextfile  string `json:"metrics_textfile"`

	// Schedules maps a pipeline tool name to a cron spec.
	Schedules map[string]string `json:"schedules"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	// Override with environment variables if they exist
	cfg.loadFromEnv()

	return cfg
}

// DefaultConfigWithRoot returns the built-in defaults rooted at dir, without
// consulting the environment.
func DefaultConfigWithRoot(dir string) *Config {
	return &Config{
		ProjectDir:   dir,
		ResultsDir:   filepath.Join(dir, "data", "analysis"),
		DataDir:      filepath.Join(dir, "data"),
		DataCacheDir: filepath.Join(dir, "data", "cache"),
		HistoryDB:    filepath.Join(dir, "data", "history.db"),

		LogLevel: "info",

		ClaudeModel:    "claude-sonnet-4-20250514",
		ClaudeBaseURL:  "https://api.anthropic.com/v1/",
		OpenAIModel:    "gpt-4o",
		OpenAIBaseURL:  "https://api.openai.com/v1",
		GeminiModel:    "gemini-2.5-flash",
		GeminiBaseURL:  "https://generativelanguage.googleapis.com/v1beta/openai/",
		DeepSeekModel:  "deepseek-chat",
		MergeProvider:  "claude",
		MaxTokens:      4096,
		LLMTimeoutSecs: 120,

		RetryMaxAttempts:      3,
		RetryBaseDelayMs:      2000,
		RetryRateLimitDelayMs: 60000,
		RetryMaxDelayMs:       30000,

		GoldPageURL:        "https://www.kitco.com/charts/gold",
		NavigationTimeoutS: 30,
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		NewsQuery:          "gold price",
		NewsLanguage:       "en-US",
		NewsCountry:        "US",
		MaxNewsItems:       10,
		YahooSymbol:        "GC=F",
		LongportSymbol:     "GLD.US",
		CacheEnabled:       true,

		Schedules: map[string]string{},

		EinoDebugEnabled: false,
		EinoDebugPort:    52538,
	}
}

func (c *Config) loadFromEnv() {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}

	setString("PROJECT_DIR", &c.ProjectDir)
	setString("RESULTS_DIR", &c.ResultsDir)
	setString("DATA_DIR", &c.DataDir)
	setString("DATA_CACHE_DIR", &c.DataCacheDir)
	setString("AURUM_HISTORY_DB", &c.HistoryDB)
	setString("AURUM_LOG_LEVEL", &c.LogLevel)
	setBool("AURUM_DEBUG", &c.Debug)

	setString("ANTHROPIC_API_KEY", &c.ClaudeAPIKey)
	setString("CLAUDE_MODEL", &c.ClaudeModel)
	setString("CLAUDE_BASE_URL", &c.ClaudeBaseURL)
	setString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	setString("OPENAI_MODEL", &c.OpenAIModel)
	setString("OPENAI_BASE_URL", &c.OpenAIBaseURL)
	setString("GEMINI_API_KEY", &c.GeminiAPIKey)
	setString("GEMINI_MODEL", &c.GeminiModel)
	setString("GEMINI_BASE_URL", &c.GeminiBaseURL)
	setString("DEEPSEEK_API_KEY", &c.DeepSeekAPIKey)
	setString("DEEPSEEK_MODEL", &c.DeepSeekModel)
	setString("AURUM_MERGE_PROVIDER", &c.MergeProvider)
	setInt("AURUM_MAX_TOKENS", &c.MaxTokens)
	setInt("AURUM_LLM_TIMEOUT_SECS", &c.LLMTimeoutSecs)

	setInt("AURUM_RETRY_MAX_ATTEMPTS", &c.RetryMaxAttempts)
	setInt("AURUM_RETRY_BASE_DELAY_MS", &c.RetryBaseDelayMs)
	setInt("AURUM_RETRY_RATE_LIMIT_DELAY_MS", &c.RetryRateLimitDelayMs)
	setInt("AURUM_RETRY_MAX_DELAY_MS", &c.RetryMaxDelayMs)

	setString("AURUM_GOLD_PAGE_URL", &c.GoldPageURL)
	setString("AURUM_SCRAPE_RULES_FILE", &c.ScrapeRulesFile)
	setInt("AURUM_NAVIGATION_TIMEOUT_SECS", &c.NavigationTimeoutS)
	setString("AURUM_USER_AGENT", &c.UserAgent)
	setString("AURUM_NEWS_QUERY", &c.NewsQuery)
	setInt("AURUM_MAX_NEWS_ITEMS", &c.MaxNewsItems)
	setString("AURUM_YAHOO_SYMBOL", &c.YahooSymbol)
	setString("AURUM_LONGPORT_SYMBOL", &c.LongportSymbol)
	setBool("CACHE_ENABLED", &c.CacheEnabled)

	setString("LONGPORT_APP_KEY", &c.LongportAppKey)
	setString("LONGPORT_APP_SECRET", &c.LongportAppSecret)
	setString("LONGPORT_ACCESS_TOKEN", &c.LongportAccessToken)

	setString("AURUM_REDIS_URL", &c.RedisURL)
	setString("TELEGRAM_BOT_TOKEN", &c.TelegramBotToken)
	setString("TELEGRAM_CHAT_ID", &c.TelegramChatID)
	setString("AURUM_METRICS_TEXTFILE", &c.MetricsTextfile)

	if val := os.Getenv("AURUM_SCHEDULES"); val != "" {
		c.Schedules = ParseSchedules(val)
	}

	setBool("EINO_DEBUG_ENABLED", &c.EinoDebugEnabled)
	setInt("EINO_DEBUG_PORT", &c.EinoDebugPort)
}

// ParseSchedules reads "tool=spec;tool=spec" pairs. Cron specs contain spaces
// and commas, so entries are separated by semicolons.
func ParseSchedules(raw string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ";") {
		tool, spec, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		tool = strings.TrimSpace(tool)
		spec = strings.TrimSpace(spec)
		if tool == "" || spec == "" {
			continue
		}
		out[tool] = spec
	}
	return out
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSecs) * time.Second
}

func (c *Config) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutS) * time.Second
}
