package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Post modes.
const (
	PostModeSingle   = "single"
	PostModeCarousel = "carousel"
	PostModeNone     = "none"
)

// Config holds all application configuration.
type Config struct {
	TavilyAPIKey  string `yaml:"tavily_api_key"`
	Query         string `yaml:"query"`
	MaxResults    int    `yaml:"max_results"`
	SearchDays    int    `yaml:"search_days"`
	SearchDepth   string `yaml:"search_depth"`
	EnrichContent bool   `yaml:"enrich_content"`

	GeminiAPIKey      string  `yaml:"gemini_api_key"`
	GeminiModel       string  `yaml:"gemini_model"`
	GeminiTemperature float64 `yaml:"gemini_temperature"`

	InstagramAccessToken string        `yaml:"instagram_access_token"`
	InstagramAccountID   string        `yaml:"instagram_account_id"`
	GraphAPIVersion      string        `yaml:"graph_api_version"`
	PostMode             string        `yaml:"post_mode"`
	ImageBaseURL         string        `yaml:"image_base_url"`
	ProbeRetries         int           `yaml:"probe_retries"`
	ProbeDelay           time.Duration `yaml:"probe_delay"`

	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	PublishTimes []string `yaml:"publish_times"`
	Timezone     string   `yaml:"timezone"`
	ListenAddr   string   `yaml:"listen_addr"`

	OutputDir      string `yaml:"output_dir"`
	BackgroundPath string `yaml:"background_path"`
	FontPath       string `yaml:"font_path"`
	Layout         Layout `yaml:"layout"`

	FetchTimeoutSecs int           `yaml:"fetch_timeout_secs"`
	RecencyWindow    time.Duration `yaml:"recency_window"`
	DBPath           string        `yaml:"db_path"`
	LogLevel         string        `yaml:"log_level"`
	LogFile          string        `yaml:"log_file"`
}

// Layout holds card geometry. Zero values fall back to defaults.
type Layout struct {
	MarginX         int    `yaml:"margin_x"`
	TitleSize       int    `yaml:"title_size"`
	TitleMinSize    int    `yaml:"title_min_size"`
	TitleMaxLines   int    `yaml:"title_max_lines"`
	TitleY          int    `yaml:"title_y"`
	TitleLineGap    int    `yaml:"title_line_gap"`
	ContentSize     int    `yaml:"content_size"`
	ContentY        int    `yaml:"content_y"`
	ContentLineGap  int    `yaml:"content_line_gap"`
	BoxPaddingX     int    `yaml:"box_padding_x"`
	BoxPaddingY     int    `yaml:"box_padding_y"`
	BoxRadius       int    `yaml:"box_radius"`
	HashtagSize     int    `yaml:"hashtag_size"`
	HashtagY        int    `yaml:"hashtag_y"`
	HashtagPaddingX int    `yaml:"hashtag_padding_x"`
	HashtagPaddingY int    `yaml:"hashtag_padding_y"`
	HashtagRadius   int    `yaml:"hashtag_radius"`
	BoxColor        string `yaml:"box_color"`
	SourceText      string `yaml:"source_text"`
	SourceSize      int    `yaml:"source_size"`
	SourceX         int    `yaml:"source_x"`
	SourceY         int    `yaml:"source_y"`
	SourceColor     string `yaml:"source_color"`
}

var (
	timeRegex  = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)
	colorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// Load reads configuration from a YAML file, the .env file and the
// environment. A missing config file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := loadDotEnv(GetEnvFilePath()); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("CARDNEWS_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

// GetEnvFilePath returns the dotenv file path from environment or default.
func GetEnvFilePath() string {
	if path := os.Getenv("CARDNEWS_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

// RequireSearch reports whether news search credentials are present.
func (c *Config) RequireSearch() error {
	if c.TavilyAPIKey == "" {
		return errors.New("tavily_api_key is required (TAVILY_API_KEY)")
	}
	return nil
}

// RequireAnalysis reports whether LLM credentials are present.
func (c *Config) RequireAnalysis() error {
	if c.GeminiAPIKey == "" {
		return errors.New("gemini_api_key is required (GOOGLE_API_KEY)")
	}
	return nil
}

// RequirePublishing reports whether Instagram credentials are present.
func (c *Config) RequirePublishing() error {
	if c.InstagramAccessToken == "" || c.InstagramAccountID == "" {
		return errors.New("instagram_access_token and instagram_account_id are required")
	}
	if c.ImageBaseURL == "" {
		return errors.New("image_base_url is required for publishing")
	}
	return nil
}

// NotifyEnabled reports whether Telegram reports should be sent.
func (c *Config) NotifyEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Query == "" {
		cfg.Query = "증권가 빅뉴스 핫이슈"
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 2
	}
	if cfg.SearchDays == 0 {
		cfg.SearchDays = 1
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "advanced"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash-lite"
	}
	if cfg.GeminiTemperature == 0 {
		cfg.GeminiTemperature = 0.7
	}
	if cfg.GraphAPIVersion == "" {
		cfg.GraphAPIVersion = "v18.0"
	}
	if cfg.PostMode == "" {
		cfg.PostMode = PostModeCarousel
	}
	if cfg.ProbeRetries == 0 {
		cfg.ProbeRetries = 5
	}
	if cfg.ProbeDelay == 0 {
		cfg.ProbeDelay = 2 * time.Second
	}
	if len(cfg.PublishTimes) == 0 {
		cfg.PublishTimes = []string{"09:00"}
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	if cfg.BackgroundPath == "" {
		cfg.BackgroundPath = "img/background_card_blank.png"
	}
	if cfg.FontPath == "" {
		cfg.FontPath = "fonts/NanumBarunGothicBold.ttf"
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 30
	}
	if cfg.RecencyWindow == 0 {
		cfg.RecencyWindow = 7 * 24 * time.Hour
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./cardnews.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Layout.applyDefaults()
}

func (l *Layout) applyDefaults() {
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setInt(&l.MarginX, 130)
	setInt(&l.TitleSize, 65)
	setInt(&l.TitleMinSize, 40)
	setInt(&l.TitleMaxLines, 2)
	setInt(&l.TitleY, 170)
	setInt(&l.TitleLineGap, 10)
	setInt(&l.ContentSize, 30)
	setInt(&l.ContentY, 530)
	setInt(&l.ContentLineGap, 5)
	setInt(&l.BoxPaddingX, 40)
	setInt(&l.BoxPaddingY, 30)
	setInt(&l.BoxRadius, 20)
	setInt(&l.HashtagSize, 25)
	setInt(&l.HashtagY, 405)
	setInt(&l.HashtagPaddingX, 30)
	setInt(&l.HashtagPaddingY, 15)
	setInt(&l.HashtagRadius, 15)
	setInt(&l.SourceSize, 20)
	setInt(&l.SourceX, 600)
	setInt(&l.SourceY, 858)
	if l.BoxColor == "" {
		l.BoxColor = "#1F49A5"
	}
	if l.SourceColor == "" {
		l.SourceColor = "#646464"
	}
	if l.SourceText == "" {
		l.SourceText = "※ 출처 : MQ(Money Quotient)"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"TAVILY_API_KEY", &cfg.TavilyAPIKey},
		{"GOOGLE_API_KEY", &cfg.GeminiAPIKey},
		{"INSTAGRAM_ACCESS_TOKEN", &cfg.InstagramAccessToken},
		{"INSTAGRAM_ACCOUNT_ID", &cfg.InstagramAccountID},
		{"TELEGRAM_BOT_TOKEN", &cfg.TelegramToken},
		{"CARDNEWS_IMAGE_BASE_URL", &cfg.ImageBaseURL},
		{"CARDNEWS_DB", &cfg.DBPath},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

func validate(cfg *Config) error {
	for _, t := range cfg.PublishTimes {
		if !timeRegex.MatchString(t) {
			return fmt.Errorf("publish_times entries must be in HH:MM format (00:00-23:59), got %q", t)
		}
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	switch cfg.PostMode {
	case PostModeSingle, PostModeCarousel, PostModeNone:
	default:
		return fmt.Errorf("post_mode must be one of single, carousel, none, got %q", cfg.PostMode)
	}
	if cfg.MaxResults < 1 || cfg.MaxResults > 20 {
		return fmt.Errorf("max_results must be between 1 and 20, got %d", cfg.MaxResults)
	}
	if cfg.ProbeRetries < 1 {
		return fmt.Errorf("probe_retries must be positive, got %d", cfg.ProbeRetries)
	}
	if !colorRegex.MatchString(cfg.Layout.BoxColor) {
		return fmt.Errorf("layout.box_color must be #RRGGBB, got %q", cfg.Layout.BoxColor)
	}
	if !colorRegex.MatchString(cfg.Layout.SourceColor) {
		return fmt.Errorf("layout.source_color must be #RRGGBB, got %q", cfg.Layout.SourceColor)
	}
	if cfg.Layout.TitleMinSize > cfg.Layout.TitleSize {
		return fmt.Errorf("layout.title_min_size %d exceeds title_size %d", cfg.Layout.TitleMinSize, cfg.Layout.TitleSize)
	}
	return nil
}
