package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone     = "Asia/Shanghai"
	configPathEnv       = "STOCKLINK_CONFIG"
	databaseDSNEnv      = "DATABASE_DSN"
	databaseDriverEnv   = "DATABASE_DRIVER"
	deepseekAPIKeyEnv   = "DEEPSEEK_API_KEY"
	baiduAPIKeyEnv      = "BAIDU_API_KEY"
	baiduSecretKeyEnv   = "BAIDU_SECRET_KEY"
	wechatAppIDEnv      = "WECHAT_APPID"
	wechatSecretEnv     = "WECHAT_SECRET"
	wechatTemplateIDEnv = "WECHAT_TEMPLATE_ID"
	logLevelEnv         = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	HTTP      HTTPConfig      `yaml:"http"`
	DeepSeek  DeepSeekConfig  `yaml:"deepseek"`
	OCR       OCRConfig       `yaml:"ocr"`
	News      NewsConfig      `yaml:"news"`
	WeChat    WeChatConfig    `yaml:"wechat"`
	Notify    NotifyConfig    `yaml:"notify"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Staging   StagingConfig   `yaml:"staging"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when the batch job runs.
type SchedulerConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	LockFile string         `yaml:"lockFile"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HTTPConfig is the retry policy shared by all external calls.
type HTTPConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	Cooldown   time.Duration `yaml:"cooldown"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DeepSeekConfig defines how to contact the extraction model.
type DeepSeekConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	ReasoningModel string `yaml:"reasoningModel"`
	APIKey         string `yaml:"apiKey"`
}

// OCRConfig carries Baidu OCR credentials.
type OCRConfig struct {
	TokenURL  string `yaml:"tokenUrl"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"apiKey"`
	SecretKey string `yaml:"secretKey"`
}

// NewsConfig describes the per-identifier content source.
type NewsConfig struct {
	Source   string `yaml:"source"`
	Endpoint string `yaml:"endpoint"`
	PageSize int    `yaml:"pageSize"`
}

// WeChatConfig wires all data required to send subscribe messages.
type WeChatConfig struct {
	TokenURL   string `yaml:"tokenUrl"`
	SendURL    string `yaml:"sendUrl"`
	AppID      string `yaml:"appId"`
	Secret     string `yaml:"secret"`
	TemplateID string `yaml:"templateId"`
}

// NotifyConfig bounds one fan-out cycle.
type NotifyConfig struct {
	FreshnessWindow time.Duration `yaml:"freshnessWindow"`
	MaxPerUser      int           `yaml:"maxPerUser"`
	PreviewRunes    int           `yaml:"previewRunes"`
	Headline        string        `yaml:"headline"`
	Workers         int           `yaml:"workers"`
}

// IngestConfig bounds the ingestion worker pool.
type IngestConfig struct {
	Workers int `yaml:"workers"`
}

// StagingConfig bounds pending extractions.
type StagingConfig struct {
	MaxAge        time.Duration `yaml:"maxAge"`
	MaxCandidates int           `yaml:"maxCandidates"`
}

// APIConfig controls the HTTP surface for the confirm flow.
type APIConfig struct {
	Bind string `yaml:"bind"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
// An explicit path takes precedence over the STOCKLINK_CONFIG variable.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if fileCfg, err := Parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	overrides := map[string]*string{
		databaseDSNEnv:      &c.Database.DSN,
		databaseDriverEnv:   &c.Database.Driver,
		deepseekAPIKeyEnv:   &c.DeepSeek.APIKey,
		baiduAPIKeyEnv:      &c.OCR.APIKey,
		baiduSecretKeyEnv:   &c.OCR.SecretKey,
		wechatAppIDEnv:      &c.WeChat.AppID,
		wechatSecretEnv:     &c.WeChat.Secret,
		wechatTemplateIDEnv: &c.WeChat.TemplateID,
		logLevelEnv:         &c.Logging.Level,
	}
	for env, target := range overrides {
		if v := os.Getenv(env); v != "" {
			*target = v
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to UTC", tz)
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	mergeString(&base.Database.Driver, override.Database.Driver)
	mergeString(&base.Database.DSN, override.Database.DSN)

	mergeDuration(&base.Scheduler.Interval, override.Scheduler.Interval)
	mergeString(&base.Scheduler.Timezone, override.Scheduler.Timezone)
	mergeString(&base.Scheduler.LockFile, override.Scheduler.LockFile)

	mergeInt(&base.HTTP.MaxRetries, override.HTTP.MaxRetries)
	mergeDuration(&base.HTTP.Cooldown, override.HTTP.Cooldown)
	mergeDuration(&base.HTTP.Timeout, override.HTTP.Timeout)

	mergeString(&base.DeepSeek.Endpoint, override.DeepSeek.Endpoint)
	mergeString(&base.DeepSeek.Model, override.DeepSeek.Model)
	mergeString(&base.DeepSeek.ReasoningModel, override.DeepSeek.ReasoningModel)
	mergeString(&base.DeepSeek.APIKey, override.DeepSeek.APIKey)

	mergeString(&base.OCR.TokenURL, override.OCR.TokenURL)
	mergeString(&base.OCR.Endpoint, override.OCR.Endpoint)
	mergeString(&base.OCR.APIKey, override.OCR.APIKey)
	mergeString(&base.OCR.SecretKey, override.OCR.SecretKey)

	mergeString(&base.News.Source, override.News.Source)
	mergeString(&base.News.Endpoint, override.News.Endpoint)
	mergeInt(&base.News.PageSize, override.News.PageSize)

	mergeString(&base.WeChat.TokenURL, override.WeChat.TokenURL)
	mergeString(&base.WeChat.SendURL, override.WeChat.SendURL)
	mergeString(&base.WeChat.AppID, override.WeChat.AppID)
	mergeString(&base.WeChat.Secret, override.WeChat.Secret)
	mergeString(&base.WeChat.TemplateID, override.WeChat.TemplateID)

	mergeDuration(&base.Notify.FreshnessWindow, override.Notify.FreshnessWindow)
	mergeInt(&base.Notify.MaxPerUser, override.Notify.MaxPerUser)
	mergeInt(&base.Notify.PreviewRunes, override.Notify.PreviewRunes)
	mergeString(&base.Notify.Headline, override.Notify.Headline)
	mergeInt(&base.Notify.Workers, override.Notify.Workers)

	mergeInt(&base.Ingest.Workers, override.Ingest.Workers)

	mergeDuration(&base.Staging.MaxAge, override.Staging.MaxAge)
	mergeInt(&base.Staging.MaxCandidates, override.Staging.MaxCandidates)

	mergeString(&base.API.Bind, override.API.Bind)

	mergeString(&base.Logging.Level, override.Logging.Level)
	mergeString(&base.Logging.Format, override.Logging.Format)

	return base
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := Config{
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "file:stocklink.db?_pragma=busy_timeout(5000)"},
		Scheduler: SchedulerConfig{Interval: 24 * time.Hour, Timezone: defaultTimezone},
		HTTP:      HTTPConfig{MaxRetries: 3, Cooldown: time.Second, Timeout: 30 * time.Second},
		DeepSeek: DeepSeekConfig{
			Endpoint:       "https://api.deepseek.com/chat/completions",
			Model:          "deepseek-chat",
			ReasoningModel: "deepseek-reasoner",
		},
		OCR: OCRConfig{
			TokenURL: "https://aip.baidubce.com/oauth/2.0/token",
			Endpoint: "https://aip.baidubce.com/rest/2.0/ocr/v1/general_basic",
		},
		News: NewsConfig{
			Source:   "eastmoney",
			Endpoint: "https://news.example.org/api/stock-news",
			PageSize: 20,
		},
		WeChat: WeChatConfig{
			TokenURL: "https://api.weixin.qq.com/cgi-bin/token",
			SendURL:  "https://api.weixin.qq.com/cgi-bin/message/subscribe/send",
		},
		Notify: NotifyConfig{
			FreshnessWindow: 12 * time.Hour,
			MaxPerUser:      5,
			PreviewRunes:    20,
			Headline:        "今日股票资讯更新",
			Workers:         4,
		},
		Ingest:  IngestConfig{Workers: 4},
		Staging: StagingConfig{MaxAge: 30 * time.Minute, MaxCandidates: 20},
		API:     APIConfig{Bind: ":9999"},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
	}
	cfg.bindTimezone()
	return cfg
}
