package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = "1.0.0"

var (
	// ErrIncompatibleVersion is returned when the config file was written by a
	// newer, incompatible release.
	ErrIncompatibleVersion = errors.New("config: incompatible config version")
	// ErrMissingAPIKey is returned by Validate when no model credential is set.
	ErrMissingAPIKey = errors.New("config: model api key is not set (model.api_key or OPENAI_API_KEY)")
)

// Config 是应用配置的根结构体
type Config struct {
	Version    string           `mapstructure:"version" yaml:"version"`
	Gateway    GatewayConfig    `mapstructure:"gateway" yaml:"gateway"`
	Model      ModelConfig      `mapstructure:"model" yaml:"model"`
	Summarizer SummarizerConfig `mapstructure:"summarizer" yaml:"summarizer"`
	History    HistoryConfig    `mapstructure:"history" yaml:"history"`
	Persona    PersonaConfig    `mapstructure:"persona" yaml:"persona"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Retention  RetentionConfig  `mapstructure:"retention" yaml:"retention"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Port      int             `mapstructure:"port" yaml:"port"`
	Host      string          `mapstructure:"host" yaml:"host"`
	UIDir     string          `mapstructure:"ui_dir" yaml:"ui_dir"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// ModelConfig describes the hosted completion endpoint.
type ModelConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ServiceTier string        `mapstructure:"service_tier" yaml:"service_tier"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Stream      bool          `mapstructure:"stream" yaml:"stream"`
}

// SummarizerConfig describes the summarization endpoint. Empty fields inherit
// from ModelConfig. Temperature is always zero and is not configurable.
type SummarizerConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Model       string        `mapstructure:"model" yaml:"model,omitempty"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ServiceTier string        `mapstructure:"service_tier" yaml:"service_tier,omitempty"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// HistoryConfig 历史压缩配置
type HistoryConfig struct {
	Threshold        int    `mapstructure:"threshold" yaml:"threshold"`
	Tail             int    `mapstructure:"tail" yaml:"tail"`
	OnSummaryFailure string `mapstructure:"on_summary_failure" yaml:"on_summary_failure"` // keep, reset
}

// PersonaConfig points at the system prompt. Text takes precedence over Path.
type PersonaConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	Text string `mapstructure:"text" yaml:"text,omitempty"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// RetentionConfig 会话清理配置
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Schedule string        `mapstructure:"schedule" yaml:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// SummarizerModel returns the summarizer model, falling back to the chat model.
func (c *Config) SummarizerModel() string {
	if c.Summarizer.Model != "" {
		return c.Summarizer.Model
	}
	return c.Model.Model
}

// SummarizerEndpoint returns the summarizer endpoint, falling back to the chat endpoint.
func (c *Config) SummarizerEndpoint() string {
	if c.Summarizer.Endpoint != "" {
		return c.Summarizer.Endpoint
	}
	return c.Model.Endpoint
}

// SummarizerServiceTier returns the summarizer tier, falling back to the chat tier.
func (c *Config) SummarizerServiceTier() string {
	if c.Summarizer.ServiceTier != "" {
		return c.Summarizer.ServiceTier
	}
	return c.Model.ServiceTier
}

// Validate checks the settings a chat turn depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.Model.Model == "" {
		return errors.New("config: model.model is empty")
	}
	if c.History.Threshold <= 0 {
		return fmt.Errorf("config: history.threshold must be positive, got %d", c.History.Threshold)
	}
	if c.History.Tail < 0 || c.History.Tail >= c.History.Threshold {
		return fmt.Errorf("config: history.tail must be in [0, %d), got %d", c.History.Threshold, c.History.Tail)
	}
	switch c.History.OnSummaryFailure {
	case "", "keep", "reset":
	default:
		return fmt.Errorf("config: history.on_summary_failure must be keep or reset, got %q", c.History.OnSummaryFailure)
	}
	return nil
}

// CheckVersion rejects config files written by a newer major version.
// An empty version is treated as current.
func CheckVersion(version string) error {
	if version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("config: parse version %q: %w", version, err)
	}
	current := semver.MustParse(CurrentVersion)
	if v.Major() > current.Major() {
		return fmt.Errorf("%w: file is %s, this build supports %d.x", ErrIncompatibleVersion, v, current.Major())
	}
	return nil
}

// LoadPersona returns the persona text. It is read once at startup and used
// verbatim for every completion request.
func LoadPersona(cfg *Config) (string, error) {
	if cfg.Persona.Text != "" {
		return cfg.Persona.Text, nil
	}
	path, err := ExpandPath(cfg.Persona.Path)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", errors.New("config: persona.path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona %s: %w", path, err)
	}
	return string(data), nil
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load 加载配置文件
// 优先级: ENV > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("CASSANDRA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("model.api_key", "CASSANDRA_MODEL_API_KEY", "OPENAI_API_KEY")

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// 忽略文件不存在错误
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := CheckVersion(cfg.Version); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig 获取当前配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Path returns the config file path set by the last Load.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// Get 获取任意配置键值
func Get(key string) any {
	return viper.Get(key)
}

// GetString 获取字符串配置值
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt 获取整数配置值
func GetInt(key string) int {
	return viper.GetInt(key)
}

// Set 设置配置值并持久化
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)

	if configPath != "" {
		return save()
	}
	return nil
}

// Save 保存配置到文件
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save 内部保存函数，调用者需要持有锁
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}

	// 0600: the file may carry the API key
	return os.WriteFile(configPath, data, 0600)
}

// SaveTo 保存配置到指定路径
func SaveTo(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
