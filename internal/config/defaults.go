package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultSummaryPrompt is the instruction sent ahead of the serialized history.
const DefaultSummaryPrompt = "Summarize the following chat history into a concise form, preserving important context."

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	viper.SetDefault("version", CurrentVersion)

	// Gateway 配置
	viper.SetDefault("gateway.port", 18790)
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.ui_dir", "")
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 60)
	viper.SetDefault("gateway.rate_limit.burst", 10)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", time.Minute)

	// Model 配置
	viper.SetDefault("model.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("model.api_key", "")
	viper.SetDefault("model.model", "gpt-5-nano")
	viper.SetDefault("model.temperature", 0.7)
	viper.SetDefault("model.timeout", 30*time.Second)
	viper.SetDefault("model.service_tier", "flex")
	viper.SetDefault("model.max_tokens", 0)
	viper.SetDefault("model.stream", true)

	// Summarizer 配置 (空值继承 model.*)
	viper.SetDefault("summarizer.endpoint", "")
	viper.SetDefault("summarizer.model", "")
	viper.SetDefault("summarizer.timeout", 30*time.Second)
	viper.SetDefault("summarizer.service_tier", "")
	viper.SetDefault("summarizer.max_tokens", 0)

	// History 配置
	viper.SetDefault("history.threshold", 20)
	viper.SetDefault("history.tail", 4)
	viper.SetDefault("history.on_summary_failure", "keep")

	// Persona 配置
	viper.SetDefault("persona.path", "system_prompt.txt")
	viper.SetDefault("persona.text", "")

	// Log 配置
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.file", "logs/cassandra.log")

	// Storage 配置
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.path", "~/.cassandra/data.db")

	// Retention 配置
	viper.SetDefault("retention.enabled", false)
	viper.SetDefault("retention.schedule", "@daily")
	viper.SetDefault("retention.max_age", 30*24*time.Hour)
}
