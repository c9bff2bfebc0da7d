// Package config provides configuration types and loading for mindloop.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Provider, Engine, Limiter, Gateway, Publish.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Provider ProviderConfig `json:"provider"`
	Engine   EngineConfig   `json:"engine"`
	Limiter  LimiterConfig  `json:"limiter"`
	Gateway  GatewayConfig  `json:"gateway"`
	Publish  PublishConfig  `json:"publish"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
}

// ProviderConfig configures the OpenAI-compatible text-generation provider.
type ProviderConfig struct {
	APIKey      string  `json:"apiKey" envconfig:"API_KEY"`
	APIBase     string  `json:"apiBase" envconfig:"API_BASE"`
	Model       string  `json:"model" envconfig:"MODEL"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
}

// EngineConfig groups autonomous-cycle settings.
type EngineConfig struct {
	IntervalMinutes   int     `json:"intervalMinutes" envconfig:"INTERVAL_MINUTES"`
	IncompleteTaskCap int     `json:"incompleteTaskCap" envconfig:"INCOMPLETE_TASK_CAP"`
	MaxTasksPerCycle  int     `json:"maxTasksPerCycle" envconfig:"MAX_TASKS_PER_CYCLE"`
	MaxResearchTopics int     `json:"maxResearchTopics" envconfig:"MAX_RESEARCH_TOPICS"`
	EvolveProbability float64 `json:"evolveProbability" envconfig:"EVOLVE_PROBABILITY"`
	FallbackTrigger   string  `json:"fallbackTrigger" envconfig:"FALLBACK_TRIGGER"`
	DefaultSession    string  `json:"defaultSession" envconfig:"DEFAULT_SESSION"`
}

// LimiterConfig groups tool-usage limiter settings.
type LimiterConfig struct {
	MaxToolsBeforeDependency int `json:"maxToolsBeforeDependency" envconfig:"MAX_TOOLS_BEFORE_DEPENDENCY"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Host    string `json:"host" envconfig:"HOST"`
	Port    int    `json:"port" envconfig:"PORT"`
}

// PublishConfig groups artifact publishing settings.
type PublishConfig struct {
	Kafka KafkaPublishConfig `json:"kafka"`
	Slack SlackPublishConfig `json:"slack"`
}

// KafkaPublishConfig configures the Kafka artifact publisher.
type KafkaPublishConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// SlackPublishConfig configures the Slack artifact publisher.
type SlackPublishConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
	Channel  string `json:"channel" envconfig:"CHANNEL"`
	APIBase  string `json:"apiBase" envconfig:"API_BASE"`
}

// Interval returns the cycle interval as a duration.
func (e EngineConfig) Interval() time.Duration {
	if e.IntervalMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(e.IntervalMinutes) * time.Minute
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".mindloop")
	return &Config{
		Paths: PathsConfig{
			DataDir: dataDir,
			DBPath:  filepath.Join(dataDir, "mindloop.db"),
		},
		Provider: ProviderConfig{
			APIBase:     "https://api.openai.com/v1",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Engine: EngineConfig{
			IntervalMinutes:   30,
			IncompleteTaskCap: 5,
			MaxTasksPerCycle:  2,
			MaxResearchTopics: 2,
			EvolveProbability: 0.10,
			FallbackTrigger:   "What pattern in my recent work deserves a closer look?",
			DefaultSession:    "default",
		},
		Limiter: LimiterConfig{
			MaxToolsBeforeDependency: 5,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8787,
		},
		Publish: PublishConfig{
			Kafka: KafkaPublishConfig{Topic: "mindloop.artifacts"},
			Slack: SlackPublishConfig{APIBase: "https://slack.com/api"},
		},
	}
}
