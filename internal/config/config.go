package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type CrawlConfig struct {
	BatchSize         int `yaml:"batch_size"`
	NavTimeoutSec     int `yaml:"nav_timeout_sec"`
	FetchTimeoutSec   int `yaml:"fetch_timeout_sec"`
	MaxScrolls        int `yaml:"max_scrolls"`
	MaxMetaRedirects  int `yaml:"max_meta_redirects"`
	MaxHTTPRedirects  int `yaml:"max_http_redirects"`
	HostRatePerSec    int `yaml:"host_rate_per_sec"`
	RequestDeadlineMin int `yaml:"request_deadline_min"`
	UserAgent         string `yaml:"user_agent"`
}

type EmbedConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"`
}

type VectorConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
}

type AuthConfig struct {
	CookieName    string `yaml:"cookie_name"`
	SessionSecret string `yaml:"-"`
	DebugAPIKey   string `yaml:"-"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Crawl  CrawlConfig  `yaml:"crawl"`
	Embed  EmbedConfig  `yaml:"embed"`
	Vector VectorConfig `yaml:"vector"`
	Auth   AuthConfig   `yaml:"auth"`
	Kafka  KafkaConfig  `yaml:"kafka"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Mongo:  MongoConfig{URI: "mongodb://localhost:27017", Database: "agentlytics"},
		Crawl: CrawlConfig{
			BatchSize:          20,
			NavTimeoutSec:      30,
			FetchTimeoutSec:    15,
			MaxScrolls:         15,
			MaxMetaRedirects:   5,
			MaxHTTPRedirects:   20,
			HostRatePerSec:     2,
			RequestDeadlineMin: 25,
			UserAgent:          "AgentlyticsBot/1.0 (+https://agentlytics.io/bot)",
		},
		Embed:  EmbedConfig{BaseURL: "https://api.openai.com/v1", Model: "text-embedding-3-small"},
		Vector: VectorConfig{},
		Auth:   AuthConfig{CookieName: "agentlytics_session"},
		Kafka:  KafkaConfig{Topic: "ingest.crawl.results"},
	}
}

// Load reads the optional yaml config file, then applies environment
// overrides. Secrets only ever come from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("EMBED_API_URL"); v != "" {
		cfg.Embed.BaseURL = v
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		cfg.Embed.Model = v
	}
	if v := os.Getenv("VECTOR_API_URL"); v != "" {
		cfg.Vector.BaseURL = v
	}
	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		cfg.Kafka.Broker = v
	}
	cfg.Embed.APIKey = os.Getenv("EMBED_API_KEY")
	cfg.Vector.APIKey = os.Getenv("VECTOR_API_KEY")
	cfg.Auth.SessionSecret = os.Getenv("SESSION_SECRET")
	cfg.Auth.DebugAPIKey = os.Getenv("DEBUG_API_KEY")

	return cfg, nil
}

func (c *CrawlConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

func (c *CrawlConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c *CrawlConfig) RequestDeadline() time.Duration {
	return time.Duration(c.RequestDeadlineMin) * time.Minute
}
