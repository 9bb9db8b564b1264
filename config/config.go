package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:",squash"`
	Wecom  WecomConfig  `mapstructure:",squash"`
	LLM    LLMConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port string `mapstructure:"PORT"`
}

type WecomConfig struct {
	// API limiter: bounds concurrent calls to gettoken/message/send/media.
	APIMaxConcurrent int `mapstructure:"WECOM_API_MAX_CONCURRENT"`
	APIMinIntervalMs int `mapstructure:"WECOM_API_MIN_INTERVAL_MS"`

	// Inbound processing limiter.
	ProcessMaxConcurrent int `mapstructure:"WECOM_PROCESS_MAX_CONCURRENT"`

	// Text messages above this UTF-8 byte size are split into chunks.
	// WeCom caps text content at 2048 bytes; keep some slack.
	TextByteLimit int `mapstructure:"WECOM_TEXT_BYTE_LIMIT"`

	// Optional HTTP proxy for qyapi.weixin.qq.com calls.
	Proxy string `mapstructure:"WECOM_PROXY"`

	// Where downloaded inbound media is stored.
	StateDir string `mapstructure:"WECOM_STATE_DIR"`
}

type LLMConfig struct {
	Provider  string `mapstructure:"LLM_PROVIDER"`
	APIKey    string `mapstructure:"LLM_API_KEY"`
	APIURL    string `mapstructure:"LLM_API_URL"`
	ModelName string `mapstructure:"LLM_MODEL_NAME"` // e.g. "deepseek-chat", "gpt-4o"
}

// Load reads .env (if present) plus the process environment into a Config.
// The returned *viper.Viper is shared with the account registry so that
// account credentials resolve against the same sources.
func Load() (*Config, *viper.Viper) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Warning: .env file not found, relying on environment variables: %v", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		log.Fatalf("Unable to decode into struct: %v", err)
	}

	// Set default values if needed
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Wecom.APIMaxConcurrent == 0 {
		cfg.Wecom.APIMaxConcurrent = 10
	}
	if cfg.Wecom.APIMinIntervalMs == 0 {
		cfg.Wecom.APIMinIntervalMs = 100
	}
	if cfg.Wecom.ProcessMaxConcurrent == 0 {
		cfg.Wecom.ProcessMaxConcurrent = 10
	}
	if cfg.Wecom.TextByteLimit == 0 {
		cfg.Wecom.TextByteLimit = 2000
	}

	return cfg, v
}
