package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AccountConfig holds the connection settings for one IMAP mailbox.
type AccountConfig struct {
	// Name is the mailbox identity recorded on ingested messages
	// (usually the address itself).
	Name string `mapstructure:"name" yaml:"name"`

	// Host and Port locate the IMAP server.
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// UseTLS selects implicit TLS; otherwise STARTTLS is attempted.
	UseTLS bool `mapstructure:"use_tls" yaml:"use_tls"`

	// Username and Password authenticate the session. An empty password
	// is resolved from the system keyring at startup.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`

	// Folder is the ingestion target folder.
	Folder string `mapstructure:"folder" yaml:"folder"`
}

// StoreConfig holds message store settings.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path" yaml:"path"`
}

// SearchConfig holds search index settings.
type SearchConfig struct {
	// URL is the base URL of the index service.
	URL string `mapstructure:"url" yaml:"url"`

	// Index is the index name documents are written to.
	Index string `mapstructure:"index" yaml:"index"`
}

// ClassifierConfig holds settings for the AI classifier.
type ClassifierConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NotifyConfig holds the downstream notification endpoints. Either may be
// empty, in which case that notifier is not registered.
type NotifyConfig struct {
	ChatWebhookURL string `mapstructure:"chat_webhook_url" yaml:"chat_webhook_url"`
	WebhookURL     string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// HTTPConfig holds the read-path API server settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level daemon configuration.
type AppConfig struct {
	Accounts   []AccountConfig  `mapstructure:"accounts" yaml:"accounts"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Search     SearchConfig     `mapstructure:"search" yaml:"search"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
}

// DefaultConfigPath returns the default configuration file location,
// ~/.config/onebox/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "onebox", "config.yaml")
}

// defaultAppConfig returns the configuration used when no file exists.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Store: StoreConfig{Path: "onebox.db"},
		Search: SearchConfig{
			URL:   "http://localhost:9200",
			Index: "onebox_messages",
		},
		Classifier: ClassifierConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 64,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("store.path", "onebox.db")
	v.SetDefault("search.url", "http://localhost:9200")
	v.SetDefault("search.index", "onebox_messages")
	v.SetDefault("classifier.model", "claude-sonnet-4-20250514")
	v.SetDefault("classifier.max_tokens", 64)
	v.SetDefault("http.addr", ":8080")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each account entry.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Folder == "" {
			cfg.Accounts[i].Folder = "INBOX"
		}
		if cfg.Accounts[i].Port == 0 {
			if cfg.Accounts[i].UseTLS {
				cfg.Accounts[i].Port = 993
			} else {
				cfg.Accounts[i].Port = 143
			}
		}
		if cfg.Accounts[i].Name == "" {
			cfg.Accounts[i].Name = cfg.Accounts[i].Username
		}
	}

	return cfg, nil
}
