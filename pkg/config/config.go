package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration, populated from environment
// variables. Collaborator credentials (Gmail, HubSpot) are stored per
// service under CredentialsDir, not here.
type Config struct {
	ListenAddr string `env:"COMPASS_LISTEN_ADDR" envDefault:":8080"`
	DataDir    string `env:"COMPASS_DATA_DIR" envDefault:"~/.compass"`
	Debug      bool   `env:"COMPASS_DEBUG"`

	Anthropic struct {
		APIKey string `env:"ANTHROPIC_API_KEY"`
		Model  string `env:"COMPASS_MODEL" envDefault:"claude-sonnet-4-5-20250929"`
	}

	OpenAI struct {
		APIKey         string `env:"OPENAI_API_KEY"`
		EmbeddingModel string `env:"COMPASS_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	}

	History struct {
		Window int `env:"COMPASS_HISTORY_WINDOW" envDefault:"20"`
	}

	Retrieval struct {
		Limit int `env:"COMPASS_RETRIEVAL_LIMIT" envDefault:"5"`
	}

	// Base URLs of the thin collaborator services. An empty URL leaves
	// that capability unconfigured; its tools return error outcomes.
	Collaborators struct {
		EmailAPI    string `env:"COMPASS_EMAIL_API"`
		CalendarAPI string `env:"COMPASS_CALENDAR_API"`
		CRMAPI      string `env:"COMPASS_CRM_API"`
	}

	Ingest struct {
		// Cron expression gating the mailbox sweep. Empty disables it.
		Schedule string `env:"COMPASS_INGEST_SCHEDULE" envDefault:"*/15 * * * *"`
	}

	Webhook struct {
		Secret string `env:"COMPASS_WEBHOOK_SECRET"`
	}
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// DataPath expands ~ in DataDir and returns the absolute data directory.
func (c *Config) DataPath() string {
	dir := c.DataDir
	if len(dir) >= 2 && dir[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

// DatabasePath returns the SQLite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataPath(), "compass.db")
}

// CredentialsDir returns where per-service OAuth credentials are stored.
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.DataPath(), "credentials")
}
