package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Upstream    UpstreamConfig            `json:"upstream"`
	OCR         OCRConfig                 `json:"ocr"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// UpstreamConfig points at the local text generator backend.
type UpstreamConfig struct {
	GenerateURL string `json:"generate_url"`
}

// OCRConfig configures the formula recognition endpoint. Credentials come
// from the environment, not from the config file.
type OCRConfig struct {
	BaseURL string `json:"base_url"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	if cfg.Upstream.GenerateURL == "" {
		return nil, fmt.Errorf("upstream generate_url must be configured")
	}

	// Relative sqlite paths resolve against the config file directory.
	for name, dbCfg := range cfg.Databases {
		if dbCfg.DSN != "" && dbCfg.DSN != ":memory:" && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	return &cfg, nil
}
