package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite3" or "postgres"
	DSN    string `yaml:"dsn"`
}

type FilesConfig struct {
	RootDir string `yaml:"root_dir"`
}

type BurnConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type SummaryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Time is "D:HH:mm" where D is the day of week (1-7, 7 = Sunday).
	Time string `yaml:"time"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Files    FilesConfig    `yaml:"files"`
	Burn     BurnConfig     `yaml:"burn"`
	Summary  SummaryConfig  `yaml:"summary"`
}

func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080", JWTSecret: "change-me-in-production"},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "whisperchat.db"},
		Files:    FilesConfig{RootDir: "./data"},
		Burn:     BurnConfig{SweepInterval: 5 * time.Second},
		Summary:  SummaryConfig{Enabled: true, Time: "7:09:00"},
	}
}

// Load reads the YAML config at path, falling back to defaults if the file is
// absent. Environment variables override the file: DATABASE_DRIVER,
// DATABASE_URL, JWT_SECRET, SERVER_ADDR, FILES_ROOT.
func Load(path string) (*Config, error) {
	cfg := Default()

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FILES_ROOT"); v != "" {
		cfg.Files.RootDir = v
	}

	if cfg.Burn.SweepInterval <= 0 {
		cfg.Burn.SweepInterval = 5 * time.Second
	}
	return cfg, nil
}
