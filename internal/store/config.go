package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseDSN string `yaml:"database_dsn"`

	Pipeline struct {
		Workers       int  `yaml:"workers"`
		RunClose      bool `yaml:"run_close"`
		RunBanded     bool `yaml:"run_banded"`
		RunRefresh    bool `yaml:"run_refresh"`
		RunExpectancy bool `yaml:"run_expectancy"`
	} `yaml:"pipeline"`

	Broker struct {
		Exchange         string `yaml:"exchange"`
		CandleWindowDays int    `yaml:"candle_window_days"`
		ShelfMinBars     int    `yaml:"shelf_min_bars"`
	} `yaml:"broker"`

	Ingest struct {
		SourceDir    string `yaml:"source_dir"`
		ProcessedDir string `yaml:"processed_dir"`
	} `yaml:"ingest"`

	Scrape struct {
		BaseURL     string `yaml:"base_url"`
		DownloadDir string `yaml:"download_dir"`
	} `yaml:"scrape"`

	RunLog struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"runlog"`
}

func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database_dsn is required (config or DATABASE_DSN env)")
	}
	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
		return fmt.Errorf("pipeline.workers must be between 1-64, got %d", c.Pipeline.Workers)
	}
	if c.Broker.ShelfMinBars <= 0 {
		return fmt.Errorf("broker.shelf_min_bars must be positive, got %d", c.Broker.ShelfMinBars)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.DatabaseDSN = dsn
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "NFO"
	}
	if c.Broker.CandleWindowDays == 0 {
		// the broker serves roughly 90 days of 1-minute history; leave margin
		c.Broker.CandleWindowDays = 88
	}
	if c.Broker.ShelfMinBars == 0 {
		c.Broker.ShelfMinBars = 300
	}
	if c.RunLog.Dir == "" {
		c.RunLog.Dir = "logs"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
