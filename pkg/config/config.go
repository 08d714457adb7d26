// Package config loads memory subsystem settings from the environment.
// The subsystem is a library boundary, so there is no config file of its
// own; the embedding host process can still override every knob per deploy.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBPath string `env:"MINNE_DB_PATH" envDefault:"memory.db"`

	OllamaURL    string        `env:"MINNE_OLLAMA_URL" envDefault:"http://localhost:11434"`
	EmbedModel   string        `env:"MINNE_EMBED_MODEL" envDefault:"nomic-embed-text"`
	EmbedTimeout time.Duration `env:"MINNE_EMBED_TIMEOUT" envDefault:"10s"`
	EmbedCache   int           `env:"MINNE_EMBED_CACHE" envDefault:"100"`
	EmbedEnabled bool          `env:"MINNE_EMBED_ENABLED" envDefault:"true"`

	ExtractEvery   int           `env:"MINNE_EXTRACT_EVERY" envDefault:"8"`
	ExtractWindow  int           `env:"MINNE_EXTRACT_WINDOW" envDefault:"12"`
	ExtractTimeout time.Duration `env:"MINNE_EXTRACT_TIMEOUT" envDefault:"60s"`

	KeepEpisodes int `env:"MINNE_KEEP_EPISODES" envDefault:"600"`
	KeepMessages int `env:"MINNE_KEEP_MESSAGES" envDefault:"300"`

	MaxEpisodes         int     `env:"MINNE_MAX_EPISODES" envDefault:"6"`
	CandidateWindow     int     `env:"MINNE_CANDIDATE_WINDOW" envDefault:"160"`
	SimilarityThreshold float64 `env:"MINNE_SIMILARITY_THRESHOLD" envDefault:"0.3"`
	RecencyWeight       float64 `env:"MINNE_RECENCY_WEIGHT" envDefault:"0.3"`

	LogLevel string `env:"MINNE_LOG_LEVEL" envDefault:"info"`
}

// Load reads the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
