package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/askelund/minne/pkg/config"
	"github.com/askelund/minne/pkg/embedding"
	"github.com/askelund/minne/pkg/memory"
)

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openService wires a memory service from environment config plus the
// --db flag override. The embedder is optional; when Ollama is not running
// retrieval simply stays lexical.
func openService(dbOverride string) (*memory.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbOverride != "" {
		cfg.DBPath = dbOverride
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	var embedder embedding.Provider
	if cfg.EmbedEnabled {
		ollama, err := embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedTimeout, log)
		if err != nil {
			return nil, err
		}
		cached, err := embedding.NewCachedProvider(ollama, cfg.EmbedCache)
		if err != nil {
			return nil, err
		}
		embedder = cached
	}

	return memory.NewService(memory.Config{
		DBPath:              cfg.DBPath,
		ExtractEvery:        cfg.ExtractEvery,
		ExtractWindow:       cfg.ExtractWindow,
		ExtractTimeout:      cfg.ExtractTimeout,
		KeepEpisodes:        cfg.KeepEpisodes,
		KeepMessages:        cfg.KeepMessages,
		MaxEpisodes:         cfg.MaxEpisodes,
		CandidateWindow:     cfg.CandidateWindow,
		SimilarityThreshold: cfg.SimilarityThreshold,
		RecencyWeight:       cfg.RecencyWeight,
		Logger:              log,
	}, embedder)
}
