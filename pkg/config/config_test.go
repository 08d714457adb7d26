package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "memory.db", cfg.DBPath)
	require.Equal(t, "http://localhost:11434", cfg.OllamaURL)
	require.Equal(t, "nomic-embed-text", cfg.EmbedModel)
	require.Equal(t, 10*time.Second, cfg.EmbedTimeout)
	require.True(t, cfg.EmbedEnabled)
	require.Equal(t, 8, cfg.ExtractEvery)
	require.Equal(t, 12, cfg.ExtractWindow)
	require.Equal(t, 600, cfg.KeepEpisodes)
	require.Equal(t, 300, cfg.KeepMessages)
	require.Equal(t, 6, cfg.MaxEpisodes)
	require.Equal(t, 160, cfg.CandidateWindow)
	require.InDelta(t, 0.3, cfg.SimilarityThreshold, 1e-9)
	require.InDelta(t, 0.3, cfg.RecencyWeight, 1e-9)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MINNE_DB_PATH", "/tmp/other.db")
	t.Setenv("MINNE_EMBED_ENABLED", "false")
	t.Setenv("MINNE_EXTRACT_EVERY", "4")
	t.Setenv("MINNE_EXTRACT_TIMEOUT", "90s")
	t.Setenv("MINNE_SIMILARITY_THRESHOLD", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/other.db", cfg.DBPath)
	require.False(t, cfg.EmbedEnabled)
	require.Equal(t, 4, cfg.ExtractEvery)
	require.Equal(t, 90*time.Second, cfg.ExtractTimeout)
	require.InDelta(t, 0.5, cfg.SimilarityThreshold, 1e-9)
}

func TestLoad_BadValueErrors(t *testing.T) {
	t.Setenv("MINNE_EXTRACT_EVERY", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}
