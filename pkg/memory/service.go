package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/askelund/minne/pkg/embedding"
)

// Config configures the memory subsystem. Zero values take defaults.
type Config struct {
	DBPath string

	ExtractEvery   int           // messages per user between extraction cycles
	ExtractWindow  int           // messages sent to the extraction call
	ExtractTimeout time.Duration // budget for one extraction cycle

	KeepEpisodes int // retention ceiling per user
	KeepMessages int

	MaxEpisodes         int // episodes injected per context build
	CandidateWindow     int
	SimilarityThreshold float64
	RecencyWeight       float64

	Logger *logrus.Logger
}

// Service is the single entry point used by the surrounding chat loop:
// record messages, update facts from raw text, build a bounded
// prompt-injection block, and trigger extraction.
type Service struct {
	cfg       Config
	store     Store
	engine    *Engine
	extractor *Extractor
	embedder  embedding.Provider
	log       *logrus.Entry

	closeOnce sync.Once
	closeErr  error
}

func NewService(cfg Config, embedder embedding.Provider) (*Service, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = "memory.db"
	}
	if cfg.ExtractEvery <= 0 {
		cfg.ExtractEvery = DefaultExtractEvery
	}
	if cfg.ExtractWindow <= 0 {
		cfg.ExtractWindow = DefaultExtractWindow
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 60 * time.Second
	}
	if cfg.KeepEpisodes <= 0 {
		cfg.KeepEpisodes = DefaultKeepEpisodes
	}
	if cfg.KeepMessages <= 0 {
		cfg.KeepMessages = DefaultKeepMessages
	}
	if cfg.MaxEpisodes <= 0 {
		cfg.MaxEpisodes = DefaultMaxEpisodes
	}
	if cfg.CandidateWindow <= 0 {
		cfg.CandidateWindow = DefaultCandidateWindow
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.RecencyWeight <= 0 {
		cfg.RecencyWeight = DefaultRecencyWeight
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	store, err := NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(store, embedder)
	engine.window = cfg.CandidateWindow
	engine.simThreshold = cfg.SimilarityThreshold
	engine.recencyWeight = cfg.RecencyWeight

	extractor := NewExtractor(store, embedder, cfg.Logger)
	extractor.everyN = cfg.ExtractEvery
	extractor.window = cfg.ExtractWindow
	extractor.keepEpisodes = cfg.KeepEpisodes
	extractor.keepMessages = cfg.KeepMessages

	return &Service{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		extractor: extractor,
		embedder:  embedder,
		log:       cfg.Logger.WithField("component", "memory"),
	}, nil
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

// RecordMessage appends one message to the user's log and advances the
// extraction counter. Empty content is a no-op. Calls for the same user must
// arrive in conversation order; the log order feeds extraction.
func (s *Service) RecordMessage(ctx context.Context, userID, role, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if err := s.store.AddMessage(ctx, userID, role, content); err != nil {
		return err
	}
	s.extractor.NoteMessage(userID)
	return nil
}

// UpdateFactsFromText runs the deterministic fact rules against one user
// message and commits any changed facts. Reports whether anything changed.
func (s *Service) UpdateFactsFromText(ctx context.Context, userID, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	current, err := s.store.GetFacts(ctx, userID)
	if err != nil {
		return false, err
	}
	updates := deriveFactUpdates(text, current)
	for _, u := range updates {
		if err := s.store.UpsertFact(ctx, userID, u.Key, u.Value, u.Confidence); err != nil {
			return false, err
		}
	}
	return len(updates) > 0, nil
}

// AddEpisode stores one memory card directly. When embed is set and an
// embedder is configured, the embedded string is "text tags"; embedding
// failure never blocks persistence.
func (s *Service) AddEpisode(ctx context.Context, userID, text string, tags []string, importance float64, embed bool) error {
	ep := Episode{
		UserID:     userID,
		Text:       strings.TrimSpace(text),
		Tags:       joinTags(tags),
		Importance: importance,
	}
	if embed && s.embedder != nil && ep.Text != "" {
		if vec, ok := s.embedder.Embed(ctx, strings.TrimSpace(ep.Text+" "+ep.Tags)); ok {
			ep.Embedding = vec
		}
	}
	return s.store.AddEpisode(ctx, ep)
}

// BuildContext assembles the prompt-injection block for a turn: relevant
// episodes for the query plus the user's stable facts. Read failures degrade
// to an empty section rather than erroring; a brand-new user gets "".
func (s *Service) BuildContext(ctx context.Context, userID, query string, maxEpisodes int) string {
	if maxEpisodes <= 0 {
		maxEpisodes = s.cfg.MaxEpisodes
	}

	var epBlock string
	if strings.TrimSpace(query) != "" {
		episodes, err := s.engine.Retrieve(ctx, userID, query, maxEpisodes)
		if err != nil {
			s.log.WithError(err).Debug("episode retrieval failed, continuing without memories")
		} else {
			epBlock = EpisodesPromptBlock(episodes)
		}
	}

	var factsBlock string
	facts, err := s.store.ListFacts(ctx, userID)
	if err != nil {
		s.log.WithError(err).Debug("fact listing failed, continuing without facts")
	} else {
		factsBlock = FactsPromptBlock(facts)
	}

	parts := []string{}
	if epBlock != "" {
		parts = append(parts, "Relevant memories:\n"+epBlock)
	}
	if factsBlock != "" {
		parts = append(parts, "Known facts:\n"+factsBlock)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// MaybeExtract runs an extraction cycle when one is due; otherwise it is a
// cheap no-op safe to call after every turn. The cycle detaches from the
// caller's cancellation so an abandoned turn still completes extraction,
// bounded by its own timeout.
func (s *Service) MaybeExtract(ctx context.Context, userID string, complete CompleteFunc) error {
	if !s.extractor.ShouldExtract(userID) {
		return nil
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ExtractTimeout)
	defer cancel()
	return s.extractor.Extract(detached, userID, complete)
}

// Facts returns the user's facts, most recently updated first.
func (s *Service) Facts(ctx context.Context, userID string) ([]Fact, error) {
	return s.store.ListFacts(ctx, userID)
}

// Prune enforces the retention ceilings for one user immediately.
func (s *Service) Prune(ctx context.Context, userID string) error {
	return s.store.PruneUser(ctx, userID, s.cfg.KeepEpisodes, s.cfg.KeepMessages)
}
