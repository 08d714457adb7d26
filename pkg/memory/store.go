package memory

import "context"

// Store provides durable persistence for facts, episodes and the message log.
type Store interface {
	Close() error

	UpsertFact(ctx context.Context, userID, key, value string, confidence float64) error
	GetFacts(ctx context.Context, userID string) (map[string]string, error)
	ListFacts(ctx context.Context, userID string) ([]Fact, error)

	AddEpisode(ctx context.Context, ep Episode) error
	CandidateEpisodes(ctx context.Context, userID string, limit int) ([]Episode, error)
	EmbeddedEpisodes(ctx context.Context, userID string, limit int) ([]Episode, error)
	MarkEpisodesUsed(ctx context.Context, ids []int64) error
	CountEpisodes(ctx context.Context, userID string) (int, error)

	AddMessage(ctx context.Context, userID, role, content string) error
	RecentMessages(ctx context.Context, userID string, limit int) ([]LoggedMessage, error)
	CountMessages(ctx context.Context, userID string) (int, error)

	PruneUser(ctx context.Context, userID string, keepEpisodes, keepMessages int) error
}
