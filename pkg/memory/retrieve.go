package memory

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/askelund/minne/pkg/embedding"
)

// Retrieval defaults. The candidate window bounds every query scan to the
// most recent episodes, so very old, rarely referenced episodes become
// unreachable; that is an accepted design boundary, not a defect.
const (
	DefaultCandidateWindow     = 160
	DefaultSimilarityThreshold = 0.3
	DefaultRecencyWeight       = 0.3
	DefaultMaxEpisodes         = 6

	recencyHorizonDays = 30.0
)

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9']{2,}`)

// Engine ranks a user's episodes against a query, preferring vector
// similarity when embeddings are available and falling back to lexical
// token overlap otherwise.
type Engine struct {
	store    Store
	embedder embedding.Provider // nil disables the vector path

	window        int
	simThreshold  float64
	recencyWeight float64
}

func NewEngine(store Store, embedder embedding.Provider) *Engine {
	return &Engine{
		store:         store,
		embedder:      embedder,
		window:        DefaultCandidateWindow,
		simThreshold:  DefaultSimilarityThreshold,
		recencyWeight: DefaultRecencyWeight,
	}
}

// Retrieve returns up to limit relevant episodes. The vector path is tried
// first; any reason it cannot produce a ranking (no embedder, embedding
// failure, no embedded candidates, nothing above the similarity threshold)
// falls through to lexical ranking with the same return type.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, limit int) ([]Episode, error) {
	picked, ok, err := e.retrieveVector(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	if ok {
		return picked, nil
	}
	return e.RetrieveLexical(ctx, userID, query, limit)
}

// RetrieveLexical ranks by deduplicated token overlap blended with
// importance and recency. Zero overlap is a hard gate: an episode sharing no
// tokens with the query is never returned, regardless of importance.
func (e *Engine) RetrieveLexical(ctx context.Context, userID, query string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = DefaultMaxEpisodes
	}
	qTokens := normTokens(query)
	if len(qTokens) == 0 {
		return nil, nil
	}
	qset := make(map[string]struct{}, len(qTokens))
	for _, t := range qTokens {
		qset[t] = struct{}{}
	}

	candidates, err := e.store.CandidateEpisodes(ctx, userID, e.window)
	if err != nil {
		return nil, err
	}
	now := nowTS()

	type scored struct {
		ep    Episode
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, ep := range candidates {
		overlap := 0
		for _, t := range normTokens(ep.Text + " " + ep.Tags) {
			if _, ok := qset[t]; ok {
				overlap++
			}
		}
		if overlap <= 0 {
			continue
		}
		score := float64(overlap)*2.0 + ep.Importance*1.5 + recencyScore(now, ep.TS)*1.0
		ranked = append(ranked, scored{ep: ep, score: score})
	}

	// Stable: ties keep the candidate scan order (newest first).
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	picked := make([]Episode, 0, limit)
	for _, s := range ranked {
		picked = append(picked, s.ep)
		if len(picked) >= limit {
			break
		}
	}
	return picked, e.markUsed(ctx, picked)
}

// retrieveVector ranks embedded episodes by cosine similarity blended with
// recency. ok=false signals the caller to fall back to lexical ranking.
func (e *Engine) retrieveVector(ctx context.Context, userID, query string, limit int) ([]Episode, bool, error) {
	if e.embedder == nil {
		return nil, false, nil
	}
	if limit <= 0 {
		limit = DefaultMaxEpisodes
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false, nil
	}

	qvec, ok := e.embedder.Embed(ctx, query)
	if !ok {
		return nil, false, nil
	}

	candidates, err := e.store.EmbeddedEpisodes(ctx, userID, e.window)
	if err != nil {
		return nil, false, err
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	type scored struct {
		ep  Episode
		sim float64
	}
	similar := make([]scored, 0, len(candidates))
	for _, ep := range candidates {
		sim := embedding.Cosine(qvec, ep.Embedding)
		if sim < e.simThreshold {
			continue
		}
		similar = append(similar, scored{ep: ep, sim: sim})
	}
	if len(similar) == 0 {
		return nil, false, nil
	}

	sort.SliceStable(similar, func(i, j int) bool { return similar[i].sim > similar[j].sim })
	if len(similar) > limit*2 {
		similar = similar[:limit*2]
	}

	now := nowTS()
	type blended struct {
		ep    Episode
		score float64
	}
	ranked := make([]blended, 0, len(similar))
	for _, s := range similar {
		score := s.sim*(1-e.recencyWeight) + recencyScore(now, s.ep.TS)*e.recencyWeight
		ranked = append(ranked, blended{ep: s.ep, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	picked := make([]Episode, 0, limit)
	for _, b := range ranked {
		picked = append(picked, b.ep)
		if len(picked) >= limit {
			break
		}
	}
	if err := e.markUsed(ctx, picked); err != nil {
		return nil, false, err
	}
	return picked, true, nil
}

func (e *Engine) markUsed(ctx context.Context, picked []Episode) error {
	if len(picked) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(picked))
	for _, ep := range picked {
		ids = append(ids, ep.ID)
	}
	return e.store.MarkEpisodesUsed(ctx, ids)
}

func recencyScore(now, ts int64) float64 {
	ageDays := float64(now-ts) / 86400.0
	if ageDays < 0 {
		ageDays = 0
	}
	return clamp01(1.0 - ageDays/recencyHorizonDays)
}

// normTokens lower-cases text and returns its words (length >= 2) with
// duplicates removed, preserving first-occurrence order.
func normTokens(text string) []string {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
