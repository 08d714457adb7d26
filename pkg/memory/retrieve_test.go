package memory

import (
	"context"
	"testing"
)

type stubEmbedder struct {
	vec []float32
	ok  bool
}

func (s *stubEmbedder) Model() string { return "stub" }
func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, bool) {
	return s.vec, s.ok
}

func TestRetrieveLexical_HardOverlapGate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AddEpisode(ctx, Episode{UserID: "u1", Text: "I love hiking", Importance: 1}); err != nil {
		t.Fatalf("add episode: %v", err)
	}

	engine := NewEngine(store, nil)

	// "hiking" and "outdoors" share no tokens: even a maximally important
	// episode must not surface without overlap.
	eps, err := engine.RetrieveLexical(ctx, "u1", "what do I enjoy outdoors", 6)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(eps) != 0 {
		t.Fatalf("expected no results without token overlap, got %#v", eps)
	}

	eps, err = engine.RetrieveLexical(ctx, "u1", "any good hiking plans", 6)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("expected the hiking episode, got %#v", eps)
	}
}

func TestRetrieveLexical_TagsCountTowardOverlap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AddEpisode(ctx, Episode{UserID: "u1", Text: "I love hiking", Tags: "hiking, outdoors"}); err != nil {
		t.Fatalf("add episode: %v", err)
	}

	engine := NewEngine(store, nil)
	eps, err := engine.RetrieveLexical(ctx, "u1", "what do I enjoy outdoors", 6)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("expected tag token to satisfy the overlap gate, got %#v", eps)
	}
}

func TestRetrieveLexical_RanksByOverlapImportanceRecency(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := nowTS()
	old := Episode{UserID: "u1", TS: now - 45*86400, Text: "coffee with Sam", Importance: 0.1}
	fresh := Episode{UserID: "u1", TS: now, Text: "coffee tasting class", Importance: 0.9}
	if err := store.AddEpisode(ctx, old); err != nil {
		t.Fatalf("add old: %v", err)
	}
	if err := store.AddEpisode(ctx, fresh); err != nil {
		t.Fatalf("add fresh: %v", err)
	}

	engine := NewEngine(store, nil)
	eps, err := engine.RetrieveLexical(ctx, "u1", "coffee", 2)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected both coffee episodes, got %d", len(eps))
	}
	if eps[0].Text != "coffee tasting class" {
		t.Fatalf("expected important recent episode first, got %q", eps[0].Text)
	}
}

func TestRetrieve_MarksUsageExactlyOncePerSelection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Repeated token should not inflate usage counting.
	if err := store.AddEpisode(ctx, Episode{UserID: "u1", Text: "hiking hiking hiking", Tags: "hiking"}); err != nil {
		t.Fatalf("add episode: %v", err)
	}

	engine := NewEngine(store, nil)
	if _, err := engine.RetrieveLexical(ctx, "u1", "hiking", 6); err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	eps, err := store.CandidateEpisodes(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if eps[0].TimesUsed != 1 {
		t.Fatalf("expected times_used == 1 after one selection, got %d", eps[0].TimesUsed)
	}
	if eps[0].LastUsedTS == 0 {
		t.Fatalf("expected last_used_ts to be set")
	}
}

func TestRetrieve_FallsBackToLexicalWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AddEpisode(ctx, Episode{UserID: "u1", Text: "I love hiking"}); err != nil {
		t.Fatalf("add episode: %v", err)
	}

	withFailingEmbedder := NewEngine(store, &stubEmbedder{ok: false})
	got, err := withFailingEmbedder.Retrieve(ctx, "u1", "hiking plans", 6)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	lexicalOnly := NewEngine(store, nil)
	want, err := lexicalOnly.RetrieveLexical(ctx, "u1", "hiking plans", 6)
	if err != nil {
		t.Fatalf("lexical retrieve: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("fallback results differ from lexical: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			t.Fatalf("fallback order differs at %d: got %d, want %d", i, got[i].ID, want[i].ID)
		}
	}
}

func TestRetrieve_FallsBackWhenNoCandidateHasVector(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AddEpisode(ctx, Episode{UserID: "u1", Text: "I love hiking"}); err != nil {
		t.Fatalf("add episode: %v", err)
	}

	engine := NewEngine(store, &stubEmbedder{vec: []float32{1, 0}, ok: true})
	eps, err := engine.Retrieve(ctx, "u1", "hiking plans", 6)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("expected lexical fallback to surface the episode, got %#v", eps)
	}
}

func TestRetrieve_VectorRankingCrossesLexicalGap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// No token overlap with the query: only the vector path can find this.
	hiking := Episode{UserID: "u1", Text: "I love hiking", Embedding: []float32{1, 0}}
	cooking := Episode{UserID: "u1", Text: "started a sourdough project", Embedding: []float32{0, 1}}
	if err := store.AddEpisode(ctx, hiking); err != nil {
		t.Fatalf("add hiking: %v", err)
	}
	if err := store.AddEpisode(ctx, cooking); err != nil {
		t.Fatalf("add cooking: %v", err)
	}

	engine := NewEngine(store, &stubEmbedder{vec: []float32{1, 0}, ok: true})
	eps, err := engine.Retrieve(ctx, "u1", "what do I enjoy outdoors", 6)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("expected exactly the similar episode, got %#v", eps)
	}
	if eps[0].Text != "I love hiking" {
		t.Fatalf("expected vector match on hiking episode, got %q", eps[0].Text)
	}
}

func TestRetrieve_VectorBelowThresholdFallsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.AddEpisode(ctx, Episode{UserID: "u1", Text: "outdoors trip", Embedding: []float32{0, 1}}); err != nil {
		t.Fatalf("add episode: %v", err)
	}

	// Orthogonal query vector: similarity 0 < threshold, lexical takes over.
	engine := NewEngine(store, &stubEmbedder{vec: []float32{1, 0}, ok: true})
	eps, err := engine.Retrieve(ctx, "u1", "outdoors", 6)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("expected lexical fallback result, got %#v", eps)
	}
}

func TestNormTokens_DedupesAndPreservesOrder(t *testing.T) {
	got := normTokens("Hiking, hiking? A HIKING trip trip")
	if len(got) != 2 || got[0] != "hiking" || got[1] != "trip" {
		t.Fatalf("unexpected tokens: %#v", got)
	}
}
