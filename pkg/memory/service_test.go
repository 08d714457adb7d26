package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "memory.db")
	}
	svc, err := NewService(cfg, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestBuildContext_EmptyForNewUser(t *testing.T) {
	svc := newTestService(t, Config{})
	if got := svc.BuildContext(context.Background(), "nobody", "anything at all", 0); got != "" {
		t.Fatalf("expected empty context for new user, got %q", got)
	}
}

func TestBuildContext_IncludesMemoriesAndFacts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})

	if err := svc.AddEpisode(ctx, "u1", "mentioned moving to Berlin in March", []string{"travel"}, 0.8, false); err != nil {
		t.Fatalf("add episode: %v", err)
	}
	if changed, err := svc.UpdateFactsFromText(ctx, "u1", "My name is Alex"); err != nil || !changed {
		t.Fatalf("update facts: changed=%v err=%v", changed, err)
	}

	block := svc.BuildContext(ctx, "u1", "when did I move to Berlin", 0)
	if !strings.Contains(block, "Relevant memories:") {
		t.Fatalf("missing memories section: %q", block)
	}
	if !strings.Contains(block, "Berlin") {
		t.Fatalf("missing episode text: %q", block)
	}
	if !strings.Contains(block, "Known facts:") {
		t.Fatalf("missing facts section: %q", block)
	}
	if !strings.Contains(block, "Alex") {
		t.Fatalf("missing fact value: %q", block)
	}
}

func TestBuildContext_FactsOnlyWhenNoEpisodeMatches(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})

	if _, err := svc.UpdateFactsFromText(ctx, "u1", "My name is Alex"); err != nil {
		t.Fatalf("update facts: %v", err)
	}

	block := svc.BuildContext(ctx, "u1", "zzyzx", 0)
	if strings.Contains(block, "Relevant memories:") {
		t.Fatalf("unexpected memories section: %q", block)
	}
	if !strings.Contains(block, "Known facts:") {
		t.Fatalf("missing facts section: %q", block)
	}
}

func TestRecordMessage_EmptyContentIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{ExtractEvery: 1})

	if err := svc.RecordMessage(ctx, "u1", RoleUser, "   "); err != nil {
		t.Fatalf("record: %v", err)
	}
	if svc.extractor.ShouldExtract("u1") {
		t.Fatalf("empty message advanced the extraction counter")
	}
}

func TestMaybeExtract_RunsOnlyWhenDue(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{ExtractEvery: 3})

	calls := 0
	spy := func(ctx context.Context, messages []ChatMessage) (string, error) {
		calls++
		if messages[0].Role != RoleSystem {
			t.Fatalf("expected system instruction first, got %#v", messages[0])
		}
		return `{"facts": [{"key": "city", "value": "Berlin"}], "episodes": []}`, nil
	}

	for i := 0; i < 3; i++ {
		if err := svc.RecordMessage(ctx, "u1", RoleUser, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if err := svc.MaybeExtract(ctx, "u1", spy); err != nil {
			t.Fatalf("maybe extract %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one extraction call, got %d", calls)
	}

	facts, err := svc.Facts(ctx, "u1")
	if err != nil {
		t.Fatalf("facts: %v", err)
	}
	if len(facts) != 1 || facts[0].Value != "Berlin" {
		t.Fatalf("extracted fact missing: %#v", facts)
	}

	// Counter reset: the next call is not due yet.
	if err := svc.MaybeExtract(ctx, "u1", spy); err != nil {
		t.Fatalf("maybe extract: %v", err)
	}
	if calls != 1 {
		t.Fatalf("extraction ran again before threshold, calls=%d", calls)
	}
}

func TestMaybeExtract_SurvivesCanceledCaller(t *testing.T) {
	svc := newTestService(t, Config{ExtractEvery: 1})

	if err := svc.RecordMessage(context.Background(), "u1", RoleUser, "remember this"); err != nil {
		t.Fatalf("record: %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	done := func(ctx context.Context, messages []ChatMessage) (string, error) {
		if err := ctx.Err(); err != nil {
			t.Fatalf("extraction context should be detached, got %v", err)
		}
		return `{"facts": [], "episodes": [{"text": "remember this"}]}`, nil
	}
	if err := svc.MaybeExtract(canceled, "u1", done); err != nil {
		t.Fatalf("maybe extract: %v", err)
	}

	if n, _ := svc.store.CountEpisodes(context.Background(), "u1"); n != 1 {
		t.Fatalf("episode not committed after caller cancel, got %d", n)
	}
}

func TestUpdateFactsFromText_ReportsChanged(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})

	changed, err := svc.UpdateFactsFromText(ctx, "u1", "I like coffee")
	if err != nil || !changed {
		t.Fatalf("first update: changed=%v err=%v", changed, err)
	}
	changed, err = svc.UpdateFactsFromText(ctx, "u1", "I like coffee")
	if err != nil || changed {
		t.Fatalf("repeat update: changed=%v err=%v", changed, err)
	}
}
