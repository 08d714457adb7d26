package memory

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/askelund/minne/pkg/embedding"
)

// CompleteFunc is a caller-supplied text-generation call. It may be the same
// function the surrounding chat loop uses for replies.
type CompleteFunc func(ctx context.Context, messages []ChatMessage) (string, error)

// Extraction limits. Excess items from one extraction call are dropped
// silently; over-long fields reject the item, not the batch.
const (
	DefaultExtractEvery  = 8
	DefaultExtractWindow = 12
	DefaultKeepEpisodes  = 600
	DefaultKeepMessages  = 300

	maxFactsPerCycle    = 10
	maxEpisodesPerCycle = 3
	maxFactKeyLen       = 48
	maxFactValueLen     = 240
	maxEpisodeTextLen   = 280
	maxTagsPerEpisode   = 8
	maxTagLen           = 24

	defaultFactConfidence    = 0.7
	defaultEpisodeImportance = 0.5
)

const extractionInstruction = `You are a STRICT memory extraction tool. Output JSON ONLY.
Extract stable facts and a few key episodic memories.

Schema:
{
  "facts": [{"key": str, "value": str, "confidence": 0..1}],
  "episodes": [{"text": str, "tags": [str], "importance": 0..1}]
}

Rules:
- facts are stable preferences/identity/projects. No one-off chatter.
- episodes: 0-3 max, each <= 280 chars.
- If nothing is worth saving: return empty lists.
`

// Extractor distills the recent message window into facts and episodes via
// an external text-generation call, every N logged messages per user.
// Counters live on the struct, not in package state.
type Extractor struct {
	store    Store
	embedder embedding.Provider // may be nil; episodes then stay lexical-only
	log      *logrus.Entry

	everyN       int
	window       int
	keepEpisodes int
	keepMessages int

	mu     sync.Mutex
	counts map[string]int
}

func NewExtractor(store Store, embedder embedding.Provider, log *logrus.Logger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{
		store:        store,
		embedder:     embedder,
		log:          log.WithField("component", "memory"),
		everyN:       DefaultExtractEvery,
		window:       DefaultExtractWindow,
		keepEpisodes: DefaultKeepEpisodes,
		keepMessages: DefaultKeepMessages,
		counts:       map[string]int{},
	}
}

// NoteMessage bumps the per-user counter after a message is logged.
func (x *Extractor) NoteMessage(userID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.counts[userID]++
}

// ShouldExtract reports whether the user's counter has reached the
// extraction threshold since the last successful cycle. O(1).
func (x *Extractor) ShouldExtract(userID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.counts[userID] >= x.everyN
}

func (x *Extractor) resetCounter(userID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.counts[userID] = 0
}

// Extract runs one extraction cycle for the user. A malformed model response
// aborts the cycle with no writes and is only logged; storage failures are
// returned. On success the message counter resets and the user's tables are
// pruned to their retention ceilings.
func (x *Extractor) Extract(ctx context.Context, userID string, complete CompleteFunc) error {
	if complete == nil {
		return nil
	}
	logged, err := x.store.RecentMessages(ctx, userID, x.window)
	if err != nil {
		return err
	}
	if len(logged) == 0 {
		return nil
	}

	runID := uuid.NewString()[:8]
	log := x.log.WithFields(logrus.Fields{"run": runID, "user": userID})

	messages := make([]ChatMessage, 0, len(logged)+1)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: extractionInstruction})
	for _, m := range logged {
		messages = append(messages, ChatMessage{Role: m.Role, Content: m.Content})
	}

	raw, err := complete(ctx, messages)
	if err != nil {
		log.WithError(err).Warn("extraction call failed, skipping cycle")
		return nil
	}

	payload, ok := parseExtraction(raw)
	if !ok {
		log.Warn("extraction output unparseable, skipping cycle")
		return nil
	}

	facts, episodes := 0, 0
	for _, item := range decodeItems[extractedFact](payload.Facts, maxFactsPerCycle) {
		key := strings.TrimSpace(item.Key)
		value := strings.TrimSpace(item.Value)
		if key == "" || value == "" || len(key) > maxFactKeyLen || len(value) > maxFactValueLen {
			continue
		}
		conf := item.Confidence.floatOr(defaultFactConfidence)
		if err := x.store.UpsertFact(ctx, userID, key, value, conf); err != nil {
			return err
		}
		facts++
	}

	for _, item := range decodeItems[extractedEpisode](payload.Episodes, maxEpisodesPerCycle) {
		text := strings.TrimSpace(item.Text)
		if text == "" || len(text) > maxEpisodeTextLen {
			continue
		}
		ep := Episode{
			UserID:     userID,
			Text:       text,
			Tags:       joinTags(item.Tags),
			Importance: clamp01(item.Importance.floatOr(defaultEpisodeImportance)),
		}
		if x.embedder != nil {
			// A failed embedding does not block persistence; the episode is
			// stored without a vector and stays lexical-only.
			if vec, ok := x.embedder.Embed(ctx, strings.TrimSpace(ep.Text+" "+ep.Tags)); ok {
				ep.Embedding = vec
			}
		}
		if err := x.store.AddEpisode(ctx, ep); err != nil {
			return err
		}
		episodes++
	}

	x.resetCounter(userID)
	if err := x.store.PruneUser(ctx, userID, x.keepEpisodes, x.keepMessages); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"facts": facts, "episodes": episodes}).Debug("extraction cycle committed")
	return nil
}

type extractionPayload struct {
	Facts    json.RawMessage `json:"facts"`
	Episodes json.RawMessage `json:"episodes"`
}

type extractedFact struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence flexFloat `json:"confidence"`
}

type extractedEpisode struct {
	Text       string    `json:"text"`
	Tags       []string  `json:"tags"`
	Importance flexFloat `json:"importance"`
}

// parseExtraction treats the model response as untrusted input: the response
// must contain a single JSON object or the whole cycle fails closed. Models
// that wrap the object in prose or code fences are tolerated by re-parsing
// the outermost brace span.
func parseExtraction(raw string) (extractionPayload, bool) {
	raw = strings.TrimSpace(raw)
	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err == nil && strings.HasPrefix(raw, "{") {
		return payload, true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return extractionPayload{}, false
	}
	payload = extractionPayload{}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return extractionPayload{}, false
	}
	return payload, true
}

// decodeItems unmarshals up to limit elements of a JSON array, dropping
// malformed elements instead of failing the batch. A non-array yields nil.
func decodeItems[T any](raw json.RawMessage, limit int) []T {
	if len(raw) == 0 {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}
	out := make([]T, 0, limit)
	for _, el := range elems {
		if len(out) >= limit {
			break
		}
		var item T
		if err := json.Unmarshal(el, &item); err != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

// flexFloat accepts a JSON number or a numeric string; anything else is
// recorded as unset so the caller can apply a default.
type flexFloat struct {
	val float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.val, f.set = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			f.val, f.set = n, true
		}
	}
	return nil
}

func (f flexFloat) floatOr(def float64) float64 {
	if !f.set {
		return def
	}
	return clamp01(f.val)
}

func joinTags(tags []string) string {
	out := make([]string, 0, maxTagsPerEpisode)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if len(t) > maxTagLen {
			t = t[:maxTagLen]
		}
		out = append(out, t)
		if len(out) >= maxTagsPerEpisode {
			break
		}
	}
	return strings.Join(out, ", ")
}
