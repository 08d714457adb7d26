package memory

// Role values accepted by the message log. Anything else is stored as user.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Fact is a durable single-valued attribute about a user.
// (user_id, key) is the primary key; writes overwrite.
type Fact struct {
	UserID     string
	Key        string
	Value      string
	Confidence float64
	UpdatedTS  int64
}

// Episode is one distilled memory card with tags and importance.
// TimesUsed/LastUsedTS change only when retrieval selects the episode.
type Episode struct {
	ID         int64
	UserID     string
	TS         int64
	Text       string
	Tags       string
	Importance float64
	TimesUsed  int
	LastUsedTS int64
	Embedding  []float32
}

// LoggedMessage is one row of the append-only raw message log.
// Content has already passed the redaction filter.
type LoggedMessage struct {
	ID      int64
	UserID  string
	TS      int64
	Role    string
	Content string
}

// ChatMessage is the provider-agnostic shape handed to a CompleteFunc.
type ChatMessage struct {
	Role    string
	Content string
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeRole(role string) string {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return role
	default:
		return RoleUser
	}
}
