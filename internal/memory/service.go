// Package memory persists per-session conversation history and derives
// bounded context for new turns via recency, semantic relevance and
// periodic summarization.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/quorumhq/quorum/config"
	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/store"
)

// Defaults applied when config leaves memory bounds unset.
const (
	DefaultSummaryThreshold = 20
	DefaultContextBudget    = 4000
	DefaultRecentMessages   = 5
	DefaultRelevantMessages = 15
	shortHistoryLimit       = 10
	summaryRecentMessages   = 10
)

// MessageStore is the slice of the store this service depends on.
type MessageStore interface {
	EnsureSession(ctx context.Context, sessionID, userID string, agentIDs []string) error
	GetSession(ctx context.Context, sessionID string) (store.SessionRecord, bool, error)
	AppendMessage(ctx context.Context, rec store.MessageRecord) (store.MessageRecord, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]store.MessageRecord, error)
}

// Embedder is the slice of the embedding gateway this service depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SimilarityFunc scores two vectors; wired to embedding.CosineSimilarity.
type SimilarityFunc func(a, b []float32) (float64, error)

// Preferences captures best-effort inferred user preferences. Inference
// failure yields the zero value, never an error.
type Preferences struct {
	ExpertiseLevel     string   `json:"expertise_level,omitempty"`
	Interests          []string `json:"interests,omitempty"`
	CommunicationStyle string   `json:"communication_style,omitempty"`
}

// Context is the derived, non-persisted view over a session's messages.
type Context struct {
	SessionID    string
	Messages     []store.MessageRecord
	MessageCount int
	Summary      string
	KeyTopics    []string
	Preferences  Preferences
	AgentIDs     []string
}

// OptimizedContext is the budget-bounded variant fed into synthesis.
type OptimizedContext struct {
	Messages []store.MessageRecord
	Summary  string
	Length   int
}

// AddOptions carries optional attributes for a new message.
type AddOptions struct {
	UserID   string
	AgentID  string
	Metadata map[string]interface{}
}

// Service implements the conversation memory store.
type Service struct {
	store      MessageStore
	embedder   Embedder
	provider   llm.Provider
	cache      *SummaryCache
	logger     *log.Logger
	similarity SimilarityFunc

	summaryThreshold int
	contextBudget    int
	recentMessages   int
	relevantMessages int
}

// NewService wires the memory service. cache may be nil; summaries are
// then regenerated on every request past the threshold.
func NewService(st MessageStore, embedder Embedder, provider llm.Provider, cache *SummaryCache, cfg config.MemoryConfig, similarity SimilarityFunc, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	svc := &Service{
		store:            st,
		embedder:         embedder,
		provider:         provider,
		cache:            cache,
		logger:           logger,
		similarity:       similarity,
		summaryThreshold: cfg.SummaryThreshold,
		contextBudget:    cfg.ContextBudget,
		recentMessages:   cfg.RecentMessages,
		relevantMessages: cfg.RelevantMessages,
	}
	if svc.summaryThreshold <= 0 {
		svc.summaryThreshold = DefaultSummaryThreshold
	}
	if svc.contextBudget <= 0 {
		svc.contextBudget = DefaultContextBudget
	}
	if svc.recentMessages <= 0 {
		svc.recentMessages = DefaultRecentMessages
	}
	if svc.relevantMessages <= 0 {
		svc.relevantMessages = DefaultRelevantMessages
	}
	return svc
}

// AddMessage appends a turn to the session, creating the session on the
// first message. The message embedding is computed best-effort so later
// relevance ranking is cheap; an embedding failure never fails the append.
func (s *Service) AddMessage(ctx context.Context, sessionID, role, content string, opts AddOptions) (store.MessageRecord, error) {
	if sessionID == "" {
		return store.MessageRecord{}, fmt.Errorf("session id required")
	}
	var agentIDs []string
	if opts.AgentID != "" {
		agentIDs = []string{opts.AgentID}
	}
	if err := s.store.EnsureSession(ctx, sessionID, opts.UserID, agentIDs); err != nil {
		return store.MessageRecord{}, fmt.Errorf("ensure session: %w", err)
	}

	var vector []float32
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, content)
		if err != nil {
			s.logger.Printf("message embedding failed for session %s: %v", sessionID, err)
		} else {
			vector = v
		}
	}

	rec, err := s.store.AppendMessage(ctx, store.MessageRecord{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		AgentID:   opts.AgentID,
		Metadata:  opts.Metadata,
		Embedding: vector,
	})
	if err != nil {
		return store.MessageRecord{}, fmt.Errorf("append message: %w", err)
	}
	return rec, nil
}

// ListMessages returns session history in chronological order; a
// positive limit keeps only the most recent N messages.
func (s *Service) ListMessages(ctx context.Context, sessionID string, limit int) ([]store.MessageRecord, error) {
	return s.store.ListMessages(ctx, sessionID, limit)
}

// GetContext returns the session's derived context. Once the session
// crosses the summary threshold a generated summary plus key topics is
// included; a summarization failure degrades to no summary.
func (s *Service) GetContext(ctx context.Context, sessionID string) (Context, error) {
	session, ok, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Context{}, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return Context{SessionID: sessionID}, nil
	}

	messages, err := s.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return Context{}, fmt.Errorf("list messages: %w", err)
	}

	out := Context{
		SessionID:    sessionID,
		Messages:     messages,
		MessageCount: session.MessageCount,
		AgentIDs:     session.AgentIDs,
	}

	if session.MessageCount >= s.summaryThreshold {
		summary, topics := s.summarize(ctx, sessionID, session.MessageCount, messages)
		out.Summary = summary
		out.KeyTopics = topics
	}

	out.Preferences = s.inferPreferences(ctx, messages)
	return out, nil
}

// GetOptimizedContext returns a context-budget-bounded message selection
// for the current question. Short histories bypass all filtering.
func (s *Service) GetOptimizedContext(ctx context.Context, sessionID, currentQuestion string) (OptimizedContext, error) {
	session, ok, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return OptimizedContext{}, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return OptimizedContext{}, nil
	}

	messages, err := s.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return OptimizedContext{}, fmt.Errorf("list messages: %w", err)
	}

	if len(messages) <= shortHistoryLimit {
		return OptimizedContext{Messages: messages, Length: totalLength(messages)}, nil
	}

	var summary string
	if session.MessageCount >= s.summaryThreshold {
		summary, _ = s.summarize(ctx, sessionID, session.MessageCount, messages)
	}

	if summary != "" {
		recent := lastN(messages, summaryRecentMessages)
		if len(summary)+totalLength(recent) < s.contextBudget {
			return OptimizedContext{
				Messages: recent,
				Summary:  summary,
				Length:   len(summary) + totalLength(recent),
			}, nil
		}
	}

	selected := s.selectRelevant(ctx, messages, currentQuestion)
	return OptimizedContext{
		Messages: selected,
		Summary:  summary,
		Length:   len(summary) + totalLength(selected),
	}, nil
}

// selectRelevant unions the top semantically relevant prior messages
// with the most recent ones, de-duplicated and re-sorted chronologically.
// Any embedding failure degrades to recency only.
func (s *Service) selectRelevant(ctx context.Context, messages []store.MessageRecord, question string) []store.MessageRecord {
	recent := lastN(messages, s.recentMessages)

	queryVec, err := s.embedQuestion(ctx, question)
	if err != nil {
		s.logger.Printf("relevance ranking unavailable, falling back to recency: %v", err)
		return lastN(messages, summaryRecentMessages)
	}

	ranked, err := s.rankBySimilarity(ctx, messages, queryVec)
	if err != nil {
		s.logger.Printf("relevance ranking failed, falling back to recency: %v", err)
		return lastN(messages, summaryRecentMessages)
	}
	if len(ranked) > s.relevantMessages {
		ranked = ranked[:s.relevantMessages]
	}

	byID := make(map[string]store.MessageRecord, len(ranked)+len(recent))
	for _, m := range ranked {
		byID[m.ID] = m
	}
	for _, m := range recent {
		byID[m.ID] = m
	}
	merged := make([]store.MessageRecord, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

func (s *Service) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	return s.embedder.Embed(ctx, question)
}

// rankBySimilarity scores messages against the query vector, batch
// embedding any message that was stored without one.
func (s *Service) rankBySimilarity(ctx context.Context, messages []store.MessageRecord, queryVec []float32) ([]store.MessageRecord, error) {
	if s.similarity == nil {
		return nil, fmt.Errorf("no similarity function configured")
	}
	var missingIdx []int
	var missingTexts []string
	for i, m := range messages {
		if len(m.Embedding) == 0 {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, m.Content)
		}
	}
	if len(missingTexts) > 0 {
		vecs, err := s.embedder.EmbedBatch(ctx, missingTexts)
		if err != nil {
			return nil, err
		}
		for j, i := range missingIdx {
			messages[i].Embedding = vecs[j]
		}
	}

	type scored struct {
		msg   store.MessageRecord
		score float64
	}
	ranked := make([]scored, 0, len(messages))
	for _, m := range messages {
		if len(m.Embedding) == 0 {
			continue
		}
		score, err := s.similarity(queryVec, m.Embedding)
		if err != nil {
			continue
		}
		ranked = append(ranked, scored{msg: m, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]store.MessageRecord, len(ranked))
	for i, r := range ranked {
		out[i] = r.msg
	}
	return out, nil
}

// summarize produces (or fetches from cache) a natural-language summary
// and key topics for the session. Failures are swallowed: summarization
// is an optimization, never correctness-critical.
func (s *Service) summarize(ctx context.Context, sessionID string, messageCount int, messages []store.MessageRecord) (string, []string) {
	if cached, ok := s.cache.Get(ctx, sessionID, messageCount); ok {
		return cached.Summary, cached.KeyTopics
	}
	if s.provider == nil {
		return "", nil
	}

	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf(`Summarize the following conversation for use as context in future turns.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "summary": "a concise prose summary of the conversation so far",
  "key_topics": ["array", "of", "short", "topic", "strings"]
}
Do not include any other text or explanation.

CONVERSATION:
%s`, transcript.String())

	raw, err := s.provider.Complete(ctx, prompt, llm.Options{Task: "summary"})
	if err != nil {
		s.logger.Printf("summarization failed for session %s: %v", sessionID, err)
		return "", nil
	}
	var parsed cachedSummary
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		s.logger.Printf("summarization parse failed for session %s: %v", sessionID, err)
		return "", nil
	}
	s.cache.Set(ctx, sessionID, messageCount, parsed)
	return parsed.Summary, parsed.KeyTopics
}

// inferPreferences derives user preferences from user-authored messages.
// Best-effort: any failure yields empty preferences.
func (s *Service) inferPreferences(ctx context.Context, messages []store.MessageRecord) Preferences {
	if s.provider == nil {
		return Preferences{}
	}
	var userLines []string
	for _, m := range messages {
		if m.Role == store.MessageRoleUser {
			userLines = append(userLines, m.Content)
		}
	}
	if len(userLines) == 0 {
		return Preferences{}
	}

	prompt := fmt.Sprintf(`Infer the user's preferences from their messages below.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "expertise_level": "beginner|intermediate|expert",
  "interests": ["array", "of", "topics"],
  "communication_style": "short description of preferred style"
}
Do not include any other text or explanation.

USER MESSAGES:
%s`, strings.Join(userLines, "\n"))

	raw, err := s.provider.Complete(ctx, prompt, llm.Options{Task: "summary"})
	if err != nil {
		s.logger.Printf("preference inference failed: %v", err)
		return Preferences{}
	}
	var prefs Preferences
	if err := json.Unmarshal([]byte(extractJSON(raw)), &prefs); err != nil {
		s.logger.Printf("preference inference parse failed: %v", err)
		return Preferences{}
	}
	return prefs
}

// Render flattens an optimized context into prompt text.
func (o OptimizedContext) Render() string {
	var b strings.Builder
	if o.Summary != "" {
		b.WriteString("Conversation summary: ")
		b.WriteString(o.Summary)
		b.WriteString("\n")
	}
	for _, m := range o.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}

func lastN(messages []store.MessageRecord, n int) []store.MessageRecord {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func totalLength(messages []store.MessageRecord) int {
	var total int
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}

// extractJSON trims any prose the model wraps around a JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
