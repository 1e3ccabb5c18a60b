package server

import "github.com/quorumhq/quorum/internal/synthesis"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AskRequest represents a single-agent question payload.
type AskRequest struct {
	Question  string `json:"question"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Version   string `json:"version"`
	MaxTokens int    `json:"max_tokens"`
}

// AskResponse carries one grounded answer.
type AskResponse struct {
	Answer     string             `json:"answer"`
	Confidence float64            `json:"confidence"`
	Sources    []synthesis.Source `json:"sources"`
	AgentID    string             `json:"agent_id,omitempty"`
	AgentName  string             `json:"agent_name,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
}

// DebateRequest represents a multi-agent question payload.
type DebateRequest struct {
	Question     string   `json:"question"`
	AgentIDs     []string `json:"agent_ids"`
	SessionID    string   `json:"session_id"`
	Version      string   `json:"version"`
	EnableDebate bool     `json:"enable_debate"`
	MaxTokens    int      `json:"max_tokens"`
}

// DebateResponse carries the per-agent answers plus debate artifacts.
type DebateResponse struct {
	Responses     []AskResponse `json:"responses"`
	DebateSummary string        `json:"debate_summary,omitempty"`
	Consensus     string        `json:"consensus,omitempty"`
	Disagreements []string      `json:"disagreements,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
}

// AgentResponse is a public view of a persona.
type AgentResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Title     string   `json:"title,omitempty"`
	Role      string   `json:"role,omitempty"`
	Focus     string   `json:"focus,omitempty"`
	Expertise []string `json:"expertise,omitempty"`
	Enabled   bool     `json:"enabled"`
}

// MessageResponse is one conversation turn.
type MessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	AgentID   string `json:"agent_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// StatsResponse is the operational telemetry snapshot.
type StatsResponse struct {
	TotalRequests       int64              `json:"total_requests"`
	SuccessfulRequests  int64              `json:"successful_requests"`
	FailedRequests      int64              `json:"failed_requests"`
	AverageLatency      string             `json:"average_latency"`
	AgentExecutions     map[string]int64   `json:"agent_executions"`
	AgentSuccessRates   map[string]float64 `json:"agent_success_rates"`
	AgentAverageTimes   map[string]string  `json:"agent_average_times"`
	RetrievalRequests   int64              `json:"retrieval_requests"`
	RetrievalEmptyHits  int64              `json:"retrieval_empty_hits"`
	RetrievalChunkCount int64              `json:"retrieval_chunk_count"`
	TotalTokens         int64              `json:"total_tokens"`
}

// SessionContextResponse surfaces the assembled conversation context.
type SessionContextResponse struct {
	SessionID    string            `json:"session_id"`
	MessageCount int               `json:"message_count"`
	Summary      string            `json:"summary,omitempty"`
	KeyTopics    []string          `json:"key_topics,omitempty"`
	Messages     []MessageResponse `json:"messages"`
}
