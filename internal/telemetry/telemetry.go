// Package telemetry provides request/agent metrics and token cost
// tracking for the RAG core.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/quorumhq/quorum/config"
)

// Telemetry aggregates processing metrics and cost tracking.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds performance counters.
type Metrics struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AverageLatency     time.Duration

	// Per-agent metrics
	AgentExecutions   map[string]int64
	AgentSuccessRates map[string]float64
	AgentAverageTimes map[string]time.Duration

	// Retrieval metrics
	RetrievalRequests   int64
	RetrievalEmptyHits  int64
	RetrievalChunkCount int64
}

// CostTracker tracks token spend across models.
type CostTracker struct {
	ModelTokens map[string]int64
	TotalTokens int64
}

// RequestEvent represents one answered question.
type RequestEvent struct {
	ID         string
	Success    bool
	Duration   time.Duration
	AgentsUsed []string
	Tokens     int64
	Confidence float64
}

// AgentEvent represents one persona response.
type AgentEvent struct {
	AgentID    string
	Success    bool
	Duration   time.Duration
	Model      string
	Tokens     int64
	Confidence float64
}

// RetrievalEvent represents one retrieval call.
type RetrievalEvent struct {
	Chunks   int
	Duration time.Duration
}

// New creates a telemetry instance.
func New(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			AgentExecutions:   make(map[string]int64),
			AgentSuccessRates: make(map[string]float64),
			AgentAverageTimes: make(map[string]time.Duration),
		},
		costTracker: &CostTracker{
			ModelTokens: make(map[string]int64),
		},
	}
}

// RecordRequest records a completed question/answer cycle.
func (t *Telemetry) RecordRequest(event RequestEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRequests++
	if event.Success {
		t.metrics.SuccessfulRequests++
	} else {
		t.metrics.FailedRequests++
	}
	if t.metrics.TotalRequests == 1 {
		t.metrics.AverageLatency = event.Duration
	} else {
		total := t.metrics.AverageLatency * time.Duration(t.metrics.TotalRequests-1)
		t.metrics.AverageLatency = (total + event.Duration) / time.Duration(t.metrics.TotalRequests)
	}
	for _, agent := range event.AgentsUsed {
		t.metrics.AgentExecutions[agent]++
	}
	if t.config.CostTracking {
		t.costTracker.TotalTokens += event.Tokens
	}

	t.logger.Printf("Request: ID=%s, Success=%t, Duration=%v, Tokens=%d, Confidence=%.2f",
		event.ID, event.Success, event.Duration, event.Tokens, event.Confidence)
}

// RecordAgentEvent records a single persona response.
func (t *Telemetry) RecordAgentEvent(event AgentEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.AgentExecutions[event.AgentID]++
	executions := t.metrics.AgentExecutions[event.AgentID]

	successes := t.metrics.AgentSuccessRates[event.AgentID] * float64(executions-1)
	if event.Success {
		successes += 1.0
	}
	t.metrics.AgentSuccessRates[event.AgentID] = successes / float64(executions)

	currentAvg := t.metrics.AgentAverageTimes[event.AgentID]
	if executions == 1 {
		t.metrics.AgentAverageTimes[event.AgentID] = event.Duration
	} else {
		total := currentAvg * time.Duration(executions-1)
		t.metrics.AgentAverageTimes[event.AgentID] = (total + event.Duration) / time.Duration(executions)
	}

	if t.config.CostTracking {
		t.costTracker.ModelTokens[event.Model] += event.Tokens
		t.costTracker.TotalTokens += event.Tokens
	}

	t.logger.Printf("Agent: ID=%s, Success=%t, Duration=%v, Confidence=%.2f",
		event.AgentID, event.Success, event.Duration, event.Confidence)
}

// RecordRetrieval records a retrieval call's result size.
func (t *Telemetry) RecordRetrieval(event RetrievalEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.RetrievalRequests++
	t.metrics.RetrievalChunkCount += int64(event.Chunks)
	if event.Chunks == 0 {
		t.metrics.RetrievalEmptyHits++
	}
}

// Snapshot returns a copy of the current metrics for reporting.
func (t *Telemetry) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := *t.metrics
	snap.AgentExecutions = make(map[string]int64, len(t.metrics.AgentExecutions))
	for k, v := range t.metrics.AgentExecutions {
		snap.AgentExecutions[k] = v
	}
	snap.AgentSuccessRates = make(map[string]float64, len(t.metrics.AgentSuccessRates))
	for k, v := range t.metrics.AgentSuccessRates {
		snap.AgentSuccessRates[k] = v
	}
	snap.AgentAverageTimes = make(map[string]time.Duration, len(t.metrics.AgentAverageTimes))
	for k, v := range t.metrics.AgentAverageTimes {
		snap.AgentAverageTimes[k] = v
	}
	return snap
}

// TotalTokens returns the cumulative token spend.
func (t *Telemetry) TotalTokens() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.costTracker.TotalTokens
}
