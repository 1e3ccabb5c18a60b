// Package persona wraps the answer synthesizer with named agent
// personas: identity, principles, expertise and persona-bound dataset
// context flavor every response.
package persona

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/quorumhq/quorum/config"
	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/memory"
	"github.com/quorumhq/quorum/internal/policy"
	"github.com/quorumhq/quorum/internal/retrieval"
	"github.com/quorumhq/quorum/internal/store"
	"github.com/quorumhq/quorum/internal/synthesis"
	"github.com/quorumhq/quorum/internal/telemetry"
)

// ErrAgentNotFound indicates the requested persona does not exist or is
// disabled. Falling back to a default persona would misattribute the
// response, so this is an error, not a degradation.
type ErrAgentNotFound struct {
	AgentID string
}

func (e ErrAgentNotFound) Error() string { return fmt.Sprintf("agent not found: %s", e.AgentID) }

// PersonaStore is the slice of the store this engine depends on.
type PersonaStore interface {
	GetPersona(ctx context.Context, id string) (store.PersonaRecord, bool, error)
	ListDatasets(ctx context.Context, agentID string) ([]store.DatasetRecord, error)
}

// ChunkRetriever is the slice of the retriever this engine depends on.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (retrieval.Result, error)
}

// RespondOptions tunes a single persona response.
type RespondOptions struct {
	Role    policy.Role
	Version string
	// Context is optional conversation context folded into the prompt.
	Context *memory.OptimizedContext
	// Preferences optionally tailor tone and depth.
	Preferences memory.Preferences
	MaxTokens   int
}

// Engine produces persona-flavored, retrieval-grounded answers.
type Engine struct {
	store     PersonaStore
	retriever ChunkRetriever
	provider  llm.Provider
	logger    *log.Logger
	cfg       config.AgentsConfig
	telemetry *telemetry.Telemetry
}

// NewEngine wires the persona engine.
func NewEngine(st PersonaStore, retriever ChunkRetriever, provider llm.Provider, cfg config.AgentsConfig, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[PERSONA] ", log.LstdFlags)
	}
	return &Engine{store: st, retriever: retriever, provider: provider, logger: logger, cfg: cfg}
}

// SetTelemetry enables per-agent and retrieval event recording. A nil
// telemetry keeps the engine silent.
func (e *Engine) SetTelemetry(t *telemetry.Telemetry) {
	e.telemetry = t
}

func (e *Engine) recordAgent(agentID string, success bool, started time.Time, tokens int64, confidence float64) {
	if e.telemetry == nil {
		return
	}
	e.telemetry.RecordAgentEvent(telemetry.AgentEvent{
		AgentID:    agentID,
		Success:    success,
		Duration:   time.Since(started),
		Model:      e.provider.ModelFor("synthesis"),
		Tokens:     tokens,
		Confidence: confidence,
	})
}

// Resolve returns the persona if it exists and is enabled.
func (e *Engine) Resolve(ctx context.Context, agentID string) (store.PersonaRecord, error) {
	persona, ok, err := e.store.GetPersona(ctx, agentID)
	if err != nil {
		return store.PersonaRecord{}, fmt.Errorf("load persona %s: %w", agentID, err)
	}
	if !ok {
		return store.PersonaRecord{}, ErrAgentNotFound{AgentID: agentID}
	}
	return persona, nil
}

// Respond answers the question as the named persona. An unknown or
// disabled persona is ErrAgentNotFound; any downstream failure after
// resolution degrades to an apologetic confidence-0 answer attributed
// to the requested agent — the single-agent contract never throws past
// this boundary.
func (e *Engine) Respond(ctx context.Context, question, agentID string, opts RespondOptions) (synthesis.AnswerResult, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	persona, err := e.Resolve(ctx, agentID)
	if err != nil {
		return synthesis.AnswerResult{}, err
	}

	result := e.respondAs(ctx, persona, question, opts)
	result.AgentID = persona.ID
	result.AgentName = persona.Name
	return result, nil
}

// respondAs runs retrieval + persona synthesis for an already-resolved
// persona, degrading on failure instead of erroring.
func (e *Engine) respondAs(ctx context.Context, persona store.PersonaRecord, question string, opts RespondOptions) synthesis.AnswerResult {
	started := time.Now()

	datasets, err := e.store.ListDatasets(ctx, persona.ID)
	if err != nil {
		e.logger.Printf("datasets unavailable for agent %s: %v", persona.ID, err)
		datasets = nil
	}

	retrievalStarted := time.Now()
	res, err := e.retriever.Retrieve(ctx, retrieval.Query{
		Question: question,
		Role:     opts.Role,
		Version:  opts.Version,
	})
	if err != nil {
		e.logger.Printf("retrieval failed for agent %s: %v", persona.ID, err)
		e.recordAgent(persona.ID, false, started, 0, 0)
		return synthesis.Degraded(persona.ID, persona.Name)
	}
	if e.telemetry != nil {
		e.telemetry.RecordRetrieval(telemetry.RetrievalEvent{
			Chunks:   len(res.Chunks),
			Duration: time.Since(retrievalStarted),
		})
	}

	if len(res.Chunks) == 0 && !hasKnowledge(datasets) {
		e.recordAgent(persona.ID, true, started, 0, 0)
		return synthesis.AnswerResult{
			Answer:     synthesis.InsufficientInformationAnswer,
			Confidence: 0,
			Sources:    []synthesis.Source{},
		}
	}

	prompt := BuildPersonaPrompt(persona, datasets, question, res.Chunks, opts)
	answer, tokensIn, tokensOut, err := e.provider.CompleteWithTokens(ctx, prompt, llm.Options{Task: "synthesis", MaxTokens: opts.MaxTokens})
	if err != nil {
		e.logger.Printf("completion failed for agent %s: %v", persona.ID, err)
		e.recordAgent(persona.ID, false, started, 0, 0)
		return synthesis.Degraded(persona.ID, persona.Name)
	}

	confidence := synthesis.Confidence(res.Chunks)
	e.recordAgent(persona.ID, true, started, tokensIn+tokensOut, confidence)
	return synthesis.AnswerResult{
		Answer:     strings.TrimSpace(answer),
		Confidence: confidence,
		Sources:    synthesis.SourcesFromChunks(res.Chunks),
		Tokens:     tokensIn + tokensOut,
	}
}

// BuildPersonaPrompt renders the persona header, dataset context by
// priority, retrieved chunks, conversation context and response
// instructions into one prompt.
func BuildPersonaPrompt(persona store.PersonaRecord, datasets []store.DatasetRecord, question string, chunks []retrieval.ScoredChunk, opts RespondOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s", persona.Name)
	if persona.Title != "" {
		fmt.Fprintf(&b, ", %s", persona.Title)
	}
	b.WriteString(".\n")
	if persona.Identity != "" {
		fmt.Fprintf(&b, "Identity: %s\n", persona.Identity)
	}
	if persona.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", persona.Role)
	}
	if persona.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", persona.Style)
	}
	if persona.Focus != "" {
		fmt.Fprintf(&b, "Focus: %s\n", persona.Focus)
	}
	if persona.CommunicationStyle != "" {
		fmt.Fprintf(&b, "Communication style: %s\n", persona.CommunicationStyle)
	}
	if len(persona.Principles) > 0 {
		b.WriteString("Core principles:\n")
		for i, p := range persona.Principles {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
	}
	if len(persona.Expertise) > 0 {
		fmt.Fprintf(&b, "Expertise: %s\n", strings.Join(persona.Expertise, ", "))
	}
	b.WriteString("\n")

	// Knowledge first, then the remaining categories, each already
	// priority-descending from the store.
	writeDatasets(&b, datasets, store.DatasetCategoryKnowledge, "AGENT KNOWLEDGE")
	writeDatasets(&b, datasets, store.DatasetCategoryExamples, "EXAMPLES")
	writeDatasets(&b, datasets, store.DatasetCategoryProcedures, "PROCEDURES")
	writeDatasets(&b, datasets, store.DatasetCategoryContext, "ADDITIONAL CONTEXT")

	if len(chunks) > 0 {
		b.WriteString("RETRIEVED CONTEXT:\n")
		for i, c := range chunks {
			title := c.Title
			if title == "" {
				title = c.DocumentID
			}
			fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, title, c.Content)
		}
	}

	if opts.Context != nil {
		if rendered := opts.Context.Render(); rendered != "" {
			b.WriteString("CONVERSATION SO FAR:\n")
			b.WriteString(rendered)
			b.WriteString("\n\n")
		}
	}
	if prefs := renderPreferences(opts.Preferences); prefs != "" {
		b.WriteString("USER PREFERENCES: ")
		b.WriteString(prefs)
		b.WriteString("\n\n")
	}

	b.WriteString("QUESTION: ")
	b.WriteString(question)
	b.WriteString("\n\nRESPONSE INSTRUCTIONS:\n")
	b.WriteString("1. Stay in character and answer in your own voice.\n")
	b.WriteString("2. Ground your answer in the knowledge and retrieved context above; be honest about gaps.\n")
	b.WriteString("3. Honor your stated focus and principles.\n")
	b.WriteString("\nANSWER:")
	return b.String()
}

func writeDatasets(b *strings.Builder, datasets []store.DatasetRecord, category, heading string) {
	var wrote bool
	for _, d := range datasets {
		if d.Category != category {
			continue
		}
		if !wrote {
			b.WriteString(heading + ":\n")
			wrote = true
		}
		b.WriteString(d.Content)
		b.WriteString("\n")
	}
	if wrote {
		b.WriteString("\n")
	}
}

func renderPreferences(p memory.Preferences) string {
	var parts []string
	if p.ExpertiseLevel != "" {
		parts = append(parts, "expertise level "+p.ExpertiseLevel)
	}
	if len(p.Interests) > 0 {
		parts = append(parts, "interested in "+strings.Join(p.Interests, ", "))
	}
	if p.CommunicationStyle != "" {
		parts = append(parts, "prefers "+p.CommunicationStyle)
	}
	return strings.Join(parts, "; ")
}

func hasKnowledge(datasets []store.DatasetRecord) bool {
	for _, d := range datasets {
		if d.Category == store.DatasetCategoryKnowledge && strings.TrimSpace(d.Content) != "" {
			return true
		}
	}
	return false
}
