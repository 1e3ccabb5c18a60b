// Package debate fans a question out to multiple agent personas
// concurrently and synthesizes a consensus/disagreement summary from
// their independent answers.
package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/quorumhq/quorum/config"
	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/persona"
	"github.com/quorumhq/quorum/internal/store"
	"github.com/quorumhq/quorum/internal/synthesis"
)

// ErrNoValidAgents indicates every requested agent id was unresolvable.
// Partial availability is tolerated; total unavailability is not.
type ErrNoValidAgents struct {
	Requested []string
}

func (e ErrNoValidAgents) Error() string {
	return fmt.Sprintf("no valid agents among %v", e.Requested)
}

// FallbackConsensus stands in when the synthesis model omits an explicit
// consensus statement.
const FallbackConsensus = "The agents agree to continue the analysis."

// MultiAgentResponse aggregates per-agent answers plus optional debate
// synthesis. Debate fields stay empty for single-agent requests and
// when debate is disabled.
type MultiAgentResponse struct {
	Responses     []synthesis.AnswerResult `json:"responses"`
	DebateSummary string                   `json:"debate_summary,omitempty"`
	Consensus     string                   `json:"consensus,omitempty"`
	Disagreements []string                 `json:"disagreements,omitempty"`
}

// AgentEngine is the slice of the persona engine the coordinator uses.
type AgentEngine interface {
	Resolve(ctx context.Context, agentID string) (store.PersonaRecord, error)
	Respond(ctx context.Context, question, agentID string, opts persona.RespondOptions) (synthesis.AnswerResult, error)
}

// Options tunes one debate run.
type Options struct {
	EnableDebate bool
	Respond      persona.RespondOptions
}

// Coordinator orchestrates multi-agent answering.
type Coordinator struct {
	engine   AgentEngine
	provider llm.Provider
	logger   *log.Logger
	cfg      config.AgentsConfig
}

// NewCoordinator wires the debate coordinator.
func NewCoordinator(engine AgentEngine, provider llm.Provider, cfg config.AgentsConfig, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[DEBATE] ", log.LstdFlags)
	}
	return &Coordinator{engine: engine, provider: provider, logger: logger, cfg: cfg}
}

// Debate resolves the agent set, invokes every resolved agent
// concurrently and, for multi-agent runs with debate enabled,
// synthesizes a summary with consensus and disagreements. Unresolvable
// agents are dropped silently; an empty resulting set is ErrNoValidAgents.
func (c *Coordinator) Debate(ctx context.Context, question string, agentIDs []string, opts Options) (MultiAgentResponse, error) {
	var resolved []string
	for _, id := range agentIDs {
		if _, err := c.engine.Resolve(ctx, id); err != nil {
			c.logger.Printf("dropping unresolvable agent %s: %v", id, err)
			continue
		}
		resolved = append(resolved, id)
	}
	if len(resolved) == 0 {
		return MultiAgentResponse{}, ErrNoValidAgents{Requested: agentIDs}
	}

	// Single agent: plain answer, no debate machinery. Debate synthesis
	// with one participant is undefined.
	if len(resolved) == 1 {
		result, err := c.engine.Respond(ctx, question, resolved[0], opts.Respond)
		if err != nil {
			return MultiAgentResponse{}, err
		}
		return MultiAgentResponse{Responses: []synthesis.AnswerResult{result}}, nil
	}

	// Fan out concurrently so wall-clock latency is bounded by the
	// slowest agent, not the sum.
	responses := make([]synthesis.AnswerResult, len(resolved))
	var wg sync.WaitGroup
	for i, id := range resolved {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			result, err := c.engine.Respond(ctx, question, id, opts.Respond)
			if err != nil {
				// Resolution raced a disable; degrade like any other
				// downstream failure.
				c.logger.Printf("agent %s failed mid-debate: %v", id, err)
				result = synthesis.Degraded(id, "")
			}
			responses[i] = result
		}(i, id)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return MultiAgentResponse{}, err
	}

	out := MultiAgentResponse{Responses: responses}
	if !opts.EnableDebate {
		return out, nil
	}

	summary, consensus, disagreements := c.synthesizeDebate(ctx, question, responses)
	out.DebateSummary = summary
	out.Consensus = consensus
	out.Disagreements = disagreements
	return out, nil
}

// debateSynthesis is the structured output requested from the model.
type debateSynthesis struct {
	DebateSummary string   `json:"debate_summary"`
	Consensus     string   `json:"consensus"`
	Disagreements []string `json:"disagreements"`
}

// synthesizeDebate asks the model for a structured comparison of the
// independent answers. Missing fields fall back to generic defaults
// rather than failing: a degraded synthesis is still a valid response.
func (c *Coordinator) synthesizeDebate(ctx context.Context, question string, responses []synthesis.AnswerResult) (string, string, []string) {
	var answers strings.Builder
	for i, r := range responses {
		name := r.AgentName
		if name == "" {
			name = r.AgentID
		}
		fmt.Fprintf(&answers, "AGENT %d (%s):\n%s\n\n", i+1, name, r.Answer)
	}

	var prompt string
	if c.cfg.LegacyParsing {
		prompt = fmt.Sprintf(`Multiple agents independently answered the question below. Compare their answers.

Write a prose summary of the debate, then a line starting with "CONSENSUS:" stating what they agree on, then a line starting with "DISAGREEMENTS:" listing points of disagreement separated by semicolons (or "none").

QUESTION: %s

%s`, question, answers.String())
	} else {
		prompt = fmt.Sprintf(`Multiple agents independently answered the question below. Compare their answers.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "debate_summary": "prose summary of how the answers relate",
  "consensus": "one statement of what the agents agree on",
  "disagreements": ["array", "of", "disagreement", "statements"]
}
Do not include any other text or explanation.

QUESTION: %s

%s`, question, answers.String())
	}

	raw, err := c.provider.Complete(ctx, prompt, llm.Options{Task: "debate"})
	if err != nil {
		c.logger.Printf("debate synthesis failed: %v", err)
		return "", FallbackConsensus, []string{}
	}

	var parsed debateSynthesis
	if c.cfg.LegacyParsing {
		parsed = parseLegacyDebate(raw)
	} else {
		if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
			c.logger.Printf("debate synthesis parse failed, using legacy extraction: %v", err)
			parsed = parseLegacyDebate(raw)
		}
	}

	if parsed.Consensus == "" {
		parsed.Consensus = FallbackConsensus
	}
	if parsed.Disagreements == nil {
		parsed.Disagreements = []string{}
	}
	if parsed.DebateSummary == "" {
		parsed.DebateSummary = strings.TrimSpace(raw)
	}
	return parsed.DebateSummary, parsed.Consensus, parsed.Disagreements
}

var (
	consensusRe     = regexp.MustCompile(`(?im)^\s*CONSENSUS:\s*(.+)$`)
	disagreementsRe = regexp.MustCompile(`(?im)^\s*DISAGREEMENTS:\s*(.+)$`)
)

// parseLegacyDebate extracts consensus/disagreements from free-form
// prose. Fragile by nature; kept as the fallback path.
func parseLegacyDebate(raw string) debateSynthesis {
	var out debateSynthesis

	if m := consensusRe.FindStringSubmatch(raw); m != nil {
		out.Consensus = strings.TrimSpace(m[1])
	}
	if m := disagreementsRe.FindStringSubmatch(raw); m != nil {
		listed := strings.TrimSpace(m[1])
		if !strings.EqualFold(listed, "none") {
			for _, part := range strings.Split(listed, ";") {
				if part = strings.TrimSpace(part); part != "" {
					out.Disagreements = append(out.Disagreements, part)
				}
			}
		}
	}

	// Summary is everything before the structured lines.
	summary := raw
	if idx := consensusRe.FindStringIndex(raw); idx != nil {
		summary = raw[:idx[0]]
	}
	out.DebateSummary = strings.TrimSpace(summary)
	return out
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
