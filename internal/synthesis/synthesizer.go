// Package synthesis produces grounded natural-language answers from
// retrieved chunks. Confidence is a calibration heuristic over chunk
// similarities, not a probability.
package synthesis

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/retrieval"
)

// InsufficientInformationAnswer is the fixed response when no grounded
// context exists. Returned without a model call so the system never
// hallucinates an ungrounded answer.
const InsufficientInformationAnswer = "I don't have enough information in the knowledge base to answer that question."

// ProcessingErrorAnswer is the fixed degraded response when a downstream
// failure prevents answering. Confidence 0 keeps it distinguishable from
// a grounded answer.
const ProcessingErrorAnswer = "I'm sorry, I ran into a problem while processing that question. Please try again."

// Source describes where part of an answer came from.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
}

// AnswerResult is the outcome of one synthesis call.
type AnswerResult struct {
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
	AgentID    string   `json:"agent_id,omitempty"`
	AgentName  string   `json:"agent_name,omitempty"`
	// Tokens is the model token spend for this answer, kept out of the
	// API payload; it feeds cost tracking.
	Tokens int64 `json:"-"`
}

// Options tunes one synthesis call.
type Options struct {
	MaxTokens int
	Role      string
	// MaxLength truncates the answer for display; it is not a token
	// budget.
	MaxLength int
	// Context is optional conversation context folded into the prompt.
	Context string
}

// Synthesizer generates grounded answers through the completion model.
type Synthesizer struct {
	provider llm.Provider
	logger   *log.Logger
}

// NewSynthesizer constructs a synthesizer over an already-validated provider.
func NewSynthesizer(provider llm.Provider, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &Synthesizer{provider: provider, logger: logger}
}

// Synthesize answers the question from the supplied chunks only. With
// no chunks it short-circuits to the fixed insufficient-information
// answer at confidence 0, skipping the model entirely.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []retrieval.ScoredChunk, opts Options) (AnswerResult, error) {
	if len(chunks) == 0 {
		return AnswerResult{
			Answer:     InsufficientInformationAnswer,
			Confidence: 0,
			Sources:    []Source{},
		}, nil
	}

	prompt := BuildPrompt(question, chunks, opts.Context)
	answer, tokensIn, tokensOut, err := s.provider.CompleteWithTokens(ctx, prompt, llm.Options{Task: "synthesis", MaxTokens: opts.MaxTokens})
	if err != nil {
		return AnswerResult{}, fmt.Errorf("synthesize answer: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if opts.MaxLength > 0 {
		answer = Truncate(answer, opts.MaxLength)
	}

	return AnswerResult{
		Answer:     answer,
		Confidence: Confidence(chunks),
		Sources:    SourcesFromChunks(chunks),
		Tokens:     tokensIn + tokensOut,
	}, nil
}

// BuildPrompt concatenates chunks as numbered context blocks and
// instructs the model to answer only from them.
func BuildPrompt(question string, chunks []retrieval.ScoredChunk, conversationContext string) string {
	var b strings.Builder
	b.WriteString("You are a knowledge-base assistant. Answer the question using ONLY the numbered context blocks below.\n")
	b.WriteString("If the context does not contain the information needed, say so explicitly instead of guessing.\n")
	b.WriteString("Cite the context block numbers you relied on when relevant, e.g. [2].\n\n")

	if conversationContext != "" {
		b.WriteString("CONVERSATION CONTEXT:\n")
		b.WriteString(conversationContext)
		b.WriteString("\n\n")
	}

	b.WriteString("CONTEXT:\n")
	for i, c := range chunks {
		title := c.Title
		if title == "" {
			title = c.DocumentID
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, title, c.Content)
	}

	b.WriteString("QUESTION: ")
	b.WriteString(question)
	b.WriteString("\n\nANSWER:")
	return b.String()
}

// Confidence returns min(mean(similarities) * 1.2, 1.0), or 0 for an
// empty chunk set. The 1.2 factor is a calibration heuristic; tests pin
// the exact formula.
func Confidence(chunks []retrieval.ScoredChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Similarity
	}
	conf := (sum / float64(len(chunks))) * 1.2
	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// SourcesFromChunks maps chunks to answer sources, preserving order.
func SourcesFromChunks(chunks []retrieval.ScoredChunk) []Source {
	sources := make([]Source, len(chunks))
	for i, c := range chunks {
		sources[i] = Source{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Title:      c.Title,
			ChunkIndex: c.ChunkIndex,
			Similarity: c.Similarity,
		}
	}
	return sources
}

// Truncate cuts an answer to maxLength runes with an ellipsis marker.
// Display safety only, not a token budget.
func Truncate(answer string, maxLength int) string {
	if maxLength <= 0 {
		return answer
	}
	runes := []rune(answer)
	if len(runes) <= maxLength {
		return answer
	}
	return string(runes[:maxLength]) + "..."
}

// Degraded returns a confidence-0 apologetic result attributed to the
// given agent, used when a downstream failure must not escape the
// chat-facing contract.
func Degraded(agentID, agentName string) AnswerResult {
	return AnswerResult{
		Answer:     ProcessingErrorAnswer,
		Confidence: 0,
		Sources:    []Source{},
		AgentID:    agentID,
		AgentName:  agentName,
	}
}
