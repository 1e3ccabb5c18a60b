package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/quorumhq/quorum/config"
	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/memory"
	"github.com/quorumhq/quorum/internal/persona"
	"github.com/quorumhq/quorum/internal/policy"
	"github.com/quorumhq/quorum/internal/retrieval"
	"github.com/quorumhq/quorum/internal/store"
	"github.com/quorumhq/quorum/internal/synthesis"
	"github.com/quorumhq/quorum/internal/telemetry"
)

type fakeProvider struct {
	answer string
	err    error
	calls  int
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	out, _, _, err := f.CompleteWithTokens(ctx, prompt, opts)
	return out, err
}

func (f *fakeProvider) CompleteWithTokens(context.Context, string, llm.Options) (string, int64, int64, error) {
	f.calls++
	return f.answer, 7, 5, f.err
}

func (f *fakeProvider) ModelFor(string) string { return "test-model" }

func (f *fakeProvider) Embed(_ context.Context, input []string) ([][]float32, error) {
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = []float32{1}
	}
	return out, nil
}

type fakeRetriever struct {
	chunks []retrieval.ScoredChunk
	err    error
}

func (f *fakeRetriever) Retrieve(context.Context, retrieval.Query) (retrieval.Result, error) {
	return retrieval.Result{Chunks: f.chunks}, f.err
}

type fakeMessageStore struct {
	appended []store.MessageRecord
}

func (f *fakeMessageStore) EnsureSession(context.Context, string, string, []string) error { return nil }

func (f *fakeMessageStore) GetSession(context.Context, string) (store.SessionRecord, bool, error) {
	return store.SessionRecord{}, false, nil
}

func (f *fakeMessageStore) AppendMessage(_ context.Context, rec store.MessageRecord) (store.MessageRecord, error) {
	f.appended = append(f.appended, rec)
	return rec, nil
}

func (f *fakeMessageStore) ListMessages(context.Context, string, int) ([]store.MessageRecord, error) {
	return nil, nil
}

type emptyPersonaStore struct{}

func (emptyPersonaStore) GetPersona(context.Context, string) (store.PersonaRecord, bool, error) {
	return store.PersonaRecord{}, false, nil
}

func (emptyPersonaStore) ListDatasets(context.Context, string) ([]store.DatasetRecord, error) {
	return nil, nil
}

func askContext(t *testing.T, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "u1")
	c.Set("role", policy.RoleReader)
	return c, rec
}

func memoryWith(st memory.MessageStore, provider llm.Provider) *memory.Service {
	sim := func(a, b []float32) (float64, error) { return 0, nil }
	return memory.NewService(st, nil, provider, nil, config.MemoryConfig{}, sim, nil)
}

func TestAskWithoutAgentSynthesizesGroundedAnswer(t *testing.T) {
	provider := &fakeProvider{answer: "Grounded."}
	msgStore := &fakeMessageStore{}
	tele := telemetry.New(config.TelemetryConfig{Enabled: true, CostTracking: true})
	h := &AskHandler{
		Retriever: &fakeRetriever{chunks: []retrieval.ScoredChunk{
			{ID: "c1", DocumentID: "d1", Similarity: 0.8},
			{ID: "c2", DocumentID: "d2", Similarity: 0.7},
		}},
		Synthesizer: synthesis.NewSynthesizer(provider, nil),
		Memory:      memoryWith(msgStore, provider),
		Telemetry:   tele,
	}

	c, rec := askContext(t, `{"question":"how do I rotate keys?","session_id":"s1"}`)
	if err := h.ask(c); err != nil {
		t.Fatalf("ask: %v", err)
	}
	var resp AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "Grounded." {
		t.Fatalf("expected synthesized answer, got %q", resp.Answer)
	}
	if resp.AgentID != "" {
		t.Fatalf("agent-less answer must not be attributed, got %q", resp.AgentID)
	}
	if want := 0.75 * 1.2; math.Abs(resp.Confidence-want) > 1e-9 {
		t.Fatalf("expected confidence %f, got %f", want, resp.Confidence)
	}
	if len(resp.Sources) != 2 || resp.Sources[0].ChunkID != "c1" {
		t.Fatalf("sources should mirror chunks: %+v", resp.Sources)
	}

	// The turn commits as a pair, user first.
	if len(msgStore.appended) != 2 {
		t.Fatalf("expected user+assistant pair, got %d messages", len(msgStore.appended))
	}
	if msgStore.appended[0].Role != store.MessageRoleUser || msgStore.appended[1].Role != store.MessageRoleAssistant {
		t.Fatalf("unexpected turn order: %s then %s", msgStore.appended[0].Role, msgStore.appended[1].Role)
	}

	snap := tele.Snapshot()
	if snap.RetrievalRequests != 1 || snap.RetrievalChunkCount != 2 {
		t.Fatalf("retrieval telemetry not recorded: %+v", snap)
	}
	if tele.TotalTokens() != 12 {
		t.Fatalf("expected 12 tokens recorded, got %d", tele.TotalTokens())
	}
}

func TestAskWithoutAgentEmptyRetrievalShortCircuits(t *testing.T) {
	provider := &fakeProvider{answer: "should not be used"}
	h := &AskHandler{
		Retriever:   &fakeRetriever{},
		Synthesizer: synthesis.NewSynthesizer(provider, nil),
	}

	c, rec := askContext(t, `{"question":"anything?"}`)
	if err := h.ask(c); err != nil {
		t.Fatalf("ask: %v", err)
	}
	var resp AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != synthesis.InsufficientInformationAnswer {
		t.Fatalf("expected insufficient-information answer, got %q", resp.Answer)
	}
	if provider.calls != 0 {
		t.Fatal("model must not be called without chunks")
	}
}

func TestAskFailureLeavesNoPartialTurn(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model down")}
	msgStore := &fakeMessageStore{}
	h := &AskHandler{
		Retriever:   &fakeRetriever{chunks: []retrieval.ScoredChunk{{ID: "c1", Similarity: 0.9}}},
		Synthesizer: synthesis.NewSynthesizer(provider, nil),
		Memory:      memoryWith(msgStore, provider),
	}

	c, _ := askContext(t, `{"question":"q","session_id":"s1"}`)
	err := h.ask(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if len(msgStore.appended) != 0 {
		t.Fatalf("failed request must not commit any message, got %d", len(msgStore.appended))
	}
}

func TestAskUnknownAgentCommitsNothing(t *testing.T) {
	provider := &fakeProvider{answer: "unused"}
	msgStore := &fakeMessageStore{}
	engine := persona.NewEngine(emptyPersonaStore{}, &fakeRetriever{}, provider, config.AgentsConfig{}, nil)
	h := &AskHandler{
		Engine: engine,
		Memory: memoryWith(msgStore, provider),
	}

	c, _ := askContext(t, `{"question":"q","agent_id":"ghost","session_id":"s1"}`)
	err := h.ask(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if len(msgStore.appended) != 0 {
		t.Fatalf("unknown agent must not commit any message, got %d", len(msgStore.appended))
	}
}
