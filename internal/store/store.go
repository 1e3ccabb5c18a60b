// Package store persists chunks, conversation sessions/messages, agent
// personas and their datasets in Postgres. Vector columns use pgvector;
// similarity search relies on the `<=>` cosine-distance operator with
// filters applied server-side.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quorumhq/quorum/internal/embedding"
)

// DefaultEmbeddingDimensions indicates the expected length of semantic
// vectors stored in pgvector columns. It mirrors the gateway's vector
// dimensionality so schema and embedder cannot drift apart.
const DefaultEmbeddingDimensions = embedding.Dimensions

// VersionAll is the wildcard version tag matched by every version filter.
const VersionAll = "ALL"

// Message roles persisted for conversation turns.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Dataset categories used to build persona prompt context.
const (
	DatasetCategoryKnowledge  = "knowledge"
	DatasetCategoryExamples   = "examples"
	DatasetCategoryProcedures = "procedures"
	DatasetCategoryContext    = "context"
)

type Store struct {
	DB *sql.DB
}

// New opens a Postgres connection with the supplied DSN and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// ChunkRecord represents a stored, pre-embedded span of document text.
type ChunkRecord struct {
	ID             string
	DocumentID     string
	ChunkIndex     int
	Title          string
	Content        string
	Embedding      []float32
	Version        string
	Scope          string
	Classification string
	CreatedAt      time.Time
}

// ChunkHit is a chunk returned from similarity search, with the cosine
// similarity computed server-side (1 - distance).
type ChunkHit struct {
	ChunkRecord
	Similarity float64
}

// ChunkSearchParams constrains a vector search over chunks.
type ChunkSearchParams struct {
	Vector          []float32
	TopK            int
	Versions        []string
	Scopes          []string
	Classifications []string
}

// SearchChunks returns the closest chunks for the supplied vector,
// constrained to the given version/scope/classification sets. Results
// are ordered by distance; ties resolve by creation time then index.
func (s *Store) SearchChunks(ctx context.Context, p ChunkSearchParams) ([]ChunkHit, error) {
	if len(p.Vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if p.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}
	vecLiteral, err := encodeVectorLiteral(p.Vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, document_id, chunk_index, title, content, version, scope, classification, created_at,
       1 - (embedding <=> $1::vector) AS similarity
FROM chunks
WHERE (cardinality($2::text[]) = 0 OR version = ANY($2))
  AND (cardinality($3::text[]) = 0 OR scope = ANY($3))
  AND (cardinality($4::text[]) = 0 OR classification = ANY($4))
ORDER BY embedding <=> $1::vector, created_at, chunk_index
LIMIT $5
`, vecLiteral, pq.Array(p.Versions), pq.Array(p.Scopes), pq.Array(p.Classifications), p.TopK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.ChunkIndex, &h.Title, &h.Content,
			&h.Version, &h.Scope, &h.Classification, &h.CreatedAt, &h.Similarity); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// InsertChunk stores a pre-embedded chunk. Ingestion is external; this
// exists for seeding and tests.
func (s *Store) InsertChunk(ctx context.Context, rec ChunkRecord) (ChunkRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if len(rec.Embedding) == 0 {
		return ChunkRecord{}, fmt.Errorf("embedding vector required")
	}
	vecLiteral, err := encodeVectorLiteral(rec.Embedding)
	if err != nil {
		return ChunkRecord{}, err
	}
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO chunks (id, document_id, chunk_index, title, content, embedding, version, scope, classification, created_at)
VALUES ($1,$2,$3,$4,$5,$6::vector,$7,$8,$9,NOW())
RETURNING created_at
`, rec.ID, rec.DocumentID, rec.ChunkIndex, rec.Title, rec.Content, vecLiteral,
		rec.Version, rec.Scope, rec.Classification).Scan(&rec.CreatedAt)
	if err != nil {
		return ChunkRecord{}, err
	}
	return rec, nil
}

// SessionRecord represents a conversation session.
type SessionRecord struct {
	ID           string
	UserID       string
	AgentIDs     []string
	MessageCount int
	CreatedAt    time.Time
	LastActivity time.Time
}

// MessageRecord represents one conversation turn. Embedding is optional
// and used for client-side relevance ranking of history.
type MessageRecord struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	AgentID   string
	Metadata  map[string]interface{}
	Embedding []float32
	CreatedAt time.Time
}

// EnsureSession creates the session row if it does not exist yet.
func (s *Store) EnsureSession(ctx context.Context, sessionID, userID string, agentIDs []string) error {
	if sessionID == "" {
		return fmt.Errorf("session id required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO conversation_sessions (id, user_id, agent_ids, message_count, created_at, last_activity)
VALUES ($1, NULLIF($2,''), $3, 0, NOW(), NOW())
ON CONFLICT (id) DO NOTHING
`, sessionID, userID, pq.Array(agentIDs))
	return err
}

// GetSession returns the session row if present.
func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error) {
	var (
		rec    SessionRecord
		userID sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, agent_ids, message_count, created_at, last_activity
FROM conversation_sessions WHERE id = $1
`, sessionID).Scan(&rec.ID, &userID, pq.Array(&rec.AgentIDs), &rec.MessageCount, &rec.CreatedAt, &rec.LastActivity)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	rec.UserID = userID.String
	return rec, true, nil
}

// AppendMessage inserts a message and bumps the session counter in one
// transaction. The counter update is a relative UPDATE so concurrent
// turns in the same session cannot lose increments.
func (s *Store) AppendMessage(ctx context.Context, rec MessageRecord) (MessageRecord, error) {
	if rec.SessionID == "" {
		return MessageRecord{}, fmt.Errorf("session id required")
	}
	if rec.Role != MessageRoleUser && rec.Role != MessageRoleAssistant {
		return MessageRecord{}, fmt.Errorf("unknown message role: %s", rec.Role)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var metaBytes []byte
	if rec.Metadata != nil {
		var err error
		metaBytes, err = json.Marshal(rec.Metadata)
		if err != nil {
			return MessageRecord{}, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	var vecLiteral sql.NullString
	if len(rec.Embedding) > 0 {
		lit, err := encodeVectorLiteral(rec.Embedding)
		if err != nil {
			return MessageRecord{}, err
		}
		vecLiteral = sql.NullString{String: lit, Valid: true}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return MessageRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
INSERT INTO conversation_messages (id, session_id, role, content, agent_id, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7::vector,NOW())
RETURNING created_at
`, rec.ID, rec.SessionID, rec.Role, rec.Content, rec.AgentID, metaBytes, vecLiteral).Scan(&rec.CreatedAt)
	if err != nil {
		return MessageRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE conversation_sessions
SET message_count = message_count + 1, last_activity = NOW()
WHERE id = $1
`, rec.SessionID); err != nil {
		return MessageRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}

// ListMessages returns a session's messages in creation order. A
// positive limit returns only the most recent messages, still oldest
// first.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	query := `
SELECT id, session_id, role, content, COALESCE(agent_id,''), metadata, embedding::text, created_at
FROM conversation_messages
WHERE session_id = $1
ORDER BY created_at, id
`
	args := []interface{}{sessionID}
	if limit > 0 {
		query = `
SELECT id, session_id, role, content, agent_id, metadata, embedding, created_at FROM (
  SELECT id, session_id, role, content, COALESCE(agent_id,'') AS agent_id, metadata, embedding::text AS embedding, created_at
  FROM conversation_messages
  WHERE session_id = $1
  ORDER BY created_at DESC, id DESC
  LIMIT $2
) recent
ORDER BY created_at, id
`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var (
			rec        MessageRecord
			metaBytes  []byte
			vecLiteral sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Content, &rec.AgentID,
			&metaBytes, &vecLiteral, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &rec.Metadata)
		}
		if vecLiteral.Valid {
			rec.Embedding = decodeVectorLiteral(vecLiteral.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneIdleSessions removes sessions (and their messages) whose last
// activity is older than the cutoff. Called by the retention command,
// never by the core.
func (s *Store) PruneIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM conversation_messages
WHERE session_id IN (SELECT id FROM conversation_sessions WHERE last_activity < $1)
`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return pruned, tx.Commit()
}

// PersonaRecord represents a stored agent persona.
type PersonaRecord struct {
	ID                 string
	Name               string
	Title              string
	Role               string
	Style              string
	Identity           string
	Focus              string
	Principles         []string
	Expertise          []string
	CommunicationStyle string
	Enabled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DatasetRecord represents persona-bound prompt context.
type DatasetRecord struct {
	ID        string
	AgentID   string
	Category  string
	Priority  int
	Content   string
	Enabled   bool
	CreatedAt time.Time
}

// GetPersona returns the persona if it exists and is enabled.
func (s *Store) GetPersona(ctx context.Context, id string) (PersonaRecord, bool, error) {
	var rec PersonaRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, title, role, style, identity, focus, principles, expertise, communication_style, enabled, created_at, updated_at
FROM agent_personas
WHERE id = $1 AND enabled = TRUE
`, id).Scan(&rec.ID, &rec.Name, &rec.Title, &rec.Role, &rec.Style, &rec.Identity, &rec.Focus,
		pq.Array(&rec.Principles), pq.Array(&rec.Expertise), &rec.CommunicationStyle,
		&rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return PersonaRecord{}, false, nil
	}
	if err != nil {
		return PersonaRecord{}, false, err
	}
	return rec, true, nil
}

// ListPersonas returns all enabled personas.
func (s *Store) ListPersonas(ctx context.Context) ([]PersonaRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, title, role, style, identity, focus, principles, expertise, communication_style, enabled, created_at, updated_at
FROM agent_personas
WHERE enabled = TRUE
ORDER BY name
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PersonaRecord
	for rows.Next() {
		var rec PersonaRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Title, &rec.Role, &rec.Style, &rec.Identity, &rec.Focus,
			pq.Array(&rec.Principles), pq.Array(&rec.Expertise), &rec.CommunicationStyle,
			&rec.Enabled, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListDatasets returns a persona's enabled datasets, highest priority first.
func (s *Store) ListDatasets(ctx context.Context, agentID string) ([]DatasetRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, agent_id, category, priority, content, enabled, created_at
FROM agent_datasets
WHERE agent_id = $1 AND enabled = TRUE
ORDER BY priority DESC, created_at
`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetRecord
	for rows.Next() {
		var rec DatasetRecord
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Category, &rec.Priority,
			&rec.Content, &rec.Enabled, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) []float32 {
	lit = strings.Trim(strings.TrimSpace(lit), "[]")
	if lit == "" {
		return nil
	}
	parts := strings.Split(lit, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}
