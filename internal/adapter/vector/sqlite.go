package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"seerlord/internal/domain"
)

// SQLiteIndex implements domain.VectorIndex on an embedded SQLite database.
// Vectors are stored as little-endian float32 blobs; similarity search is a
// full scan with cosine scoring, which is fine for the skill-catalog scale
// (hundreds to low thousands of points). Larger deployments use the qdrant
// backend instead.
type SQLiteIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteIndex opens (or creates) a SQLite database at dbPath and prepares
// the points table. Callers give the index its own file; sharing a file with
// another writer would serialize on the WAL write lock.
func NewSQLiteIndex(dbPath string, logger *slog.Logger) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrVectorStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrVectorStore, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS points (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL DEFAULT '',
			tenant_id  TEXT NOT NULL DEFAULT '',
			user_id    TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL DEFAULT '{}',
			vector     BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_points_scope ON points(type, tenant_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrVectorStore, err)
	}

	return &SQLiteIndex{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteIndex) Close() error { return s.db.Close() }

// Upsert implements domain.VectorIndex.
func (s *SQLiteIndex) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrVectorStore, err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO points (id, type, tenant_id, user_id, agent_name, payload, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			tenant_id = excluded.tenant_id,
			user_id = excluded.user_id,
			agent_name = excluded.agent_name,
			payload = excluded.payload,
			vector = excluded.vector
	`
	for _, p := range points {
		if len(p.Vector) == 0 {
			return fmt.Errorf("%w: point %q has empty vector", domain.ErrVectorStore, p.ID)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("%w: marshal payload: %v", domain.ErrVectorStore, err)
		}
		_, err = tx.ExecContext(ctx, upsert,
			p.ID,
			p.Payload["type"],
			p.Payload["tenant_id"],
			p.Payload["user_id"],
			p.Payload["agent_name"],
			string(payload),
			float32ToBytes(p.Vector),
		)
		if err != nil {
			return fmt.Errorf("%w: upsert point: %v", domain.ErrVectorStore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrVectorStore, err)
	}
	return nil
}

// Search implements domain.VectorIndex. Scope fields are filtered in SQL;
// cosine scoring and ranking happen in process.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, filter domain.VectorFilter, limit int, scoreThreshold float32) ([]domain.VectorHit, error) {
	query := "SELECT id, payload, vector FROM points WHERE 1=1"
	args := []any{}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if len(filter.TenantIDs) > 0 {
		query += " AND tenant_id IN (?" + strings.Repeat(",?", len(filter.TenantIDs)-1) + ")"
		for _, t := range filter.TenantIDs {
			args = append(args, t)
		}
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.AgentName != "" {
		query += " AND agent_name = ?"
		args = append(args, filter.AgentName)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query points: %v", domain.ErrVectorStore, err)
	}
	defer rows.Close()

	var hits []domain.VectorHit
	for rows.Next() {
		var (
			id          string
			payloadJSON string
			blob        []byte
		)
		if err := rows.Scan(&id, &payloadJSON, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan point: %v", domain.ErrVectorStore, err)
		}

		score := cosineSimilarity(vector, bytesToFloat32(blob))
		if score < scoreThreshold {
			continue
		}

		payload := map[string]string{}
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			s.logger.Warn("vector index: bad payload, skipping point", "id", id, "error", err)
			continue
		}

		hits = append(hits, domain.VectorHit{ID: id, Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate points: %v", domain.ErrVectorStore, err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = slices.Clip(hits[:limit])
	}
	return hits, nil
}

// Delete implements domain.VectorIndex.
func (s *SQLiteIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := "DELETE FROM points WHERE id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: delete points: %v", domain.ErrVectorStore, err)
	}
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(float64(result)) || math.IsInf(float64(result), 0) {
		return 0
	}
	return result
}

func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// Compile-time interface check.
var _ domain.VectorIndex = (*SQLiteIndex)(nil)
