package skillstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"seerlord/internal/domain"
	"seerlord/internal/infra/config"
	"seerlord/internal/infra/tracer"
)

// Retrieval reason strings. Callers branch on skill level, never on these;
// they exist for logs, events, and end-user "thinking" displays.
const (
	ReasonNoSkillFound   = "fallback (no skill found)"
	ReasonStoreSyncErr   = "fallback (store sync error)"
	reasonVectorMatchFmt = "vector match (%s)"
)

// minCandidates is the floor for vector-search candidate count. Hydration
// tolerates missing relational rows, so a single candidate is too brittle.
const minCandidates = 3

// SQLStore implements domain.SkillStore with relational rows in SQLite and a
// parallel embedding record in a domain.VectorIndex. The vector index carries
// only ids and scope metadata; the full payload is hydrated from SQL on read.
type SQLStore struct {
	db       *sql.DB
	index    domain.VectorIndex
	embedder domain.EmbeddingProvider
	logger   *slog.Logger
	minScore float32
	topK     int
}

// New opens (or creates) the skill database at cfg.DBPath and wires the
// vector index and embedder used for similarity retrieval.
func New(cfg config.SkillsConfig, index domain.VectorIndex, embedder domain.EmbeddingProvider, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrSkillStore, err)
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
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrSkillStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrSkillStore, err)
	}

	topK := cfg.TopK
	if topK < minCandidates {
		topK = minCandidates
	}

	return &SQLStore{
		db:       db,
		index:    index,
		embedder: embedder,
		logger:   logger,
		minScore: cfg.MinScore,
		topK:     topK,
	}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS skills (
			id                TEXT PRIMARY KEY,
			tenant_id         TEXT NOT NULL,
			user_id           TEXT NOT NULL DEFAULT '',
			name              TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			level             TEXT NOT NULL,
			parent_id         TEXT NOT NULL DEFAULT '',
			prompt_template   TEXT NOT NULL,
			knowledge_base    TEXT NOT NULL DEFAULT '[]',
			code_logic        TEXT NOT NULL DEFAULT '',
			parameters_schema TEXT NOT NULL DEFAULT '{}',
			tags              TEXT NOT NULL DEFAULT '[]',
			success_count     INTEGER NOT NULL DEFAULT 0,
			failure_count     INTEGER NOT NULL DEFAULT 0,
			last_used         TEXT,
			created_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_skills_tenant_name ON skills(tenant_id, name);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error { return s.db.Close() }

// AddSkill implements domain.SkillStore. A skill whose name already exists in
// the tenant scope reuses the existing row's id, so repeated evolution of the
// same capability converges on one record instead of piling up duplicates.
// The relational write commits only after the vector upsert succeeds; a
// partial write surfaces as an error because it would desync the index.
func (s *SQLStore) AddSkill(ctx context.Context, skill *domain.Skill, tenantID, userID string) error {
	ctx, span := tracer.StartSpan(ctx, "skillstore.add",
		trace.WithAttributes(tracer.StringAttr("skill.name", skill.Name), tracer.StringAttr("tenant.id", tenantID)))
	defer span.End()

	if tenantID == "" {
		return domain.NewDomainError("SkillStore.AddSkill", domain.ErrInvalidInput, "tenant id is required")
	}
	if err := skill.Validate(); err != nil {
		return err
	}

	if skill.ID == "" {
		skill.ID = domain.NewSkillID()
	}
	if skill.Stats.CreatedAt.IsZero() {
		skill.Stats.CreatedAt = time.Now().UTC()
	}

	// Name dedupe within the tenant scope.
	var existingID string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM skills WHERE tenant_id = ? AND name = ?", tenantID, skill.Name,
	).Scan(&existingID)
	switch {
	case err == nil:
		skill.ID = existingID
		if skill.ParentID == existingID {
			// A refinement overwriting its original would otherwise
			// record itself as its own parent.
			skill.ParentID = ""
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		tracer.RecordError(span, err)
		return fmt.Errorf("%w: dedupe lookup: %v", domain.ErrSkillStore, err)
	}

	vec, err := s.embedder.EmbedQuery(ctx, skill.EmbeddingText())
	if err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp("SkillStore.AddSkill", err)
	}

	knowledge, err := json.Marshal(skill.Content.KnowledgeBase)
	if err != nil {
		return fmt.Errorf("%w: marshal knowledge base: %v", domain.ErrSkillStore, err)
	}
	params, err := json.Marshal(skill.Content.ParametersSchema)
	if err != nil {
		return fmt.Errorf("%w: marshal parameters schema: %v", domain.ErrSkillStore, err)
	}
	tags, err := json.Marshal(skill.Tags)
	if err != nil {
		return fmt.Errorf("%w: marshal tags: %v", domain.ErrSkillStore, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return fmt.Errorf("%w: begin tx: %v", domain.ErrSkillStore, err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO skills (
			id, tenant_id, user_id, name, description, level, parent_id,
			prompt_template, knowledge_base, code_logic, parameters_schema,
			tags, success_count, failure_count, last_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			user_id = excluded.user_id,
			name = excluded.name,
			description = excluded.description,
			level = excluded.level,
			parent_id = excluded.parent_id,
			prompt_template = excluded.prompt_template,
			knowledge_base = excluded.knowledge_base,
			code_logic = excluded.code_logic,
			parameters_schema = excluded.parameters_schema,
			tags = excluded.tags
	`
	var lastUsed any
	if skill.Stats.LastUsed != nil {
		lastUsed = skill.Stats.LastUsed.UTC().Format(time.RFC3339Nano)
	}
	_, err = tx.ExecContext(ctx, upsert,
		skill.ID, tenantID, userID, skill.Name, skill.Description, string(skill.Level), skill.ParentID,
		skill.Content.PromptTemplate, string(knowledge), skill.Content.CodeLogic, string(params),
		string(tags), skill.Stats.SuccessCount, skill.Stats.FailureCount, lastUsed,
		skill.Stats.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		tracer.RecordError(span, err)
		return fmt.Errorf("%w: upsert skill row: %v", domain.ErrSkillStore, err)
	}

	payload := map[string]string{
		"type":      "skill",
		"tenant_id": tenantID,
		"skill_id":  skill.ID,
		"level":     string(skill.Level),
	}
	if userID != "" {
		payload["user_id"] = userID
	}
	if err := s.index.Upsert(ctx, []domain.VectorPoint{{
		ID:      skill.ID,
		Vector:  vec,
		Payload: payload,
	}}); err != nil {
		// The deferred rollback discards the relational write, keeping the
		// two stores consistent.
		tracer.RecordError(span, err)
		return fmt.Errorf("%w: vector upsert: %v", domain.ErrSkillStore, err)
	}

	if err := tx.Commit(); err != nil {
		tracer.RecordError(span, err)
		return fmt.Errorf("%w: commit: %v", domain.ErrSkillStore, err)
	}

	s.logger.Debug("skill persisted",
		"skill_id", skill.ID,
		"name", skill.Name,
		"level", skill.Level,
		"tenant_id", tenantID,
	)
	return nil
}

// RetrieveBestSkill implements domain.SkillStore. Candidates come back in
// vector-rank order and the first one that hydrates from SQL wins; precedence
// among levels emerges from embedding similarity, not an explicit rule.
func (s *SQLStore) RetrieveBestSkill(ctx context.Context, query string, f domain.SkillFilter) (domain.Skill, string, error) {
	ctx, span := tracer.StartSpan(ctx, "skillstore.retrieve",
		trace.WithAttributes(tracer.StringAttr("tenant.id", f.TenantID)))
	defer span.End()

	if f.TenantID == "" {
		return domain.Skill{}, "", domain.NewDomainError("SkillStore.RetrieveBestSkill", domain.ErrInvalidInput, "tenant id is required")
	}

	hits, err := s.searchCandidates(ctx, query, f, s.topK, s.minScore)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Skill{}, "", err
	}

	if len(hits) == 0 {
		s.logger.Debug("skill retrieval: no candidates", "tenant_id", f.TenantID)
		return domain.DefaultMetaSkill(), ReasonNoSkillFound, nil
	}

	for _, hit := range hits {
		skill, err := s.GetSkill(ctx, skillIDFromHit(hit))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("skill retrieval: vector hit without relational row",
					"skill_id", hit.ID, "tenant_id", f.TenantID)
				continue
			}
			tracer.RecordError(span, err)
			return domain.Skill{}, "", err
		}
		reason := fmt.Sprintf(reasonVectorMatchFmt, skill.Level)
		s.logger.Debug("skill retrieved",
			"skill_id", skill.ID, "name", skill.Name, "level", skill.Level, "score", hit.Score)
		return *skill, reason, nil
	}

	// Every candidate id was missing relationally: the two stores drifted.
	s.logger.Error("skill retrieval: all candidates failed hydration", "tenant_id", f.TenantID)
	return domain.DefaultMetaSkill(), ReasonStoreSyncErr, nil
}

// RetrieveRelatedSkills implements domain.SkillStore. No fallback: an empty
// result is an empty slice. The score threshold is dropped so near-misses
// that lost the best-skill retrieval still come back as drafting context.
func (s *SQLStore) RetrieveRelatedSkills(ctx context.Context, query string, f domain.SkillFilter, limit int) ([]domain.Skill, error) {
	if limit <= 0 {
		limit = s.topK
	}

	hits, err := s.searchCandidates(ctx, query, f, limit, 0)
	if err != nil {
		return nil, err
	}

	skills := make([]domain.Skill, 0, len(hits))
	for _, hit := range hits {
		skill, err := s.GetSkill(ctx, skillIDFromHit(hit))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		skills = append(skills, *skill)
	}
	return skills, nil
}

// searchCandidates embeds the query and runs the scoped vector search. The
// tenant scope is widened with the global skill tenant so shared skills stay
// visible to every tenant.
func (s *SQLStore) searchCandidates(ctx context.Context, query string, f domain.SkillFilter, limit int, minScore float32) ([]domain.VectorHit, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapOp("SkillStore.search", err)
	}

	tenants := []string{f.TenantID}
	if f.TenantID != domain.GlobalSkillTenant {
		tenants = append(tenants, domain.GlobalSkillTenant)
	}

	hits, err := s.index.Search(ctx, vec, domain.VectorFilter{
		Type:      "skill",
		TenantIDs: tenants,
	}, limit, minScore)
	if err != nil {
		return nil, domain.WrapOp("SkillStore.search", err)
	}
	return hits, nil
}

// skillIDFromHit prefers the payload skill_id and falls back to the point id.
func skillIDFromHit(hit domain.VectorHit) string {
	if id := hit.Payload["skill_id"]; id != "" {
		return id
	}
	return hit.ID
}

// GetSkill implements domain.SkillStore.
func (s *SQLStore) GetSkill(ctx context.Context, id string) (*domain.Skill, error) {
	const query = `
		SELECT id, name, description, level, parent_id, prompt_template,
		       knowledge_base, code_logic, parameters_schema, tags,
		       success_count, failure_count, last_used, created_at
		FROM skills WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)

	var (
		skill         domain.Skill
		level         string
		knowledgeJSON string
		paramsJSON    string
		tagsJSON      string
		lastUsed      sql.NullString
		createdAt     string
	)
	err := row.Scan(&skill.ID, &skill.Name, &skill.Description, &level, &skill.ParentID,
		&skill.Content.PromptTemplate, &knowledgeJSON, &skill.Content.CodeLogic,
		&paramsJSON, &tagsJSON, &skill.Stats.SuccessCount, &skill.Stats.FailureCount,
		&lastUsed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SkillStore.GetSkill", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load skill: %v", domain.ErrSkillStore, err)
	}

	skill.Level = domain.SkillLevel(level)
	if err := json.Unmarshal([]byte(knowledgeJSON), &skill.Content.KnowledgeBase); err != nil {
		s.logger.Warn("skill store: bad knowledge base json", "skill_id", id, "error", err)
	}
	if paramsJSON != "" && paramsJSON != "{}" && paramsJSON != "null" {
		if err := json.Unmarshal([]byte(paramsJSON), &skill.Content.ParametersSchema); err != nil {
			s.logger.Warn("skill store: bad parameters schema json", "skill_id", id, "error", err)
		}
	}
	if err := json.Unmarshal([]byte(tagsJSON), &skill.Tags); err != nil {
		s.logger.Warn("skill store: bad tags json", "skill_id", id, "error", err)
	}
	if lastUsed.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastUsed.String); err == nil {
			skill.Stats.LastUsed = &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		skill.Stats.CreatedAt = t
	}

	return &skill, nil
}

// MarkSkillUsed implements domain.SkillStore. Marking an unpersisted skill
// (the built-in Meta default) is a no-op rather than an error.
func (s *SQLStore) MarkSkillUsed(ctx context.Context, id string, success bool) error {
	column := "failure_count"
	if success {
		column = "success_count"
	}
	query := fmt.Sprintf("UPDATE skills SET %s = %s + 1, last_used = ? WHERE id = ?", column, column)

	_, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("%w: mark used: %v", domain.ErrSkillStore, err)
	}
	return nil
}

// DeleteSkill implements domain.SkillStore. Administrative only.
func (s *SQLStore) DeleteSkill(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM skills WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: delete row: %v", domain.ErrSkillStore, err)
	}
	if err := s.index.Delete(ctx, []string{id}); err != nil {
		return fmt.Errorf("%w: delete vector: %v", domain.ErrSkillStore, err)
	}
	return nil
}

// ListSkills returns every skill in a tenant scope, newest first. Used by
// operator tooling, not the retrieval path.
func (s *SQLStore) ListSkills(ctx context.Context, tenantID string) ([]domain.Skill, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM skills WHERE tenant_id = ? ORDER BY created_at DESC", tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: list skills: %v", domain.ErrSkillStore, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan id: %v", domain.ErrSkillStore, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate: %v", domain.ErrSkillStore, err)
	}

	skills := make([]domain.Skill, 0, len(ids))
	for _, id := range ids {
		skill, err := s.GetSkill(ctx, id)
		if err != nil {
			return nil, err
		}
		skills = append(skills, *skill)
	}
	return skills, nil
}

// Compile-time interface check.
var _ domain.SkillStore = (*SQLStore)(nil)
