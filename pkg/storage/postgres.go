package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

// PostgresRepository implements Repository over a pooled pgx connection.
// Queries are hand-written SQL rather than generated by an ORM — an ORM's
// generated client requires running a code generator as part of the build,
// which this module avoids. pgx/v5's pgxpool and golang-migrate handle
// pooling and schema migration; only the query layer is plain SQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository runs embedded migrations then opens a pool against
// databaseURL.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse database url: %v", ErrStorageUnavailable, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Chunks ---

func (r *PostgresRepository) CreateChunk(ctx context.Context, draft models.ChunkDraft) (*models.Chunk, error) {
	if strings.TrimSpace(draft.Content) == "" {
		return nil, &ConflictError{Reason: "content must not be empty"}
	}

	id := uuid.NewString()
	const q = `
		INSERT INTO chunks (id, content, project_id, status, tags, source, trace_id)
		VALUES ($1, $2, $3, 'inbox', $4, $5, $6)
		RETURNING id, content, summary, project_id, status, tags, source, token_count, trace_id, created_at, updated_at`

	row := r.pool.QueryRow(ctx, q, id, draft.Content, draft.ProjectID, draft.Tags, draft.Source, draft.TraceID)
	return scanChunk(row)
}

func (r *PostgresRepository) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	const q = `
		SELECT id, content, summary, project_id, status, tags, source, token_count, trace_id, created_at, updated_at
		FROM chunks WHERE id = $1`
	row := r.pool.QueryRow(ctx, q, id)
	c, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "chunk", ID: id}
	}
	return c, err
}

func (r *PostgresRepository) UpdateChunk(ctx context.Context, id string, patch models.ChunkPatch) (*models.Chunk, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var current models.Chunk
	err = tx.QueryRow(ctx, `SELECT status FROM chunks WHERE id = $1 FOR UPDATE`, id).Scan(&current.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "chunk", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, &ConflictError{Reason: "unknown status: " + string(*patch.Status)}
		}
		if current.Status.Regresses(*patch.Status) {
			return nil, &ConflictError{Reason: "status regression: " + string(current.Status) + " -> " + string(*patch.Status)}
		}
	}

	const q = `
		UPDATE chunks SET
			summary     = COALESCE($2, summary),
			project_id  = COALESCE($3, project_id),
			status      = COALESCE($4, status),
			tags        = COALESCE($5, tags),
			source      = COALESCE($6, source),
			token_count = COALESCE($7, token_count),
			updated_at  = now()
		WHERE id = $1
		RETURNING id, content, summary, project_id, status, tags, source, token_count, trace_id, created_at, updated_at`

	var tags *[]string
	if patch.Tags != nil {
		tags = patch.Tags
	}

	row := tx.QueryRow(ctx, q, id, patch.Summary, patch.ProjectID, patch.Status, tags, patch.Source, patch.TokenCount)
	c, err := scanChunk(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return c, nil
}

func (r *PostgresRepository) ListChunks(ctx context.Context, filter models.ChunkFilter, limit, offset int) ([]*models.Chunk, int, error) {
	return r.queryChunks(ctx, filter, limit, offset)
}

func (r *PostgresRepository) SearchChunks(ctx context.Context, filter models.ChunkFilter, limit, offset int) ([]*models.Chunk, int, error) {
	return r.queryChunks(ctx, filter, limit, offset)
}

// queryChunks runs the filtered chunk query and returns the page alongside
// the total match count, obtained via COUNT(*) OVER() so both come back in
// a single round trip.
func (r *PostgresRepository) queryChunks(ctx context.Context, filter models.ChunkFilter, limit, offset int) ([]*models.Chunk, int, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != nil {
		conds = append(conds, "status = "+arg(*filter.Status))
	}
	if filter.ProjectID != nil {
		conds = append(conds, "project_id = "+arg(*filter.ProjectID))
	}
	if filter.CreatedAfter != nil {
		conds = append(conds, "created_at > "+arg(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		conds = append(conds, "created_at < "+arg(*filter.CreatedBefore))
	}
	if filter.Query != "" {
		p := arg("%" + strings.ToLower(filter.Query) + "%")
		conds = append(conds, "(lower(content) LIKE "+p+" OR lower(coalesce(summary, '')) LIKE "+p+")")
	}
	if filter.EntityType != nil || filter.EntityValue != nil {
		var entConds []string
		if filter.EntityType != nil {
			entConds = append(entConds, "type = "+arg(*filter.EntityType))
		}
		if filter.EntityValue != nil {
			entConds = append(entConds, "value = "+arg(*filter.EntityValue))
		}
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM entities WHERE entities.chunk_id = chunks.id AND %s)",
			strings.Join(entConds, " AND ")))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`
		SELECT id, content, summary, project_id, status, tags, source, token_count, trace_id, created_at, updated_at,
			count(*) OVER() AS total
		FROM chunks %s
		ORDER BY created_at DESC, id DESC
		LIMIT %s OFFSET %s`, where, arg(limit), arg(offset))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*models.Chunk
	var total int
	for rows.Next() {
		c, tot, err := scanChunkWithTotal(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
		total = tot
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *PostgresRepository) GetAllContent(ctx context.Context, projectID string, statuses []models.ChunkStatus) ([]*models.Chunk, error) {
	const q = `
		SELECT id, content, summary, project_id, status, tags, source, token_count, trace_id, created_at, updated_at
		FROM chunks
		WHERE project_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY created_at ASC`

	var statusArg any
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, s := range statuses {
			strs[i] = string(s)
		}
		statusArg = strs
	}

	rows, err := r.pool.Query(ctx, q, projectID, statusArg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, projectID string) (map[models.ChunkStatus]int, error) {
	const q = `SELECT status, count(*) FROM chunks WHERE project_id = $1 GROUP BY status`
	rows, err := r.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	counts := make(map[models.ChunkStatus]int)
	for rows.Next() {
		var status models.ChunkStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepository) OldestInbox(ctx context.Context) (*models.Chunk, error) {
	const q = `
		SELECT id, content, summary, project_id, status, tags, source, token_count, trace_id, created_at, updated_at
		FROM chunks WHERE status = 'inbox' ORDER BY created_at ASC LIMIT 1`
	row := r.pool.QueryRow(ctx, q)
	c, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "chunk", ID: "<oldest inbox>"}
	}
	return c, err
}

// --- Projects ---

func (r *PostgresRepository) CreateProject(ctx context.Context, draft models.ProjectDraft) (*models.Project, error) {
	if strings.TrimSpace(draft.Name) == "" {
		return nil, &ConflictError{Reason: "name must not be empty"}
	}
	if len(draft.Name) > models.MaxNameLength {
		return nil, &ConflictError{Reason: "name exceeds max length"}
	}

	id := uuid.NewString()
	const q = `
		INSERT INTO projects (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, context_summary, compaction_depth, last_compaction_at, created_at, updated_at`
	row := r.pool.QueryRow(ctx, q, id, draft.Name, draft.Description)
	return scanProject(row)
}

func (r *PostgresRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	const q = `
		SELECT id, name, description, context_summary, compaction_depth, last_compaction_at, created_at, updated_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, q, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "project", ID: id}
	}
	return p, err
}

func (r *PostgresRepository) UpdateProject(ctx context.Context, id string, patch models.ProjectPatch) (*models.Project, error) {
	const q = `
		UPDATE projects SET
			name            = COALESCE($2, name),
			description     = COALESCE($3, description),
			context_summary = COALESCE($4, context_summary),
			updated_at      = now()
		WHERE id = $1
		RETURNING id, name, description, context_summary, compaction_depth, last_compaction_at, created_at, updated_at`
	row := r.pool.QueryRow(ctx, q, id, patch.Name, patch.Description, patch.ContextSummary)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "project", ID: id}
	}
	return p, err
}

func (r *PostgresRepository) ListProjects(ctx context.Context, limit, offset int) ([]*models.Project, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, name, description, context_summary, compaction_depth, last_compaction_at, created_at, updated_at
		FROM projects ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApplyCompaction commits a completed reduce pass in a single transaction:
// the project's new context_summary and compaction_depth/
// last_compaction_at bump, plus every chunk in chunkIDs transitioning to
// compacted. Satisfies storage.CompactionApplier; mirrors the
// ApplyChunkMutations pattern so a partial failure never leaves the
// project advanced while chunks remain at processed (spec.md §9).
func (r *PostgresRepository) ApplyCompaction(ctx context.Context, projectID, summary string, at time.Time, chunkIDs []string) (*models.Project, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	const projectQ = `
		UPDATE projects SET
			context_summary    = $2,
			compaction_depth   = compaction_depth + 1,
			last_compaction_at = $3,
			updated_at         = $3
		WHERE id = $1
		RETURNING id, name, description, context_summary, compaction_depth, last_compaction_at, created_at, updated_at`
	row := tx.QueryRow(ctx, projectQ, projectID, summary, at)
	project, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "project", ID: projectID}
	}
	if err != nil {
		return nil, err
	}

	const chunkQ = `UPDATE chunks SET status = $2, updated_at = $3 WHERE id = $1`
	for _, id := range chunkIDs {
		tag, err := tx.Exec(ctx, chunkQ, id, models.ChunkStatusCompacted, at)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, &NotFoundError{Kind: "chunk", ID: id}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return project, nil
}

// --- Entities ---

func (r *PostgresRepository) BulkCreateEntities(ctx context.Context, drafts []models.EntityDraft) ([]*models.Entity, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	out := make([]*models.Entity, 0, len(drafts))
	const q = `
		INSERT INTO entities (id, chunk_id, project_id, type, value, context, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, chunk_id, project_id, type, value, context, confidence, created_at`

	for _, d := range drafts {
		row := tx.QueryRow(ctx, q, uuid.NewString(), d.ChunkID, d.ProjectID, d.Type, d.Value, d.Context, d.Confidence)
		e, err := scanEntity(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

func (r *PostgresRepository) ListEntitiesByProject(ctx context.Context, projectID string, filter models.EntityFilter, limit, offset int) ([]*models.Entity, error) {
	conds := []string{"project_id = $1"}
	args := []any{projectID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Type != nil {
		conds = append(conds, "type = "+arg(*filter.Type))
	}
	if filter.MinConfidence != nil {
		conds = append(conds, "confidence >= "+arg(*filter.MinConfidence))
	}
	if filter.Since != nil {
		conds = append(conds, "created_at >= "+arg(*filter.Since))
	}

	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`
		SELECT id, chunk_id, project_id, type, value, context, confidence, created_at
		FROM entities WHERE %s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`, strings.Join(conds, " AND "), arg(limit), arg(offset))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Bulk actions ---

func (r *PostgresRepository) RecordBulkAction(ctx context.Context, action models.BulkAction) (*models.BulkAction, error) {
	id := action.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
		INSERT INTO bulk_actions (id, action_type, affected_ids, affected_count)
		VALUES ($1, $2, $3, $4)
		RETURNING id, action_type, affected_ids, affected_count, undone, created_at`
	row := r.pool.QueryRow(ctx, q, id, action.ActionType, action.AffectedIDs, action.AffectedCount)

	var a models.BulkAction
	if err := row.Scan(&a.ID, &a.ActionType, &a.AffectedIDs, &a.AffectedCount, &a.Undone, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	a.FilterUsed = action.FilterUsed
	a.PreviousState = action.PreviousState
	return &a, nil
}

func (r *PostgresRepository) GetBulkAction(ctx context.Context, id string) (*models.BulkAction, error) {
	const q = `SELECT id, action_type, affected_ids, affected_count, undone, created_at FROM bulk_actions WHERE id = $1`
	row := r.pool.QueryRow(ctx, q, id)

	var a models.BulkAction
	err := row.Scan(&a.ID, &a.ActionType, &a.AffectedIDs, &a.AffectedCount, &a.Undone, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "bulk_action", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &a, nil
}

func (r *PostgresRepository) MarkBulkActionUndone(ctx context.Context, id string) error {
	const q = `UPDATE bulk_actions SET undone = true WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "bulk_action", ID: id}
	}
	return nil
}

func (r *PostgresRepository) ApplyChunkMutations(ctx context.Context, mutations []ChunkMutation) error {
	if len(mutations) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE chunks SET status = $2, tags = $3, updated_at = now() WHERE id = $1`
	for _, m := range mutations {
		tag, err := tx.Exec(ctx, q, m.ChunkID, m.Status, m.Tags)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if tag.RowsAffected() == 0 {
			return &NotFoundError{Kind: "chunk", ID: m.ChunkID}
		}
	}
	return tx.Commit(ctx)
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var c models.Chunk
	if err := row.Scan(&c.ID, &c.Content, &c.Summary, &c.ProjectID, &c.Status, &c.Tags, &c.Source, &c.TokenCount, &c.TraceID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &c, nil
}

func scanChunkWithTotal(row rowScanner) (*models.Chunk, int, error) {
	var c models.Chunk
	var total int
	if err := row.Scan(&c.ID, &c.Content, &c.Summary, &c.ProjectID, &c.Status, &c.Tags, &c.Source, &c.TokenCount, &c.TraceID, &c.CreatedAt, &c.UpdatedAt, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &c, total, nil
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ContextSummary, &p.CompactionDepth, &p.LastCompactionAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &p, nil
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	if err := row.Scan(&e.ID, &e.ChunkID, &e.ProjectID, &e.Type, &e.Value, &e.Context, &e.Confidence, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &e, nil
}
