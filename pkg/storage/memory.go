package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

// MemoryRepository is an in-process Repository implementation backed by
// plain maps under a single mutex. It exists for tests and for exercising
// pkg/capture, pkg/compactor, and pkg/bulkops without a Postgres instance —
// an in-memory fake over a mocked interface.
type MemoryRepository struct {
	mu sync.Mutex

	chunks      map[string]*models.Chunk
	projects    map[string]*models.Project
	entities    map[string][]*models.Entity // keyed by projectID
	bulkActions map[string]*models.BulkAction
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		chunks:      make(map[string]*models.Chunk),
		projects:    make(map[string]*models.Project),
		entities:    make(map[string][]*models.Entity),
		bulkActions: make(map[string]*models.BulkAction),
	}
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }
func (r *MemoryRepository) Close() error                   { return nil }

// --- Chunks ---

func (r *MemoryRepository) CreateChunk(ctx context.Context, draft models.ChunkDraft) (*models.Chunk, error) {
	if strings.TrimSpace(draft.Content) == "" {
		return nil, &ConflictError{Reason: "content must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	c := &models.Chunk{
		ID:        uuid.NewString(),
		Content:   draft.Content,
		ProjectID: draft.ProjectID,
		Status:    models.ChunkStatusInbox,
		Tags:      append([]string(nil), draft.Tags...),
		Source:    draft.Source,
		TraceID:   draft.TraceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.chunks[c.ID] = c
	return cloneChunk(c), nil
}

func (r *MemoryRepository) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chunks[id]
	if !ok {
		return nil, &NotFoundError{Kind: "chunk", ID: id}
	}
	return cloneChunk(c), nil
}

func (r *MemoryRepository) UpdateChunk(ctx context.Context, id string, patch models.ChunkPatch) (*models.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chunks[id]
	if !ok {
		return nil, &NotFoundError{Kind: "chunk", ID: id}
	}

	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, &ConflictError{Reason: "unknown status: " + string(*patch.Status)}
		}
		if c.Status.Regresses(*patch.Status) {
			return nil, &ConflictError{Reason: "status regression: " + string(c.Status) + " -> " + string(*patch.Status)}
		}
		c.Status = *patch.Status
	}
	if patch.Summary != nil {
		c.Summary = patch.Summary
	}
	if patch.ProjectID != nil {
		c.ProjectID = patch.ProjectID
	}
	if patch.Tags != nil {
		c.Tags = append([]string(nil), (*patch.Tags)...)
	}
	if patch.Source != nil {
		c.Source = patch.Source
	}
	if patch.TokenCount != nil {
		c.TokenCount = patch.TokenCount
	}
	c.UpdatedAt = time.Now()

	return cloneChunk(c), nil
}

func (r *MemoryRepository) ListChunks(ctx context.Context, filter models.ChunkFilter, limit, offset int) ([]*models.Chunk, int, error) {
	return r.filteredChunks(filter, limit, offset)
}

func (r *MemoryRepository) SearchChunks(ctx context.Context, filter models.ChunkFilter, limit, offset int) ([]*models.Chunk, int, error) {
	return r.filteredChunks(filter, limit, offset)
}

func (r *MemoryRepository) filteredChunks(filter models.ChunkFilter, limit, offset int) ([]*models.Chunk, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.Chunk
	for _, c := range r.chunks {
		if !chunkMatches(c, filter) {
			continue
		}
		if filter.EntityType != nil || filter.EntityValue != nil {
			if !r.chunkHasMatchingEntityLocked(c, filter) {
				continue
			}
		}
		matched = append(matched, c)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)

	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*models.Chunk, len(matched))
	for i, c := range matched {
		out[i] = cloneChunk(c)
	}
	return out, total, nil
}

// chunkHasMatchingEntityLocked reports whether chunk c has at least one
// entity satisfying filter's entity predicates. Existence alone decides
// inclusion, so a chunk with several matching entities still appears once.
// Callers must hold r.mu.
func (r *MemoryRepository) chunkHasMatchingEntityLocked(c *models.Chunk, f models.ChunkFilter) bool {
	buckets := r.entities
	if c.ProjectID != nil {
		buckets = map[string][]*models.Entity{*c.ProjectID: r.entities[*c.ProjectID]}
	}
	for _, entities := range buckets {
		for _, e := range entities {
			if e.ChunkID != c.ID {
				continue
			}
			if f.EntityType != nil && e.Type != *f.EntityType {
				continue
			}
			if f.EntityValue != nil && e.Value != *f.EntityValue {
				continue
			}
			return true
		}
	}
	return false
}

func chunkMatches(c *models.Chunk, f models.ChunkFilter) bool {
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.ProjectID != nil && (c.ProjectID == nil || *c.ProjectID != *f.ProjectID) {
		return false
	}
	if f.CreatedAfter != nil && c.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && c.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		hay := strings.ToLower(c.Content)
		if c.Summary != nil {
			hay += " " + strings.ToLower(*c.Summary)
		}
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

func (r *MemoryRepository) GetAllContent(ctx context.Context, projectID string, statuses []models.ChunkStatus) ([]*models.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := make(map[models.ChunkStatus]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}

	var matched []*models.Chunk
	for _, c := range r.chunks {
		if c.ProjectID == nil || *c.ProjectID != projectID {
			continue
		}
		if len(allowed) > 0 && !allowed[c.Status] {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	out := make([]*models.Chunk, len(matched))
	for i, c := range matched {
		out[i] = cloneChunk(c)
	}
	return out, nil
}

func (r *MemoryRepository) CountByStatus(ctx context.Context, projectID string) (map[models.ChunkStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[models.ChunkStatus]int)
	for _, c := range r.chunks {
		if c.ProjectID == nil || *c.ProjectID != projectID {
			continue
		}
		counts[c.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) OldestInbox(ctx context.Context) (*models.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *models.Chunk
	for _, c := range r.chunks {
		if c.Status != models.ChunkStatusInbox {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, &NotFoundError{Kind: "chunk", ID: "<oldest inbox>"}
	}
	return cloneChunk(oldest), nil
}

// --- Projects ---

func (r *MemoryRepository) CreateProject(ctx context.Context, draft models.ProjectDraft) (*models.Project, error) {
	if strings.TrimSpace(draft.Name) == "" {
		return nil, &ConflictError{Reason: "name must not be empty"}
	}
	if len(draft.Name) > models.MaxNameLength {
		return nil, &ConflictError{Reason: "name exceeds max length"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	p := &models.Project{
		ID:          uuid.NewString(),
		Name:        draft.Name,
		Description: draft.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.projects[p.ID] = p
	return cloneProject(p), nil
}

func (r *MemoryRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return nil, &NotFoundError{Kind: "project", ID: id}
	}
	return cloneProject(p), nil
}

func (r *MemoryRepository) UpdateProject(ctx context.Context, id string, patch models.ProjectPatch) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return nil, &NotFoundError{Kind: "project", ID: id}
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.ContextSummary != nil {
		p.ContextSummary = patch.ContextSummary
	}
	p.UpdatedAt = time.Now()
	return cloneProject(p), nil
}

func (r *MemoryRepository) ListProjects(ctx context.Context, limit, offset int) ([]*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*models.Project
	for _, p := range r.projects {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]*models.Project, len(all))
	for i, p := range all {
		out[i] = cloneProject(p)
	}
	return out, nil
}

// ApplyCompaction commits a completed reduce pass in one lock acquisition:
// the project's new rolling summary plus its CompactionDepth/
// LastCompactionAt bump, and every chunk in chunkIDs transitioning to
// compacted. Satisfies CompactionApplier; a single mutex makes this
// trivially atomic in-process, the same guarantee the pgx transaction
// gives PostgresRepository.
func (r *MemoryRepository) ApplyCompaction(ctx context.Context, projectID, summary string, at time.Time, chunkIDs []string) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[projectID]
	if !ok {
		return nil, &NotFoundError{Kind: "project", ID: projectID}
	}
	for _, id := range chunkIDs {
		if _, ok := r.chunks[id]; !ok {
			return nil, &NotFoundError{Kind: "chunk", ID: id}
		}
	}

	p.ContextSummary = &summary
	p.CompactionDepth++
	p.LastCompactionAt = &at
	p.UpdatedAt = at

	for _, id := range chunkIDs {
		r.chunks[id].Status = models.ChunkStatusCompacted
		r.chunks[id].UpdatedAt = at
	}

	return cloneProject(p), nil
}

// --- Entities ---

func (r *MemoryRepository) BulkCreateEntities(ctx context.Context, drafts []models.EntityDraft) ([]*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]*models.Entity, 0, len(drafts))
	for _, d := range drafts {
		e := &models.Entity{
			ID:         uuid.NewString(),
			ChunkID:    d.ChunkID,
			ProjectID:  d.ProjectID,
			Type:       d.Type,
			Value:      d.Value,
			Context:    d.Context,
			Confidence: d.Confidence,
			CreatedAt:  now,
		}
		r.entities[d.ProjectID] = append(r.entities[d.ProjectID], e)
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepository) ListEntitiesByProject(ctx context.Context, projectID string, filter models.EntityFilter, limit, offset int) ([]*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.Entity
	for _, e := range r.entities[projectID] {
		if filter.Type != nil && e.Type != *filter.Type {
			continue
		}
		if filter.MinConfidence != nil && e.Confidence < *filter.MinConfidence {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// --- Bulk actions ---

func (r *MemoryRepository) RecordBulkAction(ctx context.Context, action models.BulkAction) (*models.BulkAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := action
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.bulkActions[a.ID] = &a
	return &a, nil
}

func (r *MemoryRepository) GetBulkAction(ctx context.Context, id string) (*models.BulkAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.bulkActions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "bulk_action", ID: id}
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) MarkBulkActionUndone(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.bulkActions[id]
	if !ok {
		return &NotFoundError{Kind: "bulk_action", ID: id}
	}
	a.Undone = true
	return nil
}

func (r *MemoryRepository) ApplyChunkMutations(ctx context.Context, mutations []ChunkMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range mutations {
		c, ok := r.chunks[m.ChunkID]
		if !ok {
			return &NotFoundError{Kind: "chunk", ID: m.ChunkID}
		}
		c.Status = m.Status
		c.Tags = append([]string(nil), m.Tags...)
		c.UpdatedAt = time.Now()
	}
	return nil
}

func cloneChunk(c *models.Chunk) *models.Chunk {
	cp := *c
	cp.Tags = append([]string(nil), c.Tags...)
	return &cp
}

func cloneProject(p *models.Project) *models.Project {
	cp := *p
	return &cp
}
