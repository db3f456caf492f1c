package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/domain"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/observability"
)

// InMemoryRepository stores feedback in memory for local development.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.Feedback
	byKey   map[string]string
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string]domain.Feedback),
		byKey:   make(map[string]string),
	}
}

// FindByIdempotency implements domain.FeedbackRepository.
func (r *InMemoryRepository) FindByIdempotency(ctx context.Context, idempotencyKey string) (*domain.Feedback, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[idempotencyKey]
	if !ok {
		return nil, nil
	}
	feedback := r.entries[id]
	return &feedback, nil
}

// Create implements domain.FeedbackRepository. A key that is already stored yields
// domain.ErrDuplicateIdempotencyKey and nothing is written.
func (r *InMemoryRepository) Create(ctx context.Context, feedback domain.Feedback, idempotencyKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idempotencyKey != "" {
		if _, exists := r.byKey[idempotencyKey]; exists {
			return domain.ErrDuplicateIdempotencyKey
		}
		r.byKey[idempotencyKey] = feedback.ID
	}
	r.entries[feedback.ID] = feedback
	observability.RecordFeedbackPersisted(feedback.CreatedAt)
	return nil
}

// Get returns the entry by ID, or nil when absent.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*domain.Feedback, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feedback, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	return &feedback, nil
}

// List returns entries ordered by created_at DESC, id DESC, starting after cursor.
func (r *InMemoryRepository) List(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.Feedback, *domain.Cursor, error) {
	if limit <= 0 {
		return []domain.Feedback{}, nil, nil
	}
	r.mu.RLock()
	all := make([]domain.Feedback, 0, len(r.entries))
	for _, feedback := range r.entries {
		all = append(all, feedback)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	results := make([]domain.Feedback, 0, limit)
	for _, feedback := range all {
		if cursor != nil && !before(feedback, cursor) {
			continue
		}
		results = append(results, feedback)
		if len(results) == limit+1 {
			break
		}
	}

	var next *domain.Cursor
	if len(results) > limit {
		last := results[limit-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		results = results[:limit]
	}
	return results, next, nil
}

// before reports whether feedback sorts after the cursor position in descending order.
func before(feedback domain.Feedback, cursor *domain.Cursor) bool {
	if feedback.CreatedAt.Equal(cursor.CreatedAt) {
		return feedback.ID < cursor.ID
	}
	return feedback.CreatedAt.Before(cursor.CreatedAt)
}
