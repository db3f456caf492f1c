package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/domain"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/events"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/observability"
)

const feedbackColumns = `feedback_id::text, name, email, message, source, created_at`

const (
	uniqueViolation          = "23505"
	idempotencyKeyConstraint = "feedback_idempotency_key_key"
)

// Repository provides Postgres-backed persistence for feedback and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByIdempotency checks if feedback already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, idempotencyKey string) (*domain.Feedback, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE idempotency_key=$1`, idempotencyKey)
	return scanOne(row)
}

// Create persists the feedback and records its outbox event inside a single transaction.
func (r *Repository) Create(ctx context.Context, feedback domain.Feedback, idempotencyKey string) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO feedback (feedback_id, name, email, message, source, idempotency_key, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		feedback.ID,
		feedback.Name,
		feedback.Email,
		feedback.Message,
		feedback.Source,
		nullIfEmpty(idempotencyKey),
		feedback.CreatedAt,
	)
	if err != nil {
		if isIdempotencyConflict(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, idempotencyKey)
		}
		return err
	}

	if err = r.insertOutbox(ctx, tx, feedback, events.FeedbackSubmittedType, events.FeedbackSubmitted{
		FeedbackID:    feedback.ID,
		Source:        feedback.Source,
		HasEmail:      feedback.Email != "",
		MessageLength: utf8.RuneCountInString(feedback.Message),
		SubmittedAt:   feedback.CreatedAt,
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordFeedbackPersisted(feedback.CreatedAt)
	return nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, feedback domain.Feedback, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		"feedback",
		feedback.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(feedback),
		body,
		fmt.Sprintf("%s:%s", feedback.ID, eventType),
	)
	return err
}

// Get retrieves feedback by ID. A missing row yields nil, nil.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Feedback, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE feedback_id::text=$1`, id)
	return scanOne(row)
}

// List returns feedback ordered newest first.
func (r *Repository) List(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.Feedback, *domain.Cursor, error) {
	args := []any{limit + 1}
	query := `SELECT ` + feedbackColumns + ` FROM feedback`
	if cursor != nil {
		query += ` WHERE (created_at, feedback_id::text) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, feedback_id::text DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Feedback, 0, limit)
	for rows.Next() {
		var fb domain.Feedback
		if err := rows.Scan(&fb.ID, &fb.Name, &fb.Email, &fb.Message, &fb.Source, &fb.CreatedAt); err != nil {
			return nil, nil, err
		}
		results = append(results, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) > limit {
		results = results[:limit]
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

func scanOne(row pgx.Row) (*domain.Feedback, error) {
	var fb domain.Feedback
	if err := row.Scan(&fb.ID, &fb.Name, &fb.Email, &fb.Message, &fb.Source, &fb.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &fb, nil
}

func isIdempotencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyKeyConstraint
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.Feedback) string
}

var eventCatalog = map[string]EventMetadata{
	events.FeedbackSubmittedType: {
		Topic:         "feedback_events",
		SchemaSubject: "feedback_events-value",
		PartitionKeyFn: func(f domain.Feedback) string {
			return f.ID
		},
	},
}
