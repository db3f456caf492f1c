package domain

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxFeedbackMessage bounds the message length in characters.
	MaxFeedbackMessage = 5000
	maxFeedbackName    = 200
	maxFeedbackSource  = 64

	defaultFeedbackSource = "web"
	defaultListLimit      = 20
	maxListLimit          = 100
)

// Feedback is a message left through the contact form.
type Feedback struct {
	ID        string
	Name      string
	Email     string
	Message   string
	Source    string
	CreatedAt time.Time
}

// Cursor models the pagination token.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// FeedbackRepository captures persistence operations.
type FeedbackRepository interface {
	FindByIdempotency(ctx context.Context, idempotencyKey string) (*Feedback, error)
	Create(ctx context.Context, feedback Feedback, idempotencyKey string) error
	Get(ctx context.Context, id string) (*Feedback, error)
	List(ctx context.Context, cursor *Cursor, limit int) ([]Feedback, *Cursor, error)
}

// SubmitFeedbackInput captures the payload from the API layer.
type SubmitFeedbackInput struct {
	Name           string
	Email          string
	Message        string
	Source         string
	IdempotencyKey string
}

// FeedbackService orchestrates feedback workflows.
type FeedbackService struct {
	repo FeedbackRepository
	now  func() time.Time
}

// NewFeedbackService constructs a FeedbackService.
func NewFeedbackService(repo FeedbackRepository) *FeedbackService {
	return &FeedbackService{repo: repo, now: time.Now}
}

// Submit validates and stores feedback. A repeated idempotency key returns the stored
// entry with replay set.
func (s *FeedbackService) Submit(ctx context.Context, input SubmitFeedbackInput) (*Feedback, bool, error) {
	feedback, err := normalizeFeedback(input)
	if err != nil {
		return nil, false, err
	}

	if input.IdempotencyKey != "" {
		existing, err := s.repo.FindByIdempotency(ctx, input.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	feedback.ID = uuid.NewString()
	feedback.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	if err := s.repo.Create(ctx, feedback, input.IdempotencyKey); err != nil {
		if input.IdempotencyKey == "" || !errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil, false, err
		}
		// A concurrent submission with the same key won the insert.
		existing, findErr := s.repo.FindByIdempotency(ctx, input.IdempotencyKey)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing == nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	return &feedback, false, nil
}

// Get fetches by ID.
func (s *FeedbackService) Get(ctx context.Context, id string) (*Feedback, error) {
	feedback, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if feedback == nil {
		return nil, ErrFeedbackNotFound
	}
	return feedback, nil
}

// List returns feedback newest first with cursor pagination.
func (s *FeedbackService) List(ctx context.Context, cursor *Cursor, limit int) ([]Feedback, *Cursor, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.repo.List(ctx, cursor, limit)
}

func normalizeFeedback(input SubmitFeedbackInput) (Feedback, error) {
	feedback := Feedback{
		Name:    strings.TrimSpace(input.Name),
		Email:   strings.TrimSpace(input.Email),
		Message: strings.TrimSpace(input.Message),
		Source:  strings.TrimSpace(input.Source),
	}
	if feedback.Message == "" {
		return Feedback{}, &ValidationError{Field: "message", Reason: "is required"}
	}
	if utf8.RuneCountInString(feedback.Message) > MaxFeedbackMessage {
		return Feedback{}, &ValidationError{Field: "message", Reason: "is too long"}
	}
	if utf8.RuneCountInString(feedback.Name) > maxFeedbackName {
		return Feedback{}, &ValidationError{Field: "name", Reason: "is too long"}
	}
	if utf8.RuneCountInString(feedback.Source) > maxFeedbackSource {
		return Feedback{}, &ValidationError{Field: "source", Reason: "is too long"}
	}
	if feedback.Email != "" {
		addr, err := mail.ParseAddress(feedback.Email)
		if err != nil || addr.Address != feedback.Email {
			return Feedback{}, &ValidationError{Field: "email", Reason: "is not a valid address"}
		}
	}
	if feedback.Source == "" {
		feedback.Source = defaultFeedbackSource
	}
	return feedback, nil
}
