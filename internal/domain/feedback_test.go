package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFeedbackRepo struct {
	byKey      map[string]Feedback
	created    []Feedback
	findErr    error
	createErr  error
	listLimit  int
	staleFinds int
	finds      int
}

func (m *mockFeedbackRepo) FindByIdempotency(_ context.Context, key string) (*Feedback, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.finds++
	if m.finds <= m.staleFinds {
		return nil, nil
	}
	if fb, ok := m.byKey[key]; ok {
		return &fb, nil
	}
	return nil, nil
}

func (m *mockFeedbackRepo) Create(_ context.Context, fb Feedback, key string) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.byKey[key]; key != "" && exists {
		return ErrDuplicateIdempotencyKey
	}
	m.created = append(m.created, fb)
	if key != "" {
		if m.byKey == nil {
			m.byKey = map[string]Feedback{}
		}
		m.byKey[key] = fb
	}
	return nil
}

func (m *mockFeedbackRepo) Get(_ context.Context, id string) (*Feedback, error) {
	for _, fb := range m.created {
		if fb.ID == id {
			return &fb, nil
		}
	}
	return nil, nil
}

func (m *mockFeedbackRepo) List(_ context.Context, _ *Cursor, limit int) ([]Feedback, *Cursor, error) {
	m.listLimit = limit
	return m.created, nil, nil
}

func TestSubmitFeedback(t *testing.T) {
	repo := &mockFeedbackRepo{}
	svc := NewFeedbackService(repo)
	now := time.Date(2025, time.May, 4, 10, 0, 0, 0, time.FixedZone("X", 3600))
	svc.now = func() time.Time { return now }

	fb, replay, err := svc.Submit(context.Background(), SubmitFeedbackInput{
		Name:    "  Ada ",
		Email:   "ada@example.com",
		Message: "  Love the SIP calculator.  ",
	})
	require.NoError(t, err)
	assert.False(t, replay)
	assert.NotEmpty(t, fb.ID)
	assert.Equal(t, "Ada", fb.Name)
	assert.Equal(t, "Love the SIP calculator.", fb.Message)
	assert.Equal(t, "web", fb.Source)
	assert.Equal(t, now.UTC(), fb.CreatedAt)
	require.Len(t, repo.created, 1)
}

func TestSubmitFeedbackIdempotentReplay(t *testing.T) {
	repo := &mockFeedbackRepo{}
	svc := NewFeedbackService(repo)
	input := SubmitFeedbackInput{Message: "hello", IdempotencyKey: "key-1"}

	first, replay, err := svc.Submit(context.Background(), input)
	require.NoError(t, err)
	require.False(t, replay)

	second, replay, err := svc.Submit(context.Background(), input)
	require.NoError(t, err)
	require.True(t, replay)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.created, 1)
}

func TestSubmitFeedbackLosesIdempotencyRace(t *testing.T) {
	winner := Feedback{ID: "fb-winner", Message: "first", Source: "web"}
	repo := &mockFeedbackRepo{
		byKey:      map[string]Feedback{"key-1": winner},
		created:    []Feedback{winner},
		staleFinds: 1,
	}
	svc := NewFeedbackService(repo)

	fb, replay, err := svc.Submit(context.Background(), SubmitFeedbackInput{
		Message:        "second",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, "fb-winner", fb.ID)
	assert.Equal(t, 2, repo.finds)
	assert.Len(t, repo.created, 1)
}

func TestSubmitFeedbackDuplicateWithoutKeyIsReturned(t *testing.T) {
	repo := &mockFeedbackRepo{createErr: ErrDuplicateIdempotencyKey}
	svc := NewFeedbackService(repo)

	_, _, err := svc.Submit(context.Background(), SubmitFeedbackInput{Message: "hello"})
	require.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
}

func TestSubmitFeedbackValidation(t *testing.T) {
	svc := NewFeedbackService(&mockFeedbackRepo{})

	cases := map[string]SubmitFeedbackInput{
		"empty message": {Message: "   "},
		"long message":  {Message: strings.Repeat("é", MaxFeedbackMessage+1)},
		"long name":     {Name: strings.Repeat("n", 201), Message: "hi"},
		"long source":   {Source: strings.Repeat("s", 65), Message: "hi"},
		"bad email":     {Email: "not-an-email", Message: "hi"},
		"display email": {Email: "Ada <ada@example.com>", Message: "hi"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.Submit(context.Background(), input)
			require.ErrorIs(t, err, ErrInvalidFeedback)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
		})
	}

	_, _, err := svc.Submit(context.Background(), SubmitFeedbackInput{Message: strings.Repeat("é", MaxFeedbackMessage)})
	require.NoError(t, err)
}

func TestSubmitFeedbackRepositoryErrors(t *testing.T) {
	boom := errors.New("boom")

	svc := NewFeedbackService(&mockFeedbackRepo{findErr: boom})
	_, _, err := svc.Submit(context.Background(), SubmitFeedbackInput{Message: "hi", IdempotencyKey: "k"})
	require.ErrorIs(t, err, boom)

	svc = NewFeedbackService(&mockFeedbackRepo{createErr: boom})
	_, _, err = svc.Submit(context.Background(), SubmitFeedbackInput{Message: "hi"})
	require.ErrorIs(t, err, boom)
}

func TestGetFeedbackNotFound(t *testing.T) {
	svc := NewFeedbackService(&mockFeedbackRepo{})
	_, err := svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestListFeedbackClampsLimit(t *testing.T) {
	repo := &mockFeedbackRepo{}
	svc := NewFeedbackService(repo)

	_, _, err := svc.List(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, repo.listLimit)

	_, _, err = svc.List(context.Background(), nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, repo.listLimit)

	_, _, err = svc.List(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, repo.listLimit)
}
