package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/auth"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/domain"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/persistence"
)

func (h *Handler) feedbackCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submitFeedback(w, r)
	case http.MethodGet:
		h.listFeedback(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) feedbackByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/feedback/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing feedback id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getFeedback(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req SubmitFeedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeBodyError(w, err)
		return
	}

	feedback, replay, err := h.feedback.Submit(r.Context(), domain.SubmitFeedbackInput{
		Name:           req.Name,
		Email:          req.Email,
		Message:        req.Message,
		Source:         req.Source,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidFeedback) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		h.serverError(w, err)
		return
	}

	status := http.StatusAccepted
	if replay {
		status = http.StatusOK
	}
	writeJSON(w, status, SubmitFeedbackResponse{FeedbackID: feedback.ID, Replay: replay})
}

func (h *Handler) getFeedback(w http.ResponseWriter, r *http.Request, id string) {
	if !requireScope(w, r, auth.ScopeFeedbackRead) {
		return
	}

	feedback, err := h.feedback.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrFeedbackNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "feedback not found")
			return
		}
		h.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedbackView(*feedback))
}

func (h *Handler) listFeedback(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeFeedbackRead) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	entries, next, err := h.feedback.List(r.Context(), cursor, limit)
	if err != nil {
		h.serverError(w, err)
		return
	}

	items := make([]FeedbackView, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toFeedbackView(entry))
	}
	writeJSON(w, http.StatusOK, ListFeedbackResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return false
	}
	return true
}

// SubmitFeedbackRequest is the payload for POST /v1/feedback.
type SubmitFeedbackRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

// SubmitFeedbackResponse describes the response body for submit.
type SubmitFeedbackResponse struct {
	FeedbackID string `json:"feedback_id"`
	Replay     bool   `json:"idempotent_replay"`
}

// FeedbackView exposes a stored feedback entry to operators.
type FeedbackView struct {
	FeedbackID string    `json:"feedback_id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Message    string    `json:"message"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListFeedbackResponse packages list results.
type ListFeedbackResponse struct {
	Items      []FeedbackView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toFeedbackView(f domain.Feedback) FeedbackView {
	return FeedbackView{
		FeedbackID: f.ID,
		Name:       f.Name,
		Email:      f.Email,
		Message:    f.Message,
		Source:     f.Source,
		CreatedAt:  f.CreatedAt,
	}
}
