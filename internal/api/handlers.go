// Package api exposes HTTP handlers for the calculator backend.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/backup"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/catalog"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/domain"
)

// maxBodyBytes caps request bodies. Backup files and share payloads are small.
const maxBodyBytes = 1 << 20

// ToolIndex is the read side of the calculator registry.
type ToolIndex interface {
	Lookup(slug string) (catalog.Tool, error)
	Grouped(term string) []catalog.Group
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	shares   *domain.ShareService
	feedback *domain.FeedbackService
	tools    ToolIndex
	logger   *zap.Logger
}

// Option customises the Handler.
type Option func(*Handler)

// WithLogger sets the logger used for unexpected failures.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(shares *domain.ShareService, feedback *domain.FeedbackService, tools ToolIndex, opts ...Option) *Handler {
	h := &Handler{shares: shares, feedback: feedback, tools: tools, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/v1/tools", h.listTools)
	mux.HandleFunc("/v1/tools/", h.toolBySlug)
	mux.HandleFunc("/v1/shares", h.createShare)
	mux.HandleFunc("/v1/backup", h.restoreLink)
	mux.HandleFunc("/v1/backups/download", h.downloadBackup)
	mux.HandleFunc("/v1/backups/restore", h.restoreFile)
	mux.HandleFunc("/v1/feedback", h.feedbackCollection)
	mux.HandleFunc("/v1/feedback/", h.feedbackByID)
}

// RequiresAuth reports whether r targets an operator endpoint. It is the inverse of the
// auth middleware skipper.
func RequiresAuth(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return r.URL.Path == "/v1/feedback" || strings.HasPrefix(r.URL.Path, "/v1/feedback/")
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	groups := h.tools.Grouped(r.URL.Query().Get("query"))
	writeJSON(w, http.StatusOK, ToolGroupsResponse{Groups: groups})
}

func (h *Handler) toolBySlug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	slug := strings.TrimPrefix(r.URL.Path, "/v1/tools/")
	if slug == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing tool slug")
		return
	}
	tool, err := h.tools.Lookup(slug)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "calculator not found")
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

func (h *Handler) createShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	input, ok := decodeShareRequest(w, r)
	if !ok {
		return
	}

	link, err := h.shares.CreateShare(r.Context(), input)
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ShareResponse{Token: link.Token, URL: link.URL, Record: link.Record})
}

func (h *Handler) downloadBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	input, ok := decodeShareRequest(w, r)
	if !ok {
		return
	}

	file, err := h.shares.Download(r.Context(), input)
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Content)
}

func (h *Handler) restoreLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	restored, err := h.shares.Restore(r.Context(), r.URL.Query().Get("data"))
	if err != nil {
		h.writeRestoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRestoreResponse(restored))
}

func (h *Handler) restoreFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeBodyError(w, err)
		return
	}
	restored, err := h.shares.RestoreFile(r.Context(), data)
	if err != nil {
		h.writeRestoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRestoreResponse(restored))
}

func decodeShareRequest(w http.ResponseWriter, r *http.Request) (domain.ShareInput, bool) {
	var req ShareRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeBodyError(w, err)
		return domain.ShareInput{}, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return domain.ShareInput{}, false
	}
	return domain.ShareInput{ToolID: req.ToolID, Inputs: req.Inputs, ResultText: req.Result}, true
}

func (h *Handler) writeShareError(w http.ResponseWriter, err error) {
	var encErr *backup.EncodingError
	switch {
	case errors.Is(err, domain.ErrUnknownTool):
		writeError(w, http.StatusNotFound, "unknown_calculator", domain.MessageUnknownTool)
	case errors.Is(err, domain.ErrEmptyResult):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.As(err, &encErr):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.serverError(w, err)
	}
}

func (h *Handler) writeRestoreError(w http.ResponseWriter, err error) {
	kind, ok := backup.KindOf(err)
	if !ok {
		h.serverError(w, err)
		return
	}
	message := domain.UserMessage(err)
	switch kind {
	case backup.KindMissing:
		writeError(w, http.StatusBadRequest, "missing_data", message)
	case backup.KindUnknownTool:
		writeError(w, http.StatusNotFound, "unknown_calculator", message)
	default:
		writeError(w, http.StatusBadRequest, "invalid_backup", message)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	h.logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
}

// ShareRequest is the payload for POST /v1/shares and POST /v1/backups/download.
type ShareRequest struct {
	ToolID string         `json:"tool_id"`
	Inputs map[string]any `json:"inputs"`
	Result string         `json:"result"`
}

// Validate ensures request correctness.
func (r ShareRequest) Validate() error {
	if strings.TrimSpace(r.ToolID) == "" {
		return errors.New("tool_id is required")
	}
	if strings.TrimSpace(r.Result) == "" {
		return errors.New("result is required")
	}
	return nil
}

// ShareResponse describes a created share link.
type ShareResponse struct {
	Token  string        `json:"token"`
	URL    string        `json:"url"`
	Record backup.Record `json:"record"`
}

// RestoreResponse is returned by both restore endpoints.
type RestoreResponse struct {
	Record   backup.Record `json:"record"`
	Tool     catalog.Tool  `json:"tool"`
	Redirect string        `json:"redirect"`
}

// ToolGroupsResponse lists calculators by category.
type ToolGroupsResponse struct {
	Groups []catalog.Group `json:"groups"`
}

func toRestoreResponse(r *domain.Restored) RestoreResponse {
	return RestoreResponse{Record: r.Record, Tool: r.Tool, Redirect: r.RedirectPath}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
