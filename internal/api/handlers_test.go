package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/auth"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/backup"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/catalog"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/domain"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/persistence"
)

const testBaseURL = "https://calcpro.example/"

var testAuth = auth.Config{Secret: "api-test-secret", Issuer: "calcpro.test"}

func newTestMux(t *testing.T) http.Handler {
	t.Helper()
	tools := catalog.Default()
	clock := func() time.Time { return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC) }
	codec := backup.NewCodec(tools, backup.WithClock(clock))

	handler := NewHandler(
		domain.NewShareService(codec, tools, testBaseURL),
		domain.NewFeedbackService(persistence.NewInMemoryRepository()),
		tools,
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	mw := auth.NewMiddleware(testAuth, func(r *http.Request) bool { return !RequiresAuth(r) })
	return mw.Wrap(mux)
}

func do(t *testing.T, h http.Handler, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func requireProblem(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) map[string]string {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	payload := decodeBody[map[string]string](t, rec)
	require.Equal(t, code, payload["type"])
	return payload
}

const bmiShareBody = `{"tool_id":"bmi-calculator","inputs":{"weight":"70","height":"175","units":2.50},"result":"BMI: 22.86|Category: Normal weight"}`

func TestHealthz(t *testing.T) {
	rec := do(t, newTestMux(t), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestListTools(t *testing.T) {
	h := newTestMux(t)

	rec := do(t, h, http.MethodGet, "/v1/tools", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ToolGroupsResponse](t, rec)
	require.Len(t, resp.Groups, len(catalog.Categories))
	assert.Equal(t, catalog.CategoryFinancial, resp.Groups[0].Category)

	rec = do(t, h, http.MethodGet, "/v1/tools?query=bmi", "", nil)
	resp = decodeBody[ToolGroupsResponse](t, rec)
	require.Len(t, resp.Groups, 1)
	require.Equal(t, "bmi-calculator", resp.Groups[0].Tools[0].Slug)

	rec = do(t, h, http.MethodGet, "/v1/tools?query=zzz", "", nil)
	require.JSONEq(t, `{"groups":[]}`, rec.Body.String())

	requireProblem(t, do(t, h, http.MethodPost, "/v1/tools", "", nil), http.StatusMethodNotAllowed, "method_not_allowed")
}

func TestToolBySlug(t *testing.T) {
	h := newTestMux(t)

	rec := do(t, h, http.MethodGet, "/v1/tools/tip-calculator", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tool := decodeBody[catalog.Tool](t, rec)
	assert.Equal(t, "Tip Calculator", tool.Name)
	assert.Equal(t, catalog.CategoryLifestyle, tool.Category)

	requireProblem(t, do(t, h, http.MethodGet, "/v1/tools/mortgage-wizard", "", nil), http.StatusNotFound, "not_found")
	requireProblem(t, do(t, h, http.MethodGet, "/v1/tools/", "", nil), http.StatusBadRequest, "invalid_request")
}

func TestCreateShareThenRestoreLink(t *testing.T) {
	h := newTestMux(t)

	rec := do(t, h, http.MethodPost, "/v1/shares", bmiShareBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	share := decodeBody[map[string]json.RawMessage](t, rec)

	var token, link string
	require.NoError(t, json.Unmarshal(share["token"], &token))
	require.NoError(t, json.Unmarshal(share["url"], &link))
	assert.Equal(t, testBaseURL+"#/backup?data="+token, link)
	assert.JSONEq(t, `{
		"calculator": "bmi-calculator",
		"inputs": {"weight": "70", "height": "175", "units": 2.50},
		"result": "BMI: 22.86|Category: Normal weight",
		"timestamp": "2024-01-01T00:00:00.000Z"
	}`, string(share["record"]))

	rec = do(t, h, http.MethodGet, "/v1/backup?data="+url.QueryEscape(token), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	restored := decodeBody[map[string]json.RawMessage](t, rec)
	assert.JSONEq(t, string(share["record"]), string(restored["record"]))
	assert.JSONEq(t, `"/calculators/bmi-calculator"`, string(restored["redirect"]))

	var tool catalog.Tool
	require.NoError(t, json.Unmarshal(restored["tool"], &tool))
	assert.Equal(t, "BMI Calculator", tool.Name)
}

func TestCreateShareRejects(t *testing.T) {
	h := newTestMux(t)

	requireProblem(t, do(t, h, http.MethodPost, "/v1/shares", `{"tool_id":"mortgage-wizard","inputs":{},"result":"x"}`, nil),
		http.StatusNotFound, "unknown_calculator")
	requireProblem(t, do(t, h, http.MethodPost, "/v1/shares", `{"tool_id":"bmi-calculator","inputs":{},"result":"  "}`, nil),
		http.StatusBadRequest, "validation_failed")
	requireProblem(t, do(t, h, http.MethodPost, "/v1/shares", `{"inputs":{},"result":"x"}`, nil),
		http.StatusBadRequest, "validation_failed")
	requireProblem(t, do(t, h, http.MethodPost, "/v1/shares", `{not json`, nil),
		http.StatusBadRequest, "invalid_request")
	requireProblem(t, do(t, h, http.MethodGet, "/v1/shares", "", nil),
		http.StatusMethodNotAllowed, "method_not_allowed")

	huge := `{"tool_id":"bmi-calculator","inputs":{"x":"` + strings.Repeat("a", maxBodyBytes) + `"},"result":"x"}`
	requireProblem(t, do(t, h, http.MethodPost, "/v1/shares", huge, nil),
		http.StatusRequestEntityTooLarge, "payload_too_large")
}

func TestRestoreLinkFailures(t *testing.T) {
	h := newTestMux(t)

	payload := requireProblem(t, do(t, h, http.MethodGet, "/v1/backup", "", nil), http.StatusBadRequest, "missing_data")
	assert.Equal(t, domain.MessageMissingBackup, payload["detail"])

	payload = requireProblem(t, do(t, h, http.MethodGet, "/v1/backup?data=%21%21%21", "", nil), http.StatusBadRequest, "invalid_backup")
	assert.Equal(t, domain.MessageInvalidBackup, payload["detail"])

	unknown := backupToken(t, `{"calculator":"mortgage-wizard","inputs":{},"result":"x"}`)
	payload = requireProblem(t, do(t, h, http.MethodGet, "/v1/backup?data="+unknown, "", nil), http.StatusNotFound, "unknown_calculator")
	assert.Equal(t, domain.MessageUnknownTool, payload["detail"])

	shapeless := backupToken(t, `{"calculator":"bmi-calculator"}`)
	requireProblem(t, do(t, h, http.MethodGet, "/v1/backup?data="+shapeless, "", nil), http.StatusBadRequest, "invalid_backup")
}

func TestDownloadAndRestoreFile(t *testing.T) {
	h := newTestMux(t)

	rec := do(t, h, http.MethodPost, "/v1/backups/download", bmiShareBody, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="bmi-calculator-backup.json"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
	file := rec.Body.String()
	assert.True(t, strings.HasSuffix(file, "}\n"))
	assert.Contains(t, file, "\n  \"calculator\": \"bmi-calculator\",\n")

	rec = do(t, h, http.MethodPost, "/v1/backups/restore", file, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	restored := decodeBody[RestoreResponse](t, rec)
	assert.Equal(t, "bmi-calculator", restored.Record.ToolID)
	assert.Equal(t, "/calculators/bmi-calculator", restored.Redirect)

	requireProblem(t, do(t, h, http.MethodPost, "/v1/backups/restore", "", nil), http.StatusBadRequest, "missing_data")
	requireProblem(t, do(t, h, http.MethodPost, "/v1/backups/restore", "{oops", nil), http.StatusBadRequest, "invalid_backup")
	requireProblem(t, do(t, h, http.MethodPost, "/v1/backups/download", `{"tool_id":"nope","result":"x"}`, nil),
		http.StatusNotFound, "unknown_calculator")
}

func TestFeedbackSubmitAndReplay(t *testing.T) {
	h := newTestMux(t)
	body := `{"name":"Ada","email":"ada@example.com","message":"Love the EMI calculator"}`
	headers := map[string]string{"Idempotency-Key": "form-1"}

	rec := do(t, h, http.MethodPost, "/v1/feedback", body, headers)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	first := decodeBody[SubmitFeedbackResponse](t, rec)
	require.NotEmpty(t, first.FeedbackID)
	require.False(t, first.Replay)

	rec = do(t, h, http.MethodPost, "/v1/feedback", body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[SubmitFeedbackResponse](t, rec)
	require.Equal(t, first.FeedbackID, second.FeedbackID)
	require.True(t, second.Replay)

	requireProblem(t, do(t, h, http.MethodPost, "/v1/feedback", `{"message":"  "}`, nil), http.StatusBadRequest, "validation_failed")
	requireProblem(t, do(t, h, http.MethodPost, "/v1/feedback", `{"message":"hi","email":"nope"}`, nil), http.StatusBadRequest, "validation_failed")
	requireProblem(t, do(t, h, http.MethodPost, "/v1/feedback", `[`, nil), http.StatusBadRequest, "invalid_request")
}

func TestFeedbackReadRequiresScope(t *testing.T) {
	h := newTestMux(t)

	rec := do(t, h, http.MethodPost, "/v1/feedback", `{"message":"first"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeBody[SubmitFeedbackResponse](t, rec).FeedbackID

	requireProblem(t, do(t, h, http.MethodGet, "/v1/feedback", "", nil), http.StatusUnauthorized, "unauthorized")

	weak := bearer(t, "viewer")
	requireProblem(t, do(t, h, http.MethodGet, "/v1/feedback", "", weak), http.StatusForbidden, "forbidden")

	reader := bearer(t, "ops", auth.ScopeFeedbackRead)
	rec = do(t, h, http.MethodGet, "/v1/feedback/"+id, "", reader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[FeedbackView](t, rec)
	assert.Equal(t, "first", view.Message)
	assert.Equal(t, "web", view.Source)

	requireProblem(t, do(t, h, http.MethodGet, "/v1/feedback/does-not-exist", "", reader), http.StatusNotFound, "not_found")
}

func TestFeedbackListPaginates(t *testing.T) {
	h := newTestMux(t)
	for _, msg := range []string{"one", "two", "three"} {
		rec := do(t, h, http.MethodPost, "/v1/feedback", `{"message":"`+msg+`"}`, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	reader := bearer(t, "ops", auth.ScopeFeedbackRead)

	rec := do(t, h, http.MethodGet, "/v1/feedback?limit=2", "", reader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decodeBody[ListFeedbackResponse](t, rec)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	rec = do(t, h, http.MethodGet, "/v1/feedback?limit=2&cursor="+page.NextCursor, "", reader)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decodeBody[ListFeedbackResponse](t, rec)
	require.Len(t, next.Items, 1)
	require.Empty(t, next.NextCursor)

	seen := map[string]bool{}
	for _, item := range append(page.Items, next.Items...) {
		seen[item.Message] = true
	}
	require.Len(t, seen, 3)

	requireProblem(t, do(t, h, http.MethodGet, "/v1/feedback?limit=abc", "", reader), http.StatusBadRequest, "validation_failed")
	requireProblem(t, do(t, h, http.MethodGet, "/v1/feedback?cursor=%25%25", "", reader), http.StatusBadRequest, "validation_failed")
}

func TestRequiresAuth(t *testing.T) {
	cases := []struct {
		method, path string
		want         bool
	}{
		{http.MethodGet, "/v1/feedback", true},
		{http.MethodGet, "/v1/feedback/abc", true},
		{http.MethodPost, "/v1/feedback", false},
		{http.MethodGet, "/v1/tools", false},
		{http.MethodGet, "/healthz", false},
		{http.MethodGet, "/v1/feedbackish", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		assert.Equal(t, tc.want, RequiresAuth(req), "%s %s", tc.method, tc.path)
	}
}

func TestHandlerChecksClaimsWithoutMiddleware(t *testing.T) {
	tools := catalog.Default()
	handler := NewHandler(
		domain.NewShareService(backup.NewCodec(tools), tools, testBaseURL),
		domain.NewFeedbackService(persistence.NewInMemoryRepository()),
		tools,
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/feedback", nil)
	ctx := auth.WithClaims(req.Context(), &auth.Claims{
		Subject: "ops",
		Scopes:  map[string]struct{}{auth.ScopeFeedbackRead: {}},
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req.WithContext(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func bearer(t *testing.T, subject string, scopes ...string) map[string]string {
	t.Helper()
	token, err := auth.Sign(testAuth, subject, scopes, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func backupToken(t *testing.T, payload string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Compact(&buf, []byte(payload)))
	return base64.RawURLEncoding.EncodeToString(buf.Bytes())
}
