package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchemaReturnsExistingID(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		assert.Equal(t, schemaRegistryContentType, r.Header.Get("Content-Type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "JSON", body["schemaType"])
		_, _ = w.Write([]byte(`{"subject":"feedback_events-value","id":7,"version":1}`))
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL + "/")
	id, err := client.EnsureSchema(context.Background(), "feedback_events-value", feedbackSubmittedSchema)
	require.NoError(t, err)
	require.Equal(t, 7, id)
	require.Equal(t, []string{"POST /subjects/feedback_events-value"}, paths)
}

func TestEnsureSchemaRegistersWhenMissing(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/subjects/feedback_events-value" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":40401}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":12}`))
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL)
	id, err := client.EnsureSchema(context.Background(), "feedback_events-value", feedbackSubmittedSchema)
	require.NoError(t, err)
	require.Equal(t, 12, id)
	require.Equal(t, []string{
		"POST /subjects/feedback_events-value",
		"POST /subjects/feedback_events-value/versions",
	}, paths)
}

func TestEnsureSchemaSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL)
	_, err := client.EnsureSchema(context.Background(), "feedback_events-value", feedbackSubmittedSchema)
	require.ErrorContains(t, err, "schema registry lookup error (500): boom")
}
