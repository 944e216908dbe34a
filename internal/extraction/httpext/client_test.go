package httpext

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

func testUnit() pipeline.WorkUnit {
	return pipeline.WorkUnit{
		Key:    "https://example.com/policies/mp-123",
		TaskID: "task-1",
		Label:  "MP-123",
	}
}

func TestExtractDecodesDocument(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/extract", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			URL   string `json:"url"`
			Label string `json:"label"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "https://example.com/policies/mp-123", req.URL)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"title":  "Medical Policy 123",
			"codes":  []string{"97110", "97112"},
			"fields": map[string]string{"category": "therapy"},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "secret", Timeout: 5 * time.Second})
	doc, err := client.Extract(context.Background(), testUnit())
	require.NoError(t, err)
	require.Equal(t, "Medical Policy 123", doc.Title)
	require.Equal(t, []string{"97110", "97112"}, doc.Codes)
	require.Equal(t, "https://example.com/policies/mp-123", doc.Key)
}

func TestExtractServerFaultIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Extract(context.Background(), testUnit())
	require.Error(t, err)
	require.Equal(t, pipeline.KindTransient, pipeline.ClassifyError(err))
}

func TestExtractThrottleResponseIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Extract(context.Background(), testUnit())
	require.Equal(t, pipeline.KindTransient, pipeline.ClassifyError(err))
}

func TestExtractClientRejectionIsPermanent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Extract(context.Background(), testUnit())
	require.Equal(t, pipeline.KindPermanent, pipeline.ClassifyError(err))
}

func TestExtractHonorsContextCancellation(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := NewClient(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Extract(ctx, testUnit())
	require.Error(t, err)
	require.Equal(t, pipeline.KindTransient, pipeline.ClassifyError(err))
}
