package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// vectorResponse renders a single-sample instant-vector Prometheus API
// response, the shape QueryService.GetStoryMetrics expects back from
// /api/v1/query.
func vectorResponse(value float64) string {
	return fmt.Sprintf(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,%q]}]}}`, fmt.Sprintf("%v", value))
}

func newFakePrometheus(t *testing.T, values map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		for substr, v := range values {
			if strings.Contains(query, substr) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(vectorResponse(v)))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
	}))
}

func TestGetStoryMetrics(t *testing.T) {
	srv := newFakePrometheus(t, map[string]float64{
		`type="prompt"`:     120,
		`type="completion"`: 45,
		"llm_costs_total":   0.0037,
	})
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	if err != nil {
		t.Fatalf("NewQueryService: %v", err)
	}

	got, err := qs.GetStoryMetrics(t.Context(), "story-42")
	if err != nil {
		t.Fatalf("GetStoryMetrics: %v", err)
	}
	if got.StoryID != "story-42" {
		t.Errorf("StoryID = %q, want story-42", got.StoryID)
	}
	if got.PromptTokens != 120 {
		t.Errorf("PromptTokens = %d, want 120", got.PromptTokens)
	}
	if got.CompletionTokens != 45 {
		t.Errorf("CompletionTokens = %d, want 45", got.CompletionTokens)
	}
	if got.TotalTokens != 165 {
		t.Errorf("TotalTokens = %d, want 165", got.TotalTokens)
	}
	if got.TotalCost != 0.0037 {
		t.Errorf("TotalCost = %v, want 0.0037", got.TotalCost)
	}
}

func TestGetStoryMetricsNoData(t *testing.T) {
	srv := newFakePrometheus(t, map[string]float64{})
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	if err != nil {
		t.Fatalf("NewQueryService: %v", err)
	}

	got, err := qs.GetStoryMetrics(t.Context(), "story-empty")
	if err != nil {
		t.Fatalf("GetStoryMetrics: %v", err)
	}
	if got.TotalTokens != 0 || got.TotalCost != 0 {
		t.Errorf("expected zeroed metrics for a story with no samples, got %+v", got)
	}
}

func TestGetStoryMetricsByModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(query, "group by (model)"):
			_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{"model":"sonnet"}}]}}`))
		case strings.Contains(query, `type="prompt"`):
			_, _ = w.Write([]byte(vectorResponse(10)))
		case strings.Contains(query, `type="completion"`):
			_, _ = w.Write([]byte(vectorResponse(5)))
		case strings.Contains(query, "llm_costs_total"):
			_, _ = w.Write([]byte(vectorResponse(0.01)))
		default:
			_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
		}
	}))
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	if err != nil {
		t.Fatalf("NewQueryService: %v", err)
	}

	got, err := qs.GetStoryMetricsByModel(t.Context(), "story-7")
	if err != nil {
		t.Fatalf("GetStoryMetricsByModel: %v", err)
	}
	sonnet, ok := got["sonnet"]
	if !ok {
		t.Fatalf("expected a sonnet entry, got %+v", got)
	}
	if sonnet.TotalTokens != 15 {
		t.Errorf("sonnet.TotalTokens = %d, want 15", sonnet.TotalTokens)
	}
}
