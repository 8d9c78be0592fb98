package enrich

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blackboxhq/blackbox-gw/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeModelServer mimics the /chat/completions endpoint, returning content
// as the assistant message.
func fakeModelServer(t *testing.T, content string, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnricher(t *testing.T, srv *httptest.Server, timeout time.Duration) *Enricher {
	t.Helper()
	return New(config.AIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
		Timeout: timeout,
	}, discardLogger())
}

func TestEnrich(t *testing.T) {
	t.Parallel()

	content := `{"title":"Switched to Postgres","summary":"Moved off MySQL for latency.","context":"p99 spikes","options":["stay on MySQL","Postgres"],"rationale":"better query planner","tags":["database","infra"]}`
	srv := fakeModelServer(t, content, 0)
	e := newTestEnricher(t, srv, 5*time.Second)

	enriched, raw, err := e.Enrich(context.Background(), "Decided to switch databases because of latency")
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if enriched.Title != "Switched to Postgres" {
		t.Errorf("Title = %q", enriched.Title)
	}
	if len(enriched.Options) != 2 || len(enriched.Tags) != 2 {
		t.Errorf("unexpected shape: %+v", enriched)
	}

	var roundTrip Enriched
	if err := json.Unmarshal(raw, &roundTrip); err != nil {
		t.Fatalf("raw output is not valid JSON: %v", err)
	}
}

func TestEnrich_CodeFencedResponse(t *testing.T) {
	t.Parallel()

	content := "```json\n{\"title\":\"T\",\"summary\":\"S\",\"context\":\"\",\"options\":[],\"rationale\":\"\",\"tags\":[\"x\"]}\n```"
	srv := fakeModelServer(t, content, 0)
	e := newTestEnricher(t, srv, 5*time.Second)

	enriched, _, err := e.Enrich(context.Background(), "some narrative")
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if enriched.Title != "T" {
		t.Errorf("Title = %q", enriched.Title)
	}
}

func TestEnrich_InvalidShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I decided things!"},
		{"missing title", `{"summary":"S"}`},
		{"missing summary", `{"title":"T"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeModelServer(t, tt.content, 0)
			e := newTestEnricher(t, srv, 5*time.Second)
			if _, _, err := e.Enrich(context.Background(), "narrative"); err == nil {
				t.Error("malformed model output should be an error")
			}
		})
	}
}

func TestEnrich_Timeout(t *testing.T) {
	t.Parallel()

	content := `{"title":"T","summary":"S"}`
	srv := fakeModelServer(t, content, 500*time.Millisecond)
	e := newTestEnricher(t, srv, 50*time.Millisecond)

	if _, _, err := e.Enrich(context.Background(), "narrative"); err == nil {
		t.Error("slow model call should time out")
	}
}

func TestEnrich_EmptyNarrative(t *testing.T) {
	t.Parallel()

	srv := fakeModelServer(t, "{}", 0)
	e := newTestEnricher(t, srv, time.Second)

	if _, _, err := e.Enrich(context.Background(), "   "); err == nil {
		t.Error("empty narrative should be rejected")
	}
}

func TestParseEnriched_TagCap(t *testing.T) {
	t.Parallel()

	enriched, err := parseEnriched(`{"title":"T","summary":"S","tags":["a","b","c","d","e","f","g"]}`)
	if err != nil {
		t.Fatalf("parseEnriched: %v", err)
	}
	if len(enriched.Tags) != 5 {
		t.Errorf("tags = %d, want capped at 5", len(enriched.Tags))
	}
}
