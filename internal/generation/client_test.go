package generation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sceneflow/internal/config"
	"sceneflow/internal/generation"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...generation.Option) *generation.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Provider{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
	}
	base := []generation.Option{
		generation.WithRetryBackoff(time.Millisecond, 5*time.Millisecond),
		generation.WithSleeper(func(time.Duration) {}),
	}
	return generation.NewClient(cfg, append(base, opts...)...)
}

func TestGenerateContent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "models/test-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Goog-Api-Key") != "test-key" {
			t.Error("missing api key header")
		}
		w.Write([]byte(`{"text":"{\"summary\":\"a song about rain\"}"}`))
	}))

	text, err := client.GenerateContent(context.Background(), generation.ContentRequest{
		SystemPrompt: "You are a storyboard writer.",
		Prompt:       "Plan scenes for this song.",
		JSONOutput:   true,
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := generation.DecodeModelJSON(text, &parsed); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if parsed.Summary != "a song about rain" {
		t.Fatalf("unexpected summary %q", parsed.Summary)
	}
}

func TestGenerateContentRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))

	text, err := client.GenerateContent(context.Background(), generation.ContentRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if text != "ok" {
		t.Fatalf("unexpected text %q", text)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGenerateContentDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))

	_, err := client.GenerateContent(context.Background(), generation.ContentRequest{Prompt: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("400 must not be retried, got %d calls", calls.Load())
	}
}

func TestGenerateImages(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images":["gs://bucket/a.png","gs://bucket/b.png"]}`))
	}))

	images, err := client.GenerateImages(context.Background(), generation.ImageRequest{Prompt: "a harbor at dawn", Count: 2})
	if err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}
	if len(images) != 2 || images[0] != "gs://bucket/a.png" {
		t.Fatalf("unexpected images %v", images)
	}
}

func TestVideoOperationLifecycle(t *testing.T) {
	var polls atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, ":generateVideos"):
			w.Write([]byte(`{"name":"operations/op-1","done":false}`))
		case strings.Contains(r.URL.Path, "operations/op-1"):
			if polls.Add(1) < 2 {
				w.Write([]byte(`{"name":"operations/op-1","done":false}`))
				return
			}
			w.Write([]byte(`{"name":"operations/op-1","done":true,"response":{"videos":["gs://bucket/clip.mp4"]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	ctx := context.Background()

	op, err := client.GenerateVideos(ctx, generation.VideoRequest{Prompt: "wide shot", DurationSeconds: 6})
	if err != nil {
		t.Fatalf("GenerateVideos: %v", err)
	}
	if op.Done {
		t.Fatal("expected pending operation")
	}

	for !op.Done {
		op, err = client.GetVideosOperation(ctx, op.Name)
		if err != nil {
			t.Fatalf("GetVideosOperation: %v", err)
		}
	}
	if len(op.VideoURIs) != 1 || op.VideoURIs[0] != "gs://bucket/clip.mp4" {
		t.Fatalf("unexpected operation result %+v", op)
	}
}

func TestCountTokens(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_tokens":42}`))
	}))

	count, err := client.CountTokens(context.Background(), "some prompt")
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if count != 42 {
		t.Fatalf("expected 42 tokens, got %d", count)
	}
}

func TestDecodeModelJSONStripsFences(t *testing.T) {
	payload := "```json\n{\"scenes\":[{\"id\":\"scene-1\"}]}\n```"
	var parsed struct {
		Scenes []struct {
			ID string `json:"id"`
		} `json:"scenes"`
	}
	if err := generation.DecodeModelJSON(payload, &parsed); err != nil {
		t.Fatalf("DecodeModelJSON: %v", err)
	}
	if len(parsed.Scenes) != 1 || parsed.Scenes[0].ID != "scene-1" {
		t.Fatalf("unexpected parse %+v", parsed)
	}

	prose := "Here is the plan: {\"scenes\":[]} hope that helps"
	if err := generation.DecodeModelJSON(prose, &parsed); err != nil {
		t.Fatalf("DecodeModelJSON prose: %v", err)
	}
}
