package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTagsHandler(models ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			Name string `json:"name"`
		}
		var payload struct {
			Models []entry `json:"models"`
		}
		for _, m := range models {
			payload.Models = append(payload.Models, entry{Name: m})
		}
		json.NewEncoder(w).Encode(payload)
	}
}

func TestCheckConnection(t *testing.T) {
	server := httptest.NewServer(newTagsHandler())
	defer server.Close()

	client := NewClient(Config{ServerURL: server.URL}, nil)
	if err := client.CheckConnection(context.Background()); err != nil {
		t.Fatalf("CheckConnection: %v", err)
	}

	server.Close()
	if err := client.CheckConnection(context.Background()); err == nil {
		t.Fatal("expected error for stopped server")
	}
}

func TestResolveModelPrefersConfigured(t *testing.T) {
	client := NewClient(Config{ServerURL: "http://localhost:1", Model: "llava:13b"}, nil)
	model, err := client.ResolveModel(context.Background())
	if err != nil {
		t.Fatalf("ResolveModel: %v", err)
	}
	if model != "llava:13b" {
		t.Fatalf("model = %q, want configured llava:13b", model)
	}
}

func TestResolveModelUsesPreferenceOrder(t *testing.T) {
	server := httptest.NewServer(newTagsHandler("llava:7b", "qwen2.5vl:7b", "nomic-embed-text"))
	defer server.Close()

	client := NewClient(Config{ServerURL: server.URL}, nil)
	model, err := client.ResolveModel(context.Background())
	if err != nil {
		t.Fatalf("ResolveModel: %v", err)
	}
	if model != "qwen2.5vl:7b" {
		t.Fatalf("model = %q, want qwen2.5vl:7b", model)
	}
}

func TestResolveModelMatchesBaseName(t *testing.T) {
	server := httptest.NewServer(newTagsHandler("minicpm-v:8b"))
	defer server.Close()

	client := NewClient(Config{ServerURL: server.URL}, nil)
	model, err := client.ResolveModel(context.Background())
	if err != nil {
		t.Fatalf("ResolveModel: %v", err)
	}
	if model != "minicpm-v:8b" {
		t.Fatalf("model = %q, want minicpm-v:8b", model)
	}
}

func TestResolveModelNoneInstalled(t *testing.T) {
	server := httptest.NewServer(newTagsHandler("nomic-embed-text"))
	defer server.Close()

	client := NewClient(Config{ServerURL: server.URL}, nil)
	if _, err := client.ResolveModel(context.Background()); err == nil {
		t.Fatal("expected error when no vision model installed")
	}
}

func TestAnalyzeSendsImageAndPrompt(t *testing.T) {
	var captured generateRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", newTagsHandler("qwen2.5vl:7b"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"response": `{"car_detected": true}`})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(Config{ServerURL: server.URL}, nil)
	response, err := client.Analyze(context.Background(), "aW1hZ2U=", "Analyze this racing photograph.")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if response != `{"car_detected": true}` {
		t.Fatalf("response = %q", response)
	}
	if captured.Model != "qwen2.5vl:7b" {
		t.Fatalf("model = %q", captured.Model)
	}
	if len(captured.Images) != 1 || captured.Images[0] != "aW1hZ2U=" {
		t.Fatalf("images = %v", captured.Images)
	}
	if captured.Options.Temperature != 0.1 || captured.Options.NumPredict != 500 {
		t.Fatalf("options = %+v", captured.Options)
	}
	if captured.Stream {
		t.Fatal("streaming should be disabled")
	}
}

func TestAnalyzeRetriesServerErrors(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", newTagsHandler("llava"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "model loading", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{ServerURL: server.URL}, nil,
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))

	response, err := client.Analyze(context.Background(), "aW1hZ2U=", "prompt")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if response != "ok" || calls != 3 {
		t.Fatalf("response = %q after %d calls", response, calls)
	}
	if len(slept) != 2 {
		t.Fatalf("slept %v, want two backoff sleeps", slept)
	}
	if slept[1] <= slept[0] {
		t.Fatalf("backoff should grow: %v", slept)
	}
}

func TestAnalyzeDoesNotRetryBadRequests(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", newTagsHandler("llava"))
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad image", http.StatusBadRequest)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(Config{ServerURL: server.URL}, nil,
		WithSleeper(func(time.Duration) {}))

	if _, err := client.Analyze(context.Background(), "aW1hZ2U=", "prompt"); err == nil {
		t.Fatal("expected error for bad request")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 4xx)", calls)
	}
}

func TestEnsureModelPullsWhenMissing(t *testing.T) {
	var pulled string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", newTagsHandler())
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode pull body: %v", err)
		}
		pulled = body.Name
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(Config{ServerURL: server.URL}, nil)
	model, err := client.EnsureModel(context.Background())
	if err != nil {
		t.Fatalf("EnsureModel: %v", err)
	}
	if model != defaultModels[0] || pulled != defaultModels[0] {
		t.Fatalf("model = %q, pulled = %q, want %q", model, pulled, defaultModels[0])
	}
}
