package modelrunner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClient_Predict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "predict" {
			t.Errorf("expected method predict, got %s", req.Method)
		}
		if req.Params["subject"] != "BTC" {
			t.Errorf("expected subject BTC, got %v", req.Params["subject"])
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"models": []map[string]interface{}{
					{
						"infos": map[string]interface{}{
							"model_id":      "model-1",
							"model_name":    "momentum",
							"cruncher_id":   "cr-1",
							"cruncher_name": "alice",
							"deployment_id": "dep-1",
						},
						"status":       "SUCCESS",
						"result":       map[string]interface{}{"value": 0.42},
						"exec_time_us": 1500.0,
					},
					{
						"infos": map[string]interface{}{
							"model_id": "model-2",
						},
						"status":       "FAILED",
						"reason":       "predict raised",
						"exec_time_us": 900.0,
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	responses, err := client.Predict(context.Background(), map[string]any{"subject": "BTC"})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}

	first := responses[0]
	if first.Status != CallSuccess {
		t.Errorf("expected SUCCESS, got %s", first.Status)
	}
	if first.Info.ModelID != "model-1" {
		t.Errorf("expected model-1, got %s", first.Info.ModelID)
	}
	if first.Info.CruncherName != "alice" {
		t.Errorf("expected cruncher alice, got %s", first.Info.CruncherName)
	}
	if first.Result["value"] != 0.42 {
		t.Errorf("expected value 0.42, got %v", first.Result["value"])
	}
	if first.ExecTimeMs() != 1.5 {
		t.Errorf("expected 1.5ms, got %f", first.ExecTimeMs())
	}

	second := responses[1]
	if second.Status != CallFailed {
		t.Errorf("expected FAILED, got %s", second.Status)
	}
	if second.Reason != "predict raised" {
		t.Errorf("expected failure reason, got %q", second.Reason)
	}
}

func TestHTTPClient_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "list_models" {
			t.Errorf("expected method list_models, got %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"models": []map[string]interface{}{
					{"model_id": "model-1", "model_name": "momentum"},
					{"model_id": "model-2", "model_name": "meanrev"},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[1].ModelName != "meanrev" {
		t.Errorf("expected meanrev, got %s", models[1].ModelName)
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]interface{}{"models": []map[string]interface{}{}},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)

	if _, err := client.Tick(context.Background(), map[string]any{"symbol": "BTC"}); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(3), WithRetryDelay(time.Millisecond))

	_, err := client.ListModels(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpcError, got %T", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("expected code -32601, got %d", rpcErr.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

func TestStubRunnerBroadcast(t *testing.T) {
	runner := NewStubRunner()
	runner.Register(ModelInfo{ModelID: "model-1", CruncherID: "cr-1"},
		func(_ context.Context, method string, _ map[string]any) (map[string]any, error) {
			return map[string]any{"value": 0.1, "method": method}, nil
		})
	runner.Register(ModelInfo{ModelID: "model-2", CruncherID: "cr-2"},
		func(context.Context, string, map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		})

	responses, err := runner.Predict(context.Background(), map[string]any{"subject": "BTC"})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if responses[0].Status != CallSuccess || responses[0].Result["method"] != "predict" {
		t.Errorf("unexpected first response: %+v", responses[0])
	}
	if responses[1].Status != CallFailed || responses[1].Reason == "" {
		t.Errorf("unexpected second response: %+v", responses[1])
	}
}
