package modelrunner

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ModelFunc is the in-process behaviour of one stub model. It receives the
// call payload and returns the model's output envelope.
type ModelFunc func(ctx context.Context, method string, params map[string]any) (map[string]any, error)

// StubRunner hosts in-process models for tests and local runs. Calls fan out
// sequentially; a model error becomes a FAILED response rather than an error.
type StubRunner struct {
	mu     sync.RWMutex
	models []stubModel
}

type stubModel struct {
	info ModelInfo
	fn   ModelFunc
}

// NewStubRunner creates an empty stub runner.
func NewStubRunner() *StubRunner {
	return &StubRunner{}
}

// Register adds a model to the runner.
func (r *StubRunner) Register(info ModelInfo, fn ModelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, stubModel{info: info, fn: fn})
}

// ListModels returns the registered models.
func (r *StubRunner) ListModels(context.Context) ([]ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		infos = append(infos, m.info)
	}
	return infos, nil
}

// Tick fans the input out to every registered model.
func (r *StubRunner) Tick(ctx context.Context, input map[string]any) ([]ModelResponse, error) {
	return r.broadcast(ctx, "tick", input)
}

// Predict fans the scope parameters out to every registered model.
func (r *StubRunner) Predict(ctx context.Context, params map[string]any) ([]ModelResponse, error) {
	return r.broadcast(ctx, "predict", params)
}

func (r *StubRunner) broadcast(ctx context.Context, method string, params map[string]any) ([]ModelResponse, error) {
	r.mu.RLock()
	models := make([]stubModel, len(r.models))
	copy(models, r.models)
	r.mu.RUnlock()

	responses := make([]ModelResponse, 0, len(models))
	for _, m := range models {
		started := time.Now()
		out, err := m.fn(ctx, method, params)
		elapsed := float64(time.Since(started).Microseconds())

		resp := ModelResponse{Info: m.info, ExecTimeUs: elapsed}
		if err != nil {
			resp.Status = CallFailed
			resp.Reason = fmt.Sprintf("%s: %v", method, err)
		} else {
			resp.Status = CallSuccess
			resp.Result = out
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

var _ Runner = (*StubRunner)(nil)
