// Package modelrunner talks to the model runner node hosting participant
// models. The node fans one broadcast call out to every live model and
// returns the per-model outcomes.
package modelrunner

import "context"

// CallStatus is the per-model outcome of a broadcast call.
type CallStatus string

const (
	CallSuccess CallStatus = "SUCCESS"
	CallFailed  CallStatus = "FAILED"
	CallTimeout CallStatus = "TIMEOUT"
)

// ModelInfo identifies one hosted model and its operator.
type ModelInfo struct {
	ModelID      string `json:"model_id"`
	ModelName    string `json:"model_name"`
	CruncherID   string `json:"cruncher_id"`
	CruncherName string `json:"cruncher_name"`
	DeploymentID string `json:"deployment_id"`
}

// ModelResponse is one model's result for a broadcast call. A model that
// did not answer at all is simply absent from the slice.
type ModelResponse struct {
	Info       ModelInfo      `json:"infos"`
	Status     CallStatus     `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	ExecTimeUs float64        `json:"exec_time_us"`
	Reason     string         `json:"reason,omitempty"`
}

// ExecTimeMs converts the runner-reported execution time to milliseconds.
func (r ModelResponse) ExecTimeMs() float64 {
	return r.ExecTimeUs / 1000.0
}

// Runner is the broadcast-call surface of the model runner node.
type Runner interface {
	// ListModels returns the models currently live on the node.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Tick pushes fresh market data to every model. Best effort; per-model
	// failures are reported in the responses, not raised.
	Tick(ctx context.Context, input map[string]any) ([]ModelResponse, error)

	// Predict asks every model for a prediction under the given scope
	// parameters.
	Predict(ctx context.Context, params map[string]any) ([]ModelResponse, error)
}
