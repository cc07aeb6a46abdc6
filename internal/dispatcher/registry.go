// Package dispatcher fans scheduler emissions out to the model runner and
// persists the resulting prediction records.
package dispatcher

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/modelrunner"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/storage"
)

// Registry tracks the models seen on the runner node. The dispatcher is the
// single writer; other loops read snapshots.
type Registry struct {
	mu     sync.RWMutex
	seen   map[string]modelrunner.ModelInfo
	models storage.ModelStore
	logger *log.Logger
}

// NewRegistry creates a registry persisting discoveries to the model store.
func NewRegistry(models storage.ModelStore, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		seen:   make(map[string]modelrunner.ModelInfo),
		models: models,
		logger: logger,
	}
}

// Register records a model on first sight and persists it. Re-registration
// of a known model is a no-op.
func (r *Registry) Register(ctx context.Context, info modelrunner.ModelInfo, now time.Time) {
	if info.ModelID == "" {
		return
	}

	r.mu.Lock()
	_, known := r.seen[info.ModelID]
	if !known {
		r.seen[info.ModelID] = info
	}
	count := len(r.seen)
	r.mu.Unlock()
	if known {
		return
	}
	observability.DefaultMetrics.ModelsRegistered.Set(float64(count))

	m := &domain.Model{
		ID:                   info.ModelID,
		Name:                 info.ModelName,
		PlayerID:             info.CruncherID,
		PlayerName:           info.CruncherName,
		DeploymentIdentifier: info.DeploymentID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := r.models.UpsertIdentity(ctx, m); err != nil {
		r.logger.Printf("register model %s failed: %v", info.ModelID, err)
		return
	}
	r.logger.Printf("registered model %s (%s/%s)", info.ModelID, info.CruncherName, info.ModelName)
}

// Snapshot returns the known models ordered by model ID.
func (r *Registry) Snapshot() []modelrunner.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]modelrunner.ModelInfo, 0, len(r.seen))
	for _, info := range r.seen {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ModelID < infos[j].ModelID })
	return infos
}

// Known reports whether a model ID has been registered.
func (r *Registry) Known(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.seen[modelID]
	return ok
}
