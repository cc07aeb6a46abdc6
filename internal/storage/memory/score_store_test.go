package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

func scoreRecord(id, predictionID string, final float64) *domain.ScoreRecord {
	return &domain.ScoreRecord{
		ID:           id,
		PredictionID: predictionID,
		Final:        &final,
		Success:      true,
		ScoredAt:     time.Now().UTC(),
	}
}

func TestScoreStore_InsertAndGet(t *testing.T) {
	store := NewScoreStore()
	ctx := context.Background()

	if err := store.Insert(ctx, scoreRecord("s1", "p1", 0.8)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByPredictionID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByPredictionID failed: %v", err)
	}
	if got.ID != "s1" || *got.Final != 0.8 {
		t.Errorf("Unexpected score: %+v", got)
	}
}

func TestScoreStore_OneScorePerPrediction(t *testing.T) {
	store := NewScoreStore()
	ctx := context.Background()

	_ = store.Insert(ctx, scoreRecord("s1", "p1", 0.8))

	err := store.Insert(ctx, scoreRecord("s2", "p1", 0.9))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestScoreStore_ListByPredictionIDsSkipsMissing(t *testing.T) {
	store := NewScoreStore()
	ctx := context.Background()

	_ = store.Insert(ctx, scoreRecord("s1", "p1", 0.8))
	_ = store.Insert(ctx, scoreRecord("s2", "p2", 0.6))

	got, err := store.ListByPredictionIDs(ctx, []string{"p1", "p-missing", "p2"})
	if err != nil {
		t.Fatalf("ListByPredictionIDs failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 scores, got %d", len(got))
	}
}
