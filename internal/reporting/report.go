package reporting

import (
	"time"

	"crunch-coordinator/internal/domain"
)

// Report is a point-in-time summary of the tournament state, rendered as
// markdown by RenderMarkdown.
type Report struct {
	GeneratedAt time.Time

	ModelCount int

	// Leaderboard is the latest snapshot; nil when none has been built.
	Leaderboard *domain.Leaderboard

	// Checkpoint is the latest reward checkpoint; nil when none exists.
	Checkpoint *domain.CheckpointRecord

	// Watermarks lists one row per ingested feed stream.
	Watermarks []domain.IngestionWatermark
}
