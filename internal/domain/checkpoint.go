package domain

import "time"

// Frac64Multiplier is 100% in the on-chain fixed-point representation.
// Every emission vector's cruncher reward percentages sum to exactly this.
const Frac64Multiplier int64 = 1_000_000_000

// CruncherReward is one participant's share of an emission, in frac64.
type CruncherReward struct {
	CruncherIndex int
	ModelID       string
	RewardPct     int64
}

// ProviderReward is a compute or data provider's share, in frac64.
type ProviderReward struct {
	Provider  string
	RewardPct int64
}

// EmissionCheckpoint is the reward artifact handed to the on-chain submitter.
type EmissionCheckpoint struct {
	Crunch                 string
	CruncherRewards        []CruncherReward
	ComputeProviderRewards []ProviderReward
	DataProviderRewards    []ProviderReward
}

// CruncherSum returns the total cruncher reward in frac64.
func (e EmissionCheckpoint) CruncherSum() int64 {
	var sum int64
	for _, r := range e.CruncherRewards {
		sum += r.RewardPct
	}
	return sum
}

// CheckpointStatus is the submission state of a checkpoint record.
type CheckpointStatus string

const (
	CheckpointPending   CheckpointStatus = "PENDING"
	CheckpointSubmitted CheckpointStatus = "SUBMITTED"
)

// CheckpointRecord is a persisted reward checkpoint for one period.
type CheckpointRecord struct {
	ID          string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Status      CheckpointStatus
	Emission    EmissionCheckpoint
	Meta        map[string]any
	CreatedAt   time.Time
}
