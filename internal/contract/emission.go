package contract

import (
	"math"

	"crunch-coordinator/internal/domain"
)

// rewardTier maps an inclusive rank range to a per-rank percentage.
type rewardTier struct {
	FromRank int
	ToRank   int
	Pct      float64
}

// defaultRewardTiers pay the top ten ranked models: 35% to first, 10% each to
// ranks 2-5, 5% each to ranks 6-10. Shares left unclaimed by unfilled ranks
// are redistributed equally across the paid entries.
var defaultRewardTiers = []rewardTier{
	{FromRank: 1, ToRank: 1, Pct: 35},
	{FromRank: 2, ToRank: 5, Pct: 10},
	{FromRank: 6, ToRank: 10, Pct: 5},
}

// PctToFrac64 converts a percentage to the on-chain frac64 fixed point.
func PctToFrac64(pct float64) int64 {
	return int64(math.Round(pct / 100 * float64(domain.Frac64Multiplier)))
}

// tierPct returns the percentage paid to a rank, or 0 when out of tiers.
func tierPct(rank int, tiers []rewardTier) float64 {
	for _, t := range tiers {
		if rank >= t.FromRank && rank <= t.ToRank {
			return t.Pct
		}
	}
	return 0
}

// buildCruncherRewards converts ranked entries into frac64 reward shares.
// Entries without a ranking value are skipped; the total always sums to
// exactly Frac64Multiplier when at least one entry is paid.
func buildCruncherRewards(entries []domain.LeaderboardEntry, tiers []rewardTier) []domain.CruncherReward {
	type paid struct {
		entry domain.LeaderboardEntry
		pct   float64
	}

	var claimed []paid
	claimedPct := 0.0
	totalPct := 0.0
	for _, t := range tiers {
		totalPct += t.Pct * float64(t.ToRank-t.FromRank+1)
	}

	for _, e := range entries {
		if e.Score.Ranking.Value == nil {
			continue
		}
		pct := tierPct(e.Rank, tiers)
		if pct <= 0 {
			continue
		}
		claimed = append(claimed, paid{entry: e, pct: pct})
		claimedPct += pct
	}
	if len(claimed) == 0 {
		return nil
	}

	// Shares of unfilled ranks are split equally across paid entries.
	bonus := (totalPct - claimedPct) / float64(len(claimed))

	rewards := make([]domain.CruncherReward, 0, len(claimed))
	var sum int64
	for i, p := range claimed {
		frac := PctToFrac64(p.pct + bonus)
		rewards = append(rewards, domain.CruncherReward{
			CruncherIndex: i,
			ModelID:       p.entry.ModelID,
			RewardPct:     frac,
		})
		sum += frac
	}

	// Rounding residue lands on the first entry so the sum is exact.
	rewards[0].RewardPct += domain.Frac64Multiplier - sum
	return rewards
}

// buildProviderRewards splits the full emission equally across providers.
func buildProviderRewards(providers []string) []domain.ProviderReward {
	if len(providers) == 0 {
		return nil
	}
	share := domain.Frac64Multiplier / int64(len(providers))
	rewards := make([]domain.ProviderReward, 0, len(providers))
	var sum int64
	for _, p := range providers {
		rewards = append(rewards, domain.ProviderReward{Provider: p, RewardPct: share})
		sum += share
	}
	rewards[0].RewardPct += domain.Frac64Multiplier - sum
	return rewards
}

// DefaultBuildEmission produces the tiered emission vector for a ranked
// leaderboard.
func DefaultBuildEmission(entries []domain.LeaderboardEntry, crunchPubkey, computeProvider, dataProvider string) domain.EmissionCheckpoint {
	ck := domain.EmissionCheckpoint{
		Crunch:          crunchPubkey,
		CruncherRewards: buildCruncherRewards(entries, defaultRewardTiers),
	}
	if computeProvider != "" {
		ck.ComputeProviderRewards = buildProviderRewards([]string{computeProvider})
	}
	if dataProvider != "" {
		ck.DataProviderRewards = buildProviderRewards([]string{dataProvider})
	}
	return ck
}
