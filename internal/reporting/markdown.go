package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Tournament Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Registered models: %d\n\n", r.ModelCount))

	// Leaderboard
	sb.WriteString("## Leaderboard\n\n")
	if r.Leaderboard != nil && len(r.Leaderboard.Entries) > 0 {
		sb.WriteString(fmt.Sprintf("Snapshot `%s` built at %s\n\n",
			r.Leaderboard.ID, r.Leaderboard.CreatedAt.Format(time.RFC3339)))
		sb.WriteString("| Rank | Model | Player | Recent | Steady | Anchor |\n")
		sb.WriteString("|------|-------|--------|--------|--------|--------|\n")
		for _, e := range r.Leaderboard.Entries {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s |\n",
				e.Rank, mdName(e.ModelName, e.ModelID), e.PlayerName,
				mdFloat(e.Score.Metrics["score_recent"]),
				mdFloat(e.Score.Metrics["score_steady"]),
				mdFloat(e.Score.Metrics["score_anchor"])))
		}
	} else {
		sb.WriteString("No leaderboard built yet.\n")
	}
	sb.WriteString("\n")

	// Latest checkpoint
	sb.WriteString("## Latest Checkpoint\n\n")
	if r.Checkpoint != nil {
		sb.WriteString(fmt.Sprintf("`%s`: period [%s, %s), status %s\n\n",
			r.Checkpoint.ID,
			r.Checkpoint.PeriodStart.Format(time.RFC3339),
			r.Checkpoint.PeriodEnd.Format(time.RFC3339),
			r.Checkpoint.Status))
		if len(r.Checkpoint.Emission.CruncherRewards) > 0 {
			sb.WriteString("| Index | Model | Reward (frac64) |\n")
			sb.WriteString("|-------|-------|-----------------|\n")
			for _, rw := range r.Checkpoint.Emission.CruncherRewards {
				sb.WriteString(fmt.Sprintf("| %d | %s | %d |\n",
					rw.CruncherIndex, rw.ModelID, rw.RewardPct))
			}
		} else {
			sb.WriteString("Empty emission vector.\n")
		}
	} else {
		sb.WriteString("No checkpoint created yet.\n")
	}
	sb.WriteString("\n")

	// Feed watermarks
	sb.WriteString("## Feed Watermarks\n\n")
	if len(r.Watermarks) > 0 {
		sb.WriteString("| Source | Subject | Kind | Granularity | Last Event | Updated |\n")
		sb.WriteString("|--------|---------|------|-------------|------------|--------|\n")
		for _, wm := range r.Watermarks {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
				wm.Scope.Source, wm.Scope.Subject, wm.Scope.Kind, wm.Scope.Granularity,
				time.Unix(wm.LastEventTs, 0).UTC().Format(time.RFC3339),
				wm.UpdatedAt.Format(time.RFC3339)))
		}
	} else {
		sb.WriteString("No feed data ingested yet.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func mdName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func mdFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}
