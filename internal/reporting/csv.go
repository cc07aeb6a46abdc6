package reporting

import (
	"fmt"
	"strings"

	"crunch-coordinator/internal/domain"
)

// RenderLeaderboardCSV renders leaderboard entries as CSV string.
func RenderLeaderboardCSV(entries []domain.LeaderboardEntry) string {
	var sb strings.Builder

	// Header
	sb.WriteString("rank,model_id,model_name,player_name,ranking_key,ranking_value,")
	sb.WriteString("score_recent,score_steady,score_anchor\n")

	// Rows
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%s,%s\n",
			e.Rank,
			e.ModelID,
			e.ModelName,
			e.PlayerName,
			e.Score.Ranking.Key,
			csvFloat(e.Score.Ranking.Value),
			csvFloat(e.Score.Metrics["score_recent"]),
			csvFloat(e.Score.Metrics["score_steady"]),
			csvFloat(e.Score.Metrics["score_anchor"]),
		))
	}

	return sb.String()
}

// csvFloat formats an optional metric; missing values render empty.
func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.6f", *v)
}
