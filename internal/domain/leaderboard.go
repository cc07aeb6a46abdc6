package domain

import "time"

// RankingInfo records which metric ranked an entry and in which direction.
type RankingInfo struct {
	Key       string
	Value     *float64
	Direction string // "desc" or "asc"
}

// EntryScore is the score block of one leaderboard entry.
type EntryScore struct {
	Metrics map[string]*float64
	Ranking RankingInfo
	Payload map[string]any
}

// LeaderboardEntry is one ranked model on a leaderboard snapshot.
type LeaderboardEntry struct {
	Rank       int
	ModelID    string
	ModelName  string
	PlayerName string
	Score      EntryScore
}

// Leaderboard is a persisted ranking snapshot.
type Leaderboard struct {
	ID        string
	Entries   []LeaderboardEntry
	CreatedAt time.Time
	Meta      map[string]any
}
