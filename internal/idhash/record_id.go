// Package idhash derives the deterministic identifiers used across the
// coordinator. Records produced from the same logical event always get the
// same ID, so store-level uniqueness constraints deduplicate retries.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// timestampToken formats a time as a UTC millisecond token for readable IDs.
func timestampToken(t time.Time) string {
	return t.UTC().Format("20060102_150405.000")
}

// sanitizeKey keeps IDs filesystem- and URL-safe: anything outside
// [a-zA-Z0-9_-] becomes an underscore.
func sanitizeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// shortHash returns the first 16 hex characters of SHA256(data).
func shortHash(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])[:16]
}

// InputID identifies one input snapshot for a scope at an instant.
func InputID(scopeKey string, receivedAt time.Time) string {
	return fmt.Sprintf("INP_%s_%s", sanitizeKey(scopeKey), timestampToken(receivedAt))
}

// PredictionID identifies one model's answer for a scope at an instant.
// Absent predictions (model skipped a round it was expected to answer) get
// the ABS prefix so they are distinguishable at a glance.
func PredictionID(modelID, scopeKey string, performedAt time.Time, absent bool) string {
	prefix := "PRE"
	if absent {
		prefix = "ABS"
	}
	return fmt.Sprintf("%s_%s_%s_%s",
		prefix,
		sanitizeKey(modelID),
		sanitizeKey(scopeKey),
		timestampToken(performedAt),
	)
}

// ScoreID identifies the score row of a prediction, one per prediction.
func ScoreID(predictionID string) string {
	return "SCR_" + shortHash(predictionID)
}

// ConfigID identifies a scheduled prediction config by its frozen identity.
func ConfigID(scopeKey string, everySeconds int64, resolveAfterSeconds *int64) string {
	resolve := ""
	if resolveAfterSeconds != nil {
		resolve = fmt.Sprintf("%d", *resolveAfterSeconds)
	}
	return "CFG_" + shortHash(scopeKey, fmt.Sprintf("%d", everySeconds), resolve)
}

// LeaderboardID identifies a leaderboard snapshot by its build instant.
func LeaderboardID(createdAt time.Time) string {
	return "LBR_" + timestampToken(createdAt)
}

// CheckpointID identifies a reward checkpoint by its period bounds.
func CheckpointID(periodStart, periodEnd time.Time) string {
	return fmt.Sprintf("CKP_%s_%s", timestampToken(periodStart), timestampToken(periodEnd))
}
