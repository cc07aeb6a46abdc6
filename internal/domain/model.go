package domain

import "time"

// ModelScore holds the windowed mean scores of a model. A window metric is
// nil until the model's scored history is older than the window, which keeps
// short-history models off the top of the board.
type ModelScore struct {
	Recent *float64 // 24h window
	Steady *float64 // 72h window
	Anchor *float64 // 168h window
}

// Metrics returns the score as a named metric map for persistence and reports.
func (s ModelScore) Metrics() map[string]*float64 {
	return map[string]*float64{
		"score_recent": s.Recent,
		"score_steady": s.Steady,
		"score_anchor": s.Anchor,
	}
}

// HasAny reports whether at least one window metric is populated.
func (s ModelScore) HasAny() bool {
	return s.Recent != nil || s.Steady != nil || s.Anchor != nil
}

// ScopeScore is a model's windowed score for one PredictionParams scope.
type ScopeScore struct {
	Params PredictionParams
	Score  ModelScore
}

// Model is a registered participant model. Created on first discovery by the
// dispatcher, score fields updated on every aggregation cycle.
type Model struct {
	ID                   string
	Name                 string
	PlayerID             string
	PlayerName           string
	DeploymentIdentifier string
	OverallScore         *ModelScore
	ScoresByScope        []ScopeScore
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// QualifiedName returns "player/model" for logs and reports.
func (m *Model) QualifiedName() string {
	return m.PlayerName + "/" + m.Name
}

// HasScore reports whether any window of the overall score is populated.
func (m *Model) HasScore() bool {
	return m.OverallScore != nil && m.OverallScore.HasAny()
}

// UpdateScopeScore sets the windowed score for one params scope, replacing
// any previous entry with equal params.
func (m *Model) UpdateScopeScore(params PredictionParams, score ModelScore) {
	for i := range m.ScoresByScope {
		if m.ScoresByScope[i].Params.Equal(params) {
			m.ScoresByScope[i].Score = score
			return
		}
	}
	m.ScoresByScope = append(m.ScoresByScope, ScopeScore{Params: params, Score: score})
}

// CalcOverallScore recomputes the overall windowed score as the mean of the
// per-scope scores. A window stays nil until every scope reports it, so a
// model is not ranked on partial coverage.
func (m *Model) CalcOverallScore() {
	if len(m.ScoresByScope) == 0 {
		m.OverallScore = nil
		return
	}

	overall := &ModelScore{}
	overall.Recent = meanWindow(m.ScoresByScope, func(s ModelScore) *float64 { return s.Recent })
	overall.Steady = meanWindow(m.ScoresByScope, func(s ModelScore) *float64 { return s.Steady })
	overall.Anchor = meanWindow(m.ScoresByScope, func(s ModelScore) *float64 { return s.Anchor })
	m.OverallScore = overall
}

func meanWindow(scores []ScopeScore, pick func(ModelScore) *float64) *float64 {
	sum := 0.0
	for _, s := range scores {
		v := pick(s.Score)
		if v == nil {
			return nil
		}
		sum += *v
	}
	mean := sum / float64(len(scores))
	return &mean
}

// ModelScoreSnapshot is a historical record of a model's overall score at a
// point in time. Keyed by (model_id, performed_at); upserts are idempotent.
type ModelScoreSnapshot struct {
	ModelID         string
	PerformedAt     time.Time
	Metrics         map[string]*float64
	PredictionCount int
	CreatedAt       time.Time
}
