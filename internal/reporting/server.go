// Package reporting serves read-only JSON projections of tournament state.
package reporting

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// Options contains the dependencies for creating a Server.
type Options struct {
	Models       storage.ModelStore
	Leaderboards storage.LeaderboardStore
	Checkpoints  storage.CheckpointStore
	Ingestion    storage.IngestionStateStore // optional, enriches /status
	Logger       *log.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Server exposes the tournament's read side: the latest leaderboard, the
// model registry with aggregated scores, checkpoints and a status summary.
type Server struct {
	models       storage.ModelStore
	leaderboards storage.LeaderboardStore
	checkpoints  storage.CheckpointStore
	ingestion    storage.IngestionStateStore
	logger       *log.Logger
	now          func() time.Time
	started      time.Time
}

// NewServer creates a reporting server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{
		models:       opts.Models,
		leaderboards: opts.Leaderboards,
		checkpoints:  opts.Checkpoints,
		ingestion:    opts.Ingestion,
		logger:       logger,
		now:          now,
		started:      now(),
	}
}

// Handler returns the route mux for the read API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /leaderboard.csv", s.handleLeaderboardCSV)
	mux.HandleFunc("GET /report.md", s.handleReportMarkdown)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /models/{id}", s.handleModel)
	mux.HandleFunc("GET /checkpoints/latest", s.handleLatestCheckpoint)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// LeaderboardResponse is the JSON shape of /leaderboard.
type LeaderboardResponse struct {
	ID        string                  `json:"id"`
	CreatedAt time.Time               `json:"created_at"`
	Meta      map[string]any          `json:"meta,omitempty"`
	Entries   []LeaderboardEntryModel `json:"entries"`
}

// LeaderboardEntryModel is one ranked row of /leaderboard.
type LeaderboardEntryModel struct {
	Rank             int                 `json:"rank"`
	ModelID          string              `json:"model_id"`
	ModelName        string              `json:"model_name"`
	PlayerName       string              `json:"player_name"`
	Metrics          map[string]*float64 `json:"metrics"`
	RankingKey       string              `json:"ranking_key"`
	RankingValue     *float64            `json:"ranking_value"`
	RankingDirection string              `json:"ranking_direction"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := s.leaderboards.GetLatest(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no leaderboard built yet")
			return
		}
		s.internalError(w, "get latest leaderboard", err)
		return
	}

	resp := LeaderboardResponse{
		ID:        lb.ID,
		CreatedAt: lb.CreatedAt,
		Meta:      lb.Meta,
		Entries:   make([]LeaderboardEntryModel, len(lb.Entries)),
	}
	for i, e := range lb.Entries {
		resp.Entries[i] = LeaderboardEntryModel{
			Rank:             e.Rank,
			ModelID:          e.ModelID,
			ModelName:        e.ModelName,
			PlayerName:       e.PlayerName,
			Metrics:          e.Score.Metrics,
			RankingKey:       e.Score.Ranking.Key,
			RankingValue:     e.Score.Ranking.Value,
			RankingDirection: e.Score.Ranking.Direction,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeaderboardCSV(w http.ResponseWriter, r *http.Request) {
	lb, err := s.leaderboards.GetLatest(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no leaderboard built yet")
			return
		}
		s.internalError(w, "get latest leaderboard", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(RenderLeaderboardCSV(lb.Entries)))
}

func (s *Server) handleReportMarkdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report := &Report{GeneratedAt: s.now()}

	models, err := s.models.List(ctx)
	if err != nil {
		s.internalError(w, "list models", err)
		return
	}
	report.ModelCount = len(models)

	if lb, err := s.leaderboards.GetLatest(ctx); err == nil {
		report.Leaderboard = lb
	}
	if ck, err := s.checkpoints.GetLatest(ctx); err == nil {
		report.Checkpoint = ck
	}
	if s.ingestion != nil {
		if watermarks, err := s.ingestion.List(ctx); err == nil {
			for _, wm := range watermarks {
				report.Watermarks = append(report.Watermarks, *wm)
			}
		}
	}

	w.Header().Set("Content-Type", "text/markdown")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(RenderMarkdown(report)))
}

// ModelResponse is the JSON shape of one registered model.
type ModelResponse struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	PlayerID      string              `json:"player_id"`
	PlayerName    string              `json:"player_name"`
	Deployment    string              `json:"deployment_identifier,omitempty"`
	OverallScore  map[string]*float64 `json:"overall_score,omitempty"`
	ScoresByScope []ScopeScoreModel   `json:"scores_by_scope,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// ScopeScoreModel is a model's windowed score for one prediction scope.
type ScopeScoreModel struct {
	ScopeKey string              `json:"scope_key"`
	Asset    string              `json:"asset"`
	Horizon  int64               `json:"horizon_seconds"`
	Steps    []int64             `json:"step_seconds"`
	Metrics  map[string]*float64 `json:"metrics"`
}

func toModelResponse(m *domain.Model) ModelResponse {
	resp := ModelResponse{
		ID:         m.ID,
		Name:       m.Name,
		PlayerID:   m.PlayerID,
		PlayerName: m.PlayerName,
		Deployment: m.DeploymentIdentifier,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.OverallScore != nil {
		resp.OverallScore = m.OverallScore.Metrics()
	}
	for _, sc := range m.ScoresByScope {
		resp.ScoresByScope = append(resp.ScoresByScope, ScopeScoreModel{
			ScopeKey: sc.Params.Key(),
			Asset:    sc.Params.Asset,
			Horizon:  sc.Params.Horizon,
			Steps:    sc.Params.Steps,
			Metrics:  sc.Score.Metrics(),
		})
	}
	return resp
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.List(r.Context())
	if err != nil {
		s.internalError(w, "list models", err)
		return
	}

	resp := make([]ModelResponse, len(models))
	for i, m := range models {
		resp[i] = toModelResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.models.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "model not found")
			return
		}
		s.internalError(w, "get model", err)
		return
	}
	writeJSON(w, http.StatusOK, toModelResponse(m))
}

// CheckpointResponse is the JSON shape of /checkpoints/latest.
type CheckpointResponse struct {
	ID          string         `json:"id"`
	PeriodStart time.Time      `json:"period_start"`
	PeriodEnd   time.Time      `json:"period_end"`
	Status      string         `json:"status"`
	Rewards     []RewardModel  `json:"rewards"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// RewardModel is one participant's frac64 share.
type RewardModel struct {
	CruncherIndex int    `json:"cruncher_index"`
	ModelID       string `json:"model_id"`
	RewardPct     int64  `json:"reward_pct"`
}

func (s *Server) handleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	ck, err := s.checkpoints.GetLatest(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no checkpoint built yet")
			return
		}
		s.internalError(w, "get latest checkpoint", err)
		return
	}

	resp := CheckpointResponse{
		ID:          ck.ID,
		PeriodStart: ck.PeriodStart,
		PeriodEnd:   ck.PeriodEnd,
		Status:      string(ck.Status),
		Meta:        ck.Meta,
		Rewards:     make([]RewardModel, len(ck.Emission.CruncherRewards)),
	}
	for i, rw := range ck.Emission.CruncherRewards {
		resp.Rewards[i] = RewardModel(rw)
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusResponse is the JSON shape of /status.
type StatusResponse struct {
	Status         string           `json:"status"`
	Uptime         string           `json:"uptime"`
	ModelCount     int              `json:"model_count"`
	LatestBoard    *time.Time       `json:"latest_leaderboard_at,omitempty"`
	LatestPeriod   *time.Time       `json:"latest_checkpoint_period_end,omitempty"`
	FeedWatermarks []WatermarkModel `json:"feed_watermarks,omitempty"`
}

// WatermarkModel is one feed stream's ingestion watermark.
type WatermarkModel struct {
	Source      string    `json:"source"`
	Subject     string    `json:"subject"`
	Kind        string    `json:"kind"`
	Granularity string    `json:"granularity"`
	LastEventTs int64     `json:"last_event_ts"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Status: "running",
		Uptime: s.now().Sub(s.started).String(),
	}

	models, err := s.models.List(ctx)
	if err != nil {
		s.internalError(w, "list models", err)
		return
	}
	resp.ModelCount = len(models)

	if lb, err := s.leaderboards.GetLatest(ctx); err == nil {
		resp.LatestBoard = &lb.CreatedAt
	}
	if ck, err := s.checkpoints.GetLatest(ctx); err == nil {
		resp.LatestPeriod = &ck.PeriodEnd
	}
	if s.ingestion != nil {
		watermarks, err := s.ingestion.List(ctx)
		if err == nil {
			for _, wm := range watermarks {
				resp.FeedWatermarks = append(resp.FeedWatermarks, WatermarkModel{
					Source:      wm.Scope.Source,
					Subject:     wm.Scope.Subject,
					Kind:        wm.Scope.Kind,
					Granularity: wm.Scope.Granularity,
					LastEventTs: wm.LastEventTs,
					UpdatedAt:   wm.UpdatedAt,
				})
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Printf("reporting: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
