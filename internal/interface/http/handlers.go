package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/exp-hub/experiment-engine/internal/application/command"
	"github.com/exp-hub/experiment-engine/internal/application/query"
	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "The requested resource was not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "experiment-engine",
		"version": "v1",
		"status":  "operational",
	})
}

// handleHealth reports liveness plus storage reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "healthy",
		"uptime": s.Uptime().String(),
	}

	if s.deps.HealthChecker != nil {
		ctx, cancel := contextWithTimeout(r, 5*time.Second)
		defer cancel()
		if err := s.deps.HealthChecker.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["storage"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["storage"] = "ok"
	}

	writeJSON(w, http.StatusOK, status)
}

// handleReady reports readiness to take traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		ctx, cancel := contextWithTimeout(r, 5*time.Second)
		defer cancel()
		if err := s.deps.HealthChecker.Ping(ctx); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "storage is unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive reports process liveness.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PLANNING
// ══════════════════════════════════════════════════════════════════════════════

type designRequest struct {
	MetricType        string  `json:"metric_type"`
	Baseline          float64 `json:"baseline"`
	StdDev            float64 `json:"std_dev,omitempty"`
	MDE               float64 `json:"mde"`
	Relative          bool    `json:"relative,omitempty"`
	Alpha             float64 `json:"alpha,omitempty"`
	Power             float64 `json:"power,omitempty"`
	DailyTraffic      int     `json:"daily_traffic,omitempty"`
	TrafficFraction   float64 `json:"traffic_fraction,omitempty"`
	WeeklySeasonality bool    `json:"weekly_seasonality,omitempty"`
}

// handleDesignExperiment computes the sample size plan and duration estimate.
func (s *Server) handleDesignExperiment(w http.ResponseWriter, r *http.Request) {
	var req designRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.DesignExperiment.Handle(query.DesignExperimentQuery{
		MetricType:        experiment.MetricType(req.MetricType),
		Baseline:          req.Baseline,
		StdDev:            req.StdDev,
		MDE:               req.MDE,
		Relative:          req.Relative,
		Alpha:             req.Alpha,
		Power:             req.Power,
		DailyTraffic:      req.DailyTraffic,
		TrafficFraction:   req.TrafficFraction,
		WeeklySeasonality: req.WeeklySeasonality,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

type registerExperimentRequest struct {
	ID                  string               `json:"experiment_id"`
	StartAt             time.Time            `json:"start_at,omitempty"`
	EndAt               time.Time            `json:"end_at,omitempty"`
	TrafficFraction     float64              `json:"traffic_fraction"`
	RandomizationUnit   string               `json:"randomization_unit"`
	Salt                string               `json:"salt,omitempty"`
	SwitchbackWindowMS  int64                `json:"switchback_window_ms,omitempty"`
	Variants            []experiment.Variant `json:"variants"`
	PrimaryMetric       experiment.Metric    `json:"primary_metric"`
	Guardrails          []experiment.Metric  `json:"guardrails,omitempty"`
	Alpha               float64              `json:"alpha,omitempty"`
	Power               float64              `json:"power,omitempty"`
	PlannedSamplePerArm int                  `json:"planned_sample_per_arm,omitempty"`
	PlannedPeeks        int                  `json:"planned_peeks,omitempty"`
	Adaptive            bool                 `json:"adaptive,omitempty"`
}

// handleRegisterExperiment stores a new experiment definition.
func (s *Server) handleRegisterExperiment(w http.ResponseWriter, r *http.Request) {
	var req registerExperimentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RegisterExperiment.Handle(r.Context(), command.RegisterExperimentCommand{
		ID:                  req.ID,
		StartAt:             req.StartAt,
		EndAt:               req.EndAt,
		TrafficFraction:     req.TrafficFraction,
		Unit:                experiment.RandomizationUnit(req.RandomizationUnit),
		Salt:                req.Salt,
		SwitchbackWindow:    time.Duration(req.SwitchbackWindowMS) * time.Millisecond,
		Variants:            req.Variants,
		PrimaryMetric:       req.PrimaryMetric,
		Guardrails:          req.Guardrails,
		Alpha:               req.Alpha,
		Power:               req.Power,
		PlannedSamplePerArm: req.PlannedSamplePerArm,
		PlannedPeeks:        req.PlannedPeeks,
		CorrelationID:       getRequestID(r.Context()),
		Adaptive:            req.Adaptive,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleStartExperiment transitions a draft experiment into running.
func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	err := s.deps.StartExperiment.Handle(r.Context(), command.StartExperimentCommand{
		ExperimentID:  r.PathValue("id"),
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

type finalizeRequest struct {
	FinalRunID string `json:"final_run_id,omitempty"`
	Abort      bool   `json:"abort,omitempty"`
}

// handleFinalizeExperiment closes the experiment and its peek schedule.
func (s *Server) handleFinalizeExperiment(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if r.ContentLength > 0 && !s.decodeBody(w, r, &req) {
		return
	}

	err := s.deps.FinalizeExperiment.Handle(r.Context(), command.FinalizeExperimentCommand{
		ExperimentID:  r.PathValue("id"),
		FinalRunID:    req.FinalRunID,
		Abort:         req.Abort,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := "completed"
	if req.Abort {
		status = "aborted"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// ══════════════════════════════════════════════════════════════════════════════
// RUNTIME
// ══════════════════════════════════════════════════════════════════════════════

// handleResolveAssignment maps a unit to its variant.
func (s *Server) handleResolveAssignment(w http.ResponseWriter, r *http.Request) {
	q := query.ResolveAssignmentQuery{
		ExperimentID: r.PathValue("id"),
		SubjectID:    r.URL.Query().Get("subject_id"),
		Stratum:      r.URL.Query().Get("stratum"),
		ClusterID:    r.URL.Query().Get("cluster_id"),
	}
	if at := r.URL.Query().Get("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_input", "at must be RFC3339")
			return
		}
		q.At = t
	}

	result, err := s.deps.ResolveAssignment.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type ingestRequest struct {
	Observations []analysis.Observation `json:"observations"`
}

// handleIngestObservations accepts a batch of raw observations. The strict
// query parameter switches to all-or-nothing semantics where replayed rows
// reject the whole batch.
func (s *Server) handleIngestObservations(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.IngestObservations.Handle(r.Context(), command.IngestObservationsCommand{
		ExperimentID:  r.PathValue("id"),
		Observations:  req.Observations,
		Strict:        getQueryParamBool(r, "strict"),
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

type rewardRequest struct {
	VariantLabel string  `json:"variant_label"`
	Binary       bool    `json:"binary,omitempty"`
	Success      bool    `json:"success,omitempty"`
	Reward       float64 `json:"reward,omitempty"`
}

// handleRecordReward feeds a reward back into the bandit allocator.
func (s *Server) handleRecordReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	err := s.deps.RecordReward.Handle(r.Context(), command.RecordRewardCommand{
		ExperimentID:  r.PathValue("id"),
		VariantLabel:  req.VariantLabel,
		Binary:        req.Binary,
		Success:       req.Success,
		Reward:        req.Reward,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// ══════════════════════════════════════════════════════════════════════════════
// READ-OUTS
// ══════════════════════════════════════════════════════════════════════════════

type analyzeRequest struct {
	Sequential     bool   `json:"sequential,omitempty"`
	Correction     string `json:"correction,omitempty"`
	PooledVariance bool   `json:"pooled_variance,omitempty"`
}

// handleRunAnalysis runs the statistical engine over the current data.
func (s *Server) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if r.ContentLength > 0 && !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RunAnalysis.Handle(r.Context(), command.RunAnalysisCommand{
		ExperimentID:   r.PathValue("id"),
		Sequential:     req.Sequential,
		Correction:     analysis.CorrectionMethod(req.Correction),
		PooledVariance: req.PooledVariance,
		CorrelationID:  getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetResults returns the latest run, or the full history with ?history=true.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetResults.Handle(r.Context(), query.GetResultsQuery{
		ExperimentID: r.PathValue("id"),
		FullHistory:  getQueryParamBool(r, "history"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCheckIntegrity runs the on-demand sample ratio check.
func (s *Server) handleCheckIntegrity(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.CheckIntegrity.Handle(r.Context(), query.CheckIntegrityQuery{
		ExperimentID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes a JSON request body, writing the error response itself.
// Returns false when the request was rejected.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid_input", "request body is required")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return false
	}
	return true
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, shared.ErrAlreadyExists):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, shared.ErrDuplicateObservation):
		writeJSONError(w, http.StatusConflict, "duplicate_observation", err.Error())
	case errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrStateTransition),
		errors.Is(err, shared.ErrExperimentAlreadyFinalized):
		writeJSONError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, shared.ErrInvalidConfiguration),
		errors.Is(err, shared.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, shared.ErrIndeterminate):
		writeJSONError(w, http.StatusUnprocessableEntity, "indeterminate", err.Error())
	case errors.Is(err, shared.ErrTimeout):
		writeJSONError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		s.logger.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
