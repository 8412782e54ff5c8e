package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/VolodymyrStetsenko/rukh/internal/core/analysis"
)

// submitRequest はジョブ投入リクエストのボディ
type submitRequest struct {
	ArtifactRef string              `json:"artifact_ref"`
	Options     analysis.JobOptions `json:"options"`
}

// errorResponse はエラーレスポンスのボディ
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleSubmitJob はジョブを受理する。
// フェーズグラフが構築できない設定は400とConfigErrorで拒否する。
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	snap, err := s.service.Submit(r.Context(), req.ArtifactRef, req.Options)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// handleListJobs はアーカイブ済みジョブの履歴を新しい順で返す
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	jobs, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	snap, err := s.service.Status(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.service.Cancel(r.Context(), jobID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGetFindings(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	findings, err := s.service.Findings(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conflicts, err := s.service.Conflicts(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"findings":  findings,
		"conflicts": conflicts,
	})
}

func (s *Server) handleGetArtifacts(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	artifacts, err := s.service.Artifacts(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeError はサービス層のエラーをHTTPステータスに対応付ける
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case analysis.IsConfigError(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "ConfigError"})
	case errors.Is(err, analysis.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case analysis.IsNotReady(err):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: "NotReady"})
	case errors.Is(err, analysis.ErrJobTerminal):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, analysis.ErrArchiveDisabled):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("リクエスト処理に失敗しました", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "jobID")
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id: %s", raw)
	}
	return jobID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
