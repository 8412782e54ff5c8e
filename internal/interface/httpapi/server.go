// Package httpapi は解析オーケストレータのREST APIを提供します。
// 元になったゲートウェイのエンドポイント構成（/api/v1/jobs 系）を踏襲し、
// ライブ更新はWebSocketの代わりにSSEで配信する。
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/VolodymyrStetsenko/rukh/internal/core/analysis"
)

// Server はHTTP APIサーバです
type Server struct {
	service *analysis.Service
	logger  *slog.Logger
	httpSrv *http.Server
}

// NewServer は新しいServerを作成します
func NewServer(addr string, service *analysis.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		service: service,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Delete("/jobs/{jobID}", s.handleCancelJob)
		r.Get("/jobs/{jobID}/findings", s.handleGetFindings)
		r.Get("/jobs/{jobID}/artifacts", s.handleGetArtifacts)
		r.Get("/jobs/{jobID}/events", s.handleJobEvents)
		r.Get("/stats", s.handleStats)
	})

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe はサーバを起動し、ctxのキャンセルでgraceful shutdownする
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP APIサーバを起動します", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("HTTP APIサーバを停止します")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
