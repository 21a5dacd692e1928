package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/seed"
	"github.com/cityhive/directory/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction status API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env, cfg.Server.AllowedOrigins),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the API router. Split out from the command so handler
// tests can run against an httptest server.
func newRouter(env *appEnv, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/extractions", handleCreateExtraction(env))
		r.Get("/extractions/{id}", handleGetExtraction(env))
		r.Post("/extractions/{id}/retry", handleRetryExtraction(env))
		r.Get("/entities", handleListEntities(env))
		r.Get("/metrics", handleMetrics(env))
	})

	return r
}

type createExtractionRequest struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	PlaceID string `json:"place_id,omitempty"`
	City    string `json:"city,omitempty"`
	Address string `json:"address,omitempty"`
	Website string `json:"website,omitempty"`
}

func handleCreateExtraction(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body createExtractionRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Name == "" && body.PlaceID == "" {
			writeError(w, http.StatusBadRequest, "name or place_id is required")
			return
		}
		t := model.EntityType(body.Type)
		if !t.Valid() {
			writeError(w, http.StatusBadRequest, "unknown entity type")
			return
		}
		def, err := env.definitionFor(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		entity := seed.NewEntity(t, body.Name, body.PlaceID)
		entity.City = body.City
		entity.Address = body.Address
		entity.Website = body.Website

		if err := env.Store.CreateEntity(req.Context(), entity); err != nil {
			zap.L().Error("api: create entity failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "create entity failed")
			return
		}

		// Fire and forget; progress is queryable via GET /api/extractions/{id}.
		go func() {
			_, err := env.Orchestrator.Execute(context.Background(), entity.ID, def, engine.Options{})
			if err != nil {
				zap.L().Error("api: extraction failed",
					zap.String("entity", entity.ID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"id": entity.ID, "status": "accepted"})
	}
}

func handleGetExtraction(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		entity, err := env.Store.GetEntity(req.Context(), id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "entity not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load entity failed")
			return
		}
		def, err := env.definitionFor(entity.Type)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, engine.BuildReport(def, entity))
	}
}

func handleRetryExtraction(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		entity, err := env.Store.GetEntity(req.Context(), id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "entity not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load entity failed")
			return
		}
		def, err := env.definitionFor(entity.Type)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		summary, err := env.Orchestrator.Resume(req.Context(), id, def)
		if err != nil {
			if eris.Is(err, engine.ErrAlreadyRunning) {
				writeError(w, http.StatusConflict, "extraction already running")
				return
			}
			zap.L().Error("api: retry failed", zap.String("entity", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "retry failed")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleListEntities(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := store.EntityFilter{
			Type:   model.EntityType(q.Get("type")),
			Status: model.ExtractionStatus(q.Get("status")),
			City:   q.Get("city"),
			Limit:  50,
		}
		if raw := q.Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
				filter.Limit = n
			}
		}
		if raw := q.Get("offset"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				filter.Offset = n
			}
		}

		entities, err := env.Store.ListEntities(req.Context(), filter)
		if err != nil {
			zap.L().Error("api: list entities failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list entities failed")
			return
		}
		if entities == nil {
			entities = []model.Entity{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
	}
}

func handleMetrics(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		lookback := 24
		if raw := req.URL.Query().Get("lookback_hours"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				lookback = n
			}
		}
		snap, err := env.Collector.Collect(req.Context(), lookback)
		if err != nil {
			zap.L().Error("api: collect metrics failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "collect metrics failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
