package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"snapfuseAPI/internal/types/credit"
	"snapfuseAPI/internal/types/job"
	"snapfuseAPI/middleware"
)

type Generator interface {
	GenerateImage(ctx context.Context, clerkID string, req job.ImageRequest) (*job.Job, error)
	GenerateVideo(ctx context.Context, clerkID string, req job.VideoRequest) (*job.Job, error)
}

type JobStore interface {
	ListUserJobs(ctx context.Context, kind job.Kind, clerkID string, limit int) ([]job.Job, error)
	GetUserJob(ctx context.Context, kind job.Kind, clerkID, requestID string) (*job.Job, error)
	DeleteUserJob(ctx context.Context, kind job.Kind, clerkID, requestID string) error
}

type GenerationHandler struct {
	generator Generator
	jobs      JobStore
	logger    zerolog.Logger
}

func NewGenerationHandler(generator Generator, jobs JobStore, logger zerolog.Logger) *GenerationHandler {
	return &GenerationHandler{
		generator: generator,
		jobs:      jobs,
		logger:    logger.With().Str("handler", "generation").Logger(),
	}
}

// Provider submission is included, so these get a longer budget.
const generateTimeout = 30 * time.Second

func (h *GenerationHandler) CreateImage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), generateTimeout)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req job.ImageRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	created, err := h.generator.GenerateImage(ctx, clerkID, req)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, created)
}

func (h *GenerationHandler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), generateTimeout)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req job.VideoRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	created, err := h.generator.GenerateVideo(ctx, clerkID, req)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, created)
}

func (h *GenerationHandler) ListJobs(kind job.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		clerkID, ok := middleware.GetClerkID(ctx)
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}

		limit, err := queryInt(r, "limit", credit.DefaultHistoryLimit)
		if err != nil {
			respondWithAppError(w, h.logger, err)
			return
		}

		jobs, err := h.jobs.ListUserJobs(ctx, kind, clerkID, limit)
		if err != nil {
			respondWithAppError(w, h.logger, err)
			return
		}

		respondWithJSON(w, http.StatusOK, jobs)
	}
}

func (h *GenerationHandler) GetJob(kind job.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		clerkID, ok := middleware.GetClerkID(ctx)
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}

		j, err := h.jobs.GetUserJob(ctx, kind, clerkID, mux.Vars(r)["requestId"])
		if err != nil {
			respondWithAppError(w, h.logger, err)
			return
		}

		respondWithJSON(w, http.StatusOK, j)
	}
}

func (h *GenerationHandler) DeleteJob(kind job.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		clerkID, ok := middleware.GetClerkID(ctx)
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}

		if err := h.jobs.DeleteUserJob(ctx, kind, clerkID, mux.Vars(r)["requestId"]); err != nil {
			respondWithAppError(w, h.logger, err)
			return
		}

		respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
