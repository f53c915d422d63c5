package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"snapfuseAPI/internal/types/credit"
	"snapfuseAPI/middleware"
)

type CreditReader interface {
	GetUserCredits(ctx context.Context, clerkID string) (int, error)
	CheckCredits(ctx context.Context, clerkID string, required int) (*credit.CheckResult, error)
	GetCreditHistory(ctx context.Context, clerkID string, limit int) ([]credit.Transaction, error)
}

type CreditsHandler struct {
	credits CreditReader
	logger  zerolog.Logger
}

func NewCreditsHandler(credits CreditReader, logger zerolog.Logger) *CreditsHandler {
	return &CreditsHandler{
		credits: credits,
		logger:  logger.With().Str("handler", "credits").Logger(),
	}
}

func (h *CreditsHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	credits, err := h.credits.GetUserCredits(ctx, clerkID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, credit.BalanceResponse{Credits: credits})
}

func (h *CreditsHandler) CheckCredits(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	required, err := queryInt(r, "required", 1)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	if required < 0 {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'required' must not be negative")
		return
	}

	result, err := h.credits.CheckCredits(ctx, clerkID, required)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *CreditsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
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

	history, err := h.credits.GetCreditHistory(ctx, clerkID, limit)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}
