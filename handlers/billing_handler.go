package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"snapfuseAPI/internal/types/credit"
	"snapfuseAPI/internal/types/payment"
	"snapfuseAPI/internal/types/subscription"
	"snapfuseAPI/middleware"
)

type BillingManager interface {
	CreateSubscriptionCheckout(ctx context.Context, clerkID string, planID subscription.Plan) (string, error)
	CreateTopupCheckout(ctx context.Context, clerkID, topupID string) (string, error)
	CreatePortalSession(ctx context.Context, clerkID string) (string, error)
	ListPayments(ctx context.Context, clerkID string, limit int) ([]payment.Payment, error)
}

type BillingHandler struct {
	billing BillingManager
	catalog *subscription.Catalog
	logger  zerolog.Logger
}

func NewBillingHandler(billing BillingManager, catalog *subscription.Catalog, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billing,
		catalog: catalog,
		logger:  logger.With().Str("handler", "billing").Logger(),
	}
}

func (h *BillingHandler) GetPlans(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"plans":  h.catalog.Plans(),
		"topups": h.catalog.Topups(),
	})
}

func (h *BillingHandler) CreateSubscriptionCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req subscription.SubscribeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	url, err := h.billing.CreateSubscriptionCheckout(ctx, clerkID, req.PlanID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, subscription.CheckoutResponse{CheckoutURL: url})
}

func (h *BillingHandler) CreateTopupCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req subscription.TopupRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	url, err := h.billing.CreateTopupCheckout(ctx, clerkID, req.TopupID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, subscription.CheckoutResponse{CheckoutURL: url})
}

func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	url, err := h.billing.CreatePortalSession(ctx, clerkID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, subscription.PortalResponse{PortalURL: url})
}

func (h *BillingHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
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

	payments, err := h.billing.ListPayments(ctx, clerkID, limit)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, payments)
}
