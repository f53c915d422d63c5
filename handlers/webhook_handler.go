package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/falai"
	"snapfuseAPI/internal/metrics"
	"snapfuseAPI/internal/types/clerk"
	"snapfuseAPI/internal/types/job"
	"snapfuseAPI/internal/types/user"
	"snapfuseAPI/services"
)

const (
	maxWebhookBodyBytes = int64(65536)
	svixTolerance       = 5 * time.Minute
)

type UserSyncer interface {
	CreateUser(ctx context.Context, req *user.CreateUserRequest) (*user.User, error)
	UpdateProfileByClerkID(ctx context.Context, clerkID string, req *user.UpdateProfileRequest) (*user.User, error)
	DeleteUserByClerkID(ctx context.Context, clerkID string) error
}

type StripeEventHandler interface {
	HandleEvent(ctx context.Context, event stripe.Event) (services.EventOutcome, error)
}

type ProviderResultApplier interface {
	ApplyProviderResult(ctx context.Context, result job.ProviderResult) (*job.Transition, error)
}

type WebhookSecrets struct {
	ClerkSecret  string
	StripeSecret string
	FalToken     string
}

type WebhookHandler struct {
	users   UserSyncer
	billing StripeEventHandler
	jobs    ProviderResultApplier
	secrets WebhookSecrets
	now     func() time.Time
	logger  zerolog.Logger
}

func NewWebhookHandler(users UserSyncer, billing StripeEventHandler, jobs ProviderResultApplier, secrets WebhookSecrets, logger zerolog.Logger) *WebhookHandler {
	l := logger.With().Str("handler", "webhook").Logger()
	if secrets.ClerkSecret == "" {
		l.Warn().Msg("CLERK_WEBHOOK_SECRET not set, Clerk webhook signatures will not be verified")
	}
	if secrets.FalToken == "" {
		l.Warn().Msg("FAL_WEBHOOK_TOKEN not set, fal.ai webhooks are accepted without a token")
	}
	return &WebhookHandler{
		users:   users,
		billing: billing,
		jobs:    jobs,
		secrets: secrets,
		now:     time.Now,
		logger:  l,
	}
}

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	return io.ReadAll(r.Body)
}

func (h *WebhookHandler) HandleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readWebhookBody(w, r)
	if err != nil {
		h.logger.Warn().Err(err).Msg("error reading Clerk webhook body")
		respondWithError(w, http.StatusBadRequest, "Error reading body")
		return
	}

	if h.secrets.ClerkSecret != "" {
		if err := verifySvixSignature(h.secrets.ClerkSecret, r.Header, body, h.now()); err != nil {
			h.logger.Warn().Err(err).Msg("invalid Clerk webhook signature")
			metrics.WebhookEvents.WithLabelValues("clerk", "unknown", "rejected").Inc()
			respondWithError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
	}

	var event clerk.ClerkWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondWithError(w, http.StatusBadRequest, "Error parsing webhook")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	log := h.logger.With().Str("event_type", event.Type).Logger()
	result := "applied"

	switch event.Type {
	case "user.created":
		err = h.handleUserCreated(ctx, event.Data)
	case "user.updated":
		err = h.handleUserUpdated(ctx, event.Data)
	case "user.deleted":
		err = h.handleUserDeleted(ctx, event.Data)
	default:
		log.Debug().Msg("unhandled Clerk webhook event type")
		result = "ignored"
	}

	if err != nil {
		log.Error().Err(err).Msg("error processing Clerk webhook")
		metrics.WebhookEvents.WithLabelValues("clerk", event.Type, "failed").Inc()
		respondWithError(w, apperror.HTTPStatus(err), "Error processing webhook")
		return
	}

	metrics.WebhookEvents.WithLabelValues("clerk", event.Type, result).Inc()
	respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *WebhookHandler) handleUserCreated(ctx context.Context, data json.RawMessage) error {
	var userData clerk.ClerkUserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return apperror.ValidationFailed("data", "malformed user payload")
	}
	if userData.ID == "" {
		return apperror.ValidationFailed("id", "user id is required")
	}

	_, err := h.users.CreateUser(ctx, &user.CreateUserRequest{
		ClerkID:   userData.ID,
		Email:     userData.PrimaryEmail(),
		FirstName: userData.FirstName,
		LastName:  userData.LastName,
		ImageURL:  userData.Image(),
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// handleUserUpdated creates the user when the update arrives before the
// matching user.created delivery.
func (h *WebhookHandler) handleUserUpdated(ctx context.Context, data json.RawMessage) error {
	var userData clerk.ClerkUserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return apperror.ValidationFailed("data", "malformed user payload")
	}
	if userData.ID == "" {
		return apperror.ValidationFailed("id", "user id is required")
	}

	_, err := h.users.UpdateProfileByClerkID(ctx, userData.ID, &user.UpdateProfileRequest{
		Email:     userData.PrimaryEmail(),
		FirstName: userData.FirstName,
		LastName:  userData.LastName,
		ImageURL:  userData.Image(),
	})
	if errors.Is(err, apperror.ErrNotFound) {
		h.logger.Info().Str("clerk_id", userData.ID).Msg("updated user unknown locally, creating it")
		return h.handleUserCreated(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (h *WebhookHandler) handleUserDeleted(ctx context.Context, data json.RawMessage) error {
	var userData struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &userData); err != nil {
		return apperror.ValidationFailed("data", "malformed user payload")
	}
	if userData.ID == "" {
		return apperror.ValidationFailed("id", "user id is required")
	}

	if err := h.users.DeleteUserByClerkID(ctx, userData.ID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// verifySvixSignature checks a Svix-signed delivery: the secret is the
// base64 part of "whsec_...", the signed content is "id.timestamp.body" and
// svix-signature holds space separated "v1,<base64 hmac>" entries.
func verifySvixSignature(secret string, header http.Header, body []byte, now time.Time) error {
	svixID := header.Get("svix-id")
	svixTimestamp := header.Get("svix-timestamp")
	svixSignature := header.Get("svix-signature")
	if svixID == "" || svixTimestamp == "" || svixSignature == "" {
		return apperror.InvalidSignature(errors.New("missing svix headers"))
	}

	ts, err := strconv.ParseInt(svixTimestamp, 10, 64)
	if err != nil {
		return apperror.InvalidSignature(fmt.Errorf("bad timestamp %q", svixTimestamp))
	}
	sent := time.Unix(ts, 0)
	if now.Sub(sent) > svixTolerance || sent.Sub(now) > svixTolerance {
		return apperror.InvalidSignature(errors.New("timestamp outside tolerance"))
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return apperror.InvalidSignature(fmt.Errorf("decode secret: %w", err))
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(svixID + "." + svixTimestamp + "."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(svixSignature) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return apperror.InvalidSignature(errors.New("no matching signature"))
}

// HandleStripeWebhook processes events sent by Stripe
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readWebhookBody(w, r)
	if err != nil {
		h.logger.Warn().Err(err).Msg("error reading Stripe webhook body")
		respondWithError(w, http.StatusServiceUnavailable, "Error reading body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secrets.StripeSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn().Err(err).Msg("error verifying Stripe webhook signature")
		metrics.WebhookEvents.WithLabelValues("stripe", "unknown", "rejected").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	outcome, err := h.billing.HandleEvent(ctx, event)
	if err != nil {
		status := apperror.HTTPStatus(err)
		if status != http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		metrics.WebhookEvents.WithLabelValues("stripe", string(event.Type), "failed").Inc()
		respondWithError(w, status, "Error processing webhook")
		return
	}

	metrics.WebhookEvents.WithLabelValues("stripe", string(event.Type), string(outcome)).Inc()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// HandleFalWebhook applies a generation result. The callback url carries a
// shared token since fal.ai does not sign deliveries with our secret.
func (h *WebhookHandler) HandleFalWebhook(w http.ResponseWriter, r *http.Request) {
	if h.secrets.FalToken != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.secrets.FalToken)) != 1 {
			metrics.WebhookEvents.WithLabelValues("falai", "unknown", "rejected").Inc()
			respondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
	}

	body, err := readWebhookBody(w, r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Error reading body")
		return
	}

	result, err := falai.ParseWebhook(body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("malformed fal.ai webhook")
		metrics.WebhookEvents.WithLabelValues("falai", "unknown", "rejected").Inc()
		respondWithAppError(w, h.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	log := h.logger.With().Str("request_id", result.RequestID).Str("provider_status", result.ProviderStatus).Logger()

	tr, err := h.jobs.ApplyProviderResult(ctx, *result)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			log.Warn().Msg("fal.ai webhook for unknown request")
			metrics.WebhookEvents.WithLabelValues("falai", result.ProviderStatus, "ignored").Inc()
		} else {
			log.Error().Err(err).Msg("error applying fal.ai webhook")
			metrics.WebhookEvents.WithLabelValues("falai", result.ProviderStatus, "failed").Inc()
		}
		respondWithAppError(w, h.logger, err)
		return
	}

	outcome := "applied"
	if !tr.Applied {
		outcome = "duplicate"
	}
	metrics.WebhookEvents.WithLabelValues("falai", result.ProviderStatus, outcome).Inc()
	log.Info().Str("status", string(tr.To)).Int("refunded", tr.Refunded).Bool("applied", tr.Applied).Msg("fal.ai webhook processed")

	respondWithJSON(w, http.StatusOK, tr)
}
