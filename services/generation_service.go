package services

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/falai"
	"snapfuseAPI/internal/metrics"
	"snapfuseAPI/internal/types/job"
)

// GenerationProvider queues a generation and reports results to webhookURL.
type GenerationProvider interface {
	Submit(ctx context.Context, model string, input any, webhookURL string) (*falai.SubmitResponse, error)
}

type GenerationConfig struct {
	ImageModel   string
	VideoModel   string
	AppBaseURL   string
	WebhookToken string
}

type GenerationService struct {
	jobs       *JobService
	credits    *CreditService
	provider   GenerationProvider
	cfg        GenerationConfig
	webhookURL string
	logger     zerolog.Logger
}

func NewGenerationService(jobs *JobService, credits *CreditService, provider GenerationProvider, cfg GenerationConfig, logger zerolog.Logger) *GenerationService {
	return &GenerationService{
		jobs:       jobs,
		credits:    credits,
		provider:   provider,
		cfg:        cfg,
		webhookURL: callbackURL(cfg.AppBaseURL, cfg.WebhookToken),
		logger:     logger.With().Str("service", "generation").Logger(),
	}
}

func callbackURL(baseURL, token string) string {
	u := baseURL + "/webhooks/falai"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (s *GenerationService) GenerateImage(ctx context.Context, clerkID string, req job.ImageRequest) (*job.Job, error) {
	input := map[string]any{
		"prompt":    req.Prompt,
		"image_url": req.ImageURL,
	}
	if req.ImageSize != "" {
		input["image_size"] = req.ImageSize
	}
	return s.generate(ctx, job.KindImage, clerkID, s.cfg.ImageModel, input, job.NewRecord{Prompt: req.Prompt, InputURL: req.ImageURL})
}

func (s *GenerationService) GenerateVideo(ctx context.Context, clerkID string, req job.VideoRequest) (*job.Job, error) {
	input := map[string]any{
		"prompt":    req.Prompt,
		"image_url": req.ImageURL,
	}
	if req.Duration != "" {
		input["duration"] = req.Duration
	}
	return s.generate(ctx, job.KindVideo, clerkID, s.cfg.VideoModel, input, job.NewRecord{Prompt: req.Prompt, InputURL: req.ImageURL})
}

// generate checks the balance, submits to the provider and then records the
// job with its debit. The provider is never called for a user who cannot pay.
func (s *GenerationService) generate(ctx context.Context, kind job.Kind, clerkID, model string, input map[string]any, rec job.NewRecord) (*job.Job, error) {
	check, err := s.credits.CheckCredits(ctx, clerkID, kind.Cost())
	if err != nil {
		return nil, err
	}
	if !check.HasEnough {
		metrics.InsufficientCredits.Inc()
		return nil, apperror.InsufficientCredits(check.Credits, check.Required)
	}

	start := time.Now()
	resp, err := s.provider.Submit(ctx, model, input, s.webhookURL)
	if err != nil {
		metrics.ProviderRequestDuration.WithLabelValues(string(kind), "error").Observe(time.Since(start).Seconds())
		s.logger.Error().Err(err).Str("kind", string(kind)).Str("clerk_id", clerkID).Msg("provider submission failed")
		return nil, err
	}
	metrics.ProviderRequestDuration.WithLabelValues(string(kind), "ok").Observe(time.Since(start).Seconds())

	rec.RequestID = resp.RequestID
	j, err := s.jobs.CreateJobRecord(ctx, kind, clerkID, rec)
	if err != nil {
		// The provider will still run this request; its webhook finds no job.
		evt := s.logger.Warn()
		if !errors.Is(err, apperror.ErrInsufficientCredits) {
			evt = s.logger.Error()
		}
		evt.Err(err).Str("kind", string(kind)).Str("request_id", resp.RequestID).Str("clerk_id", clerkID).
			Msg("orphaned provider request: job record not created")
		return nil, err
	}
	return j, nil
}
