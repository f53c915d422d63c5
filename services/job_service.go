package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/metrics"
	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/types/credit"
	"snapfuseAPI/internal/types/job"
)

type JobService struct {
	ledger *Ledger
	logger zerolog.Logger
}

func NewJobService(ledger *Ledger, logger zerolog.Logger) *JobService {
	return &JobService{
		ledger: ledger,
		logger: logger.With().Str("service", "jobs").Logger(),
	}
}

// CreateJobRecord debits the kind's cost and inserts the job as processing
// in one transaction. Nothing is written when the user cannot pay.
func (s *JobService) CreateJobRecord(ctx context.Context, kind job.Kind, clerkID string, rec job.NewRecord) (*job.Job, error) {
	if !kind.Valid() {
		return nil, apperror.ValidationFailed("kind", "unknown job kind")
	}
	if rec.RequestID == "" {
		return nil, apperror.ValidationFailed("requestId", "request id is required")
	}

	var created *job.Job
	err := s.ledger.inTx(ctx, func(tx *ledgerTx) error {
		u, err := tx.q.LockUserByClerkID(ctx, clerkID)
		if err != nil {
			return err
		}

		if _, err := tx.debit(ctx, u, kind.Cost(), kind.DebitReason(), rec.RequestID, string(kind)); err != nil {
			return err
		}

		j := &job.Job{
			Kind:       kind,
			RequestID:  rec.RequestID,
			UserID:     u.ID,
			Prompt:     rec.Prompt,
			InputURL:   rec.InputURL,
			Status:     job.StatusProcessing,
			CreditCost: kind.Cost(),
		}
		if err := tx.q.InsertJob(ctx, j); err != nil {
			return err
		}
		created = j
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.JobTransitions.WithLabelValues(string(kind), string(job.StatusProcessing)).Inc()
	s.logger.Info().Str("kind", string(kind)).Str("request_id", rec.RequestID).Str("clerk_id", clerkID).
		Int("cost", created.CreditCost).Msg("job created")
	return created, nil
}

func (s *JobService) CreateImageJobRecord(ctx context.Context, clerkID, requestID, prompt, inputURL string) (*job.Job, error) {
	return s.CreateJobRecord(ctx, job.KindImage, clerkID, job.NewRecord{RequestID: requestID, Prompt: prompt, InputURL: inputURL})
}

func (s *JobService) CreateVideoJobRecord(ctx context.Context, clerkID, requestID, prompt, inputURL string) (*job.Job, error) {
	return s.CreateJobRecord(ctx, job.KindVideo, clerkID, job.NewRecord{RequestID: requestID, Prompt: prompt, InputURL: inputURL})
}

// UpdateJobStatus applies a provider status to a job. Terminal jobs are left
// alone, so redelivered webhooks are no-ops. An error status refunds the
// job's cost in the same transaction.
func (s *JobService) UpdateJobStatus(ctx context.Context, kind job.Kind, result job.ProviderResult) (*job.Transition, error) {
	return s.transition(ctx, kind, result, credit.ReasonErrorRefund, "refund")
}

func (s *JobService) UpdateImageJobStatus(ctx context.Context, requestID, providerStatus, outputURL, errorMessage string) (*job.Transition, error) {
	return s.UpdateJobStatus(ctx, job.KindImage, job.ProviderResult{
		RequestID: requestID, ProviderStatus: providerStatus, OutputURL: outputURL, ErrorMessage: errorMessage,
	})
}

func (s *JobService) UpdateVideoJobStatus(ctx context.Context, requestID, providerStatus, outputURL, errorMessage string) (*job.Transition, error) {
	return s.UpdateJobStatus(ctx, job.KindVideo, job.ProviderResult{
		RequestID: requestID, ProviderStatus: providerStatus, OutputURL: outputURL, ErrorMessage: errorMessage,
	})
}

func (s *JobService) transition(ctx context.Context, kind job.Kind, result job.ProviderResult, refundReason, refundSource string) (*job.Transition, error) {
	var tr *job.Transition
	err := s.ledger.inTx(ctx, func(tx *ledgerTx) error {
		j, err := tx.q.LockJobByRequestID(ctx, kind, result.RequestID)
		if err != nil {
			return err
		}

		to := job.ParseProviderStatus(result.ProviderStatus)
		tr = &job.Transition{Job: j, From: j.Status, To: to}
		if j.Status.Terminal() {
			return nil
		}

		raw := result.ProviderStatus
		j.ProviderStatus = &raw
		j.Status = to

		switch to {
		case job.StatusDone:
			j.OutputURL = optional(result.OutputURL)
			j.ErrorMessage = nil
		case job.StatusError:
			msg := result.ErrorMessage
			if msg == "" {
				msg = "generation failed"
			}
			j.ErrorMessage = &msg

			u, err := tx.q.LockUserByID(ctx, j.UserID)
			if err != nil {
				return err
			}
			if _, err := tx.grant(ctx, u, j.CreditCost, refundReason, j.RequestID, refundSource); err != nil {
				return err
			}
			tr.Refunded = j.CreditCost
		}

		if err := tx.q.UpdateJobStatus(ctx, j); err != nil {
			return err
		}
		tr.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if tr.Applied {
		metrics.JobTransitions.WithLabelValues(string(kind), string(tr.To)).Inc()
		s.logger.Info().Str("kind", string(kind)).Str("request_id", result.RequestID).
			Str("from", string(tr.From)).Str("to", string(tr.To)).Int("refunded", tr.Refunded).Msg("job transitioned")
	} else {
		s.logger.Debug().Str("kind", string(kind)).Str("request_id", result.RequestID).
			Str("status", string(tr.From)).Msg("job already terminal, ignoring update")
	}
	return tr, nil
}

// ApplyProviderResult routes a generation webhook to whichever job table
// holds the request id, image jobs first.
func (s *JobService) ApplyProviderResult(ctx context.Context, result job.ProviderResult) (*job.Transition, error) {
	tr, err := s.UpdateJobStatus(ctx, job.KindImage, result)
	if err == nil || !errors.Is(err, apperror.ErrNotFound) {
		return tr, err
	}
	tr, err = s.UpdateJobStatus(ctx, job.KindVideo, result)
	if err != nil && errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFound("job", result.RequestID)
	}
	return tr, err
}

// ExpireJob fails a job that never received a terminal webhook and refunds it.
func (s *JobService) ExpireJob(ctx context.Context, kind job.Kind, requestID string) (*job.Transition, error) {
	return s.transition(ctx, kind, job.ProviderResult{
		RequestID:      requestID,
		ProviderStatus: "ERROR",
		ErrorMessage:   "generation timed out",
	}, credit.ReasonTimeoutRefund, "timeout_refund")
}

func (s *JobService) GetImageJobByRequestID(ctx context.Context, requestID string) (*job.Job, error) {
	return store.New(s.ledger.db).GetJobByRequestID(ctx, job.KindImage, requestID)
}

func (s *JobService) GetVideoJobByRequestID(ctx context.Context, requestID string) (*job.Job, error) {
	return store.New(s.ledger.db).GetJobByRequestID(ctx, job.KindVideo, requestID)
}

// GetUserJob returns a job only if it belongs to the caller.
func (s *JobService) GetUserJob(ctx context.Context, kind job.Kind, clerkID, requestID string) (*job.Job, error) {
	q := store.New(s.ledger.db)
	u, err := q.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return nil, err
	}
	j, err := q.GetJobByRequestID(ctx, kind, requestID)
	if err != nil {
		return nil, err
	}
	if j.UserID != u.ID {
		return nil, apperror.NotFound(string(kind)+" job", requestID)
	}
	return j, nil
}

func (s *JobService) ListUserJobs(ctx context.Context, kind job.Kind, clerkID string, limit int) ([]job.Job, error) {
	q := store.New(s.ledger.db)
	u, err := q.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return nil, err
	}
	return q.ListJobsByUser(ctx, kind, u.ID, credit.ClampLimit(limit))
}

func (s *JobService) DeleteUserJob(ctx context.Context, kind job.Kind, clerkID, requestID string) error {
	q := store.New(s.ledger.db)
	u, err := q.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return err
	}
	return q.DeleteJob(ctx, kind, u.ID, requestID)
}

// ListStaleJobs returns up to limit non-terminal jobs last touched before before.
func (s *JobService) ListStaleJobs(ctx context.Context, kind job.Kind, before time.Time, limit int) ([]job.Job, error) {
	return store.New(s.ledger.db).ListStaleJobs(ctx, kind, before, limit)
}
