package job

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"snapfuseAPI/internal/types/credit"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Cost is the credit price of one generation of this kind.
func (k Kind) Cost() int {
	switch k {
	case KindImage:
		return 1
	case KindVideo:
		return 5
	default:
		return 0
	}
}

func (k Kind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// Table is the job table backing this kind.
func (k Kind) Table() string {
	if k == KindVideo {
		return "video_jobs"
	}
	return "image_jobs"
}

func (k Kind) DebitReason() string {
	if k == KindVideo {
		return credit.ReasonVideoGeneration
	}
	return credit.ReasonImageGeneration
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	// StatusUnknown marks a provider status we do not recognise; the raw
	// value is kept in ProviderStatus.
	StatusUnknown Status = "unknown"
)

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// ParseProviderStatus maps a fal.ai queue status onto the closed job status set.
func ParseProviderStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "OK", "COMPLETED":
		return StatusDone
	case "ERROR", "FAILED":
		return StatusError
	case "IN_QUEUE", "IN_PROGRESS":
		return StatusProcessing
	default:
		return StatusUnknown
	}
}

type Job struct {
	ID             uuid.UUID `json:"id"`
	Kind           Kind      `json:"kind"`
	RequestID      string    `json:"requestId"`
	UserID         uuid.UUID `json:"userId"`
	Prompt         string    `json:"prompt"`
	InputURL       string    `json:"inputUrl"`
	OutputURL      *string   `json:"outputUrl"`
	Status         Status    `json:"status"`
	ProviderStatus *string   `json:"providerStatus,omitempty"`
	ErrorMessage   *string   `json:"errorMessage,omitempty"`
	CreditCost     int       `json:"creditCost"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewRecord is what the API layer knows once the provider accepted a request.
type NewRecord struct {
	RequestID string
	Prompt    string
	InputURL  string
}

// ProviderResult is a normalized generation webhook delivery.
type ProviderResult struct {
	RequestID      string
	ProviderStatus string
	OutputURL      string
	ErrorMessage   string
}

// Transition reports what UpdateJobStatus did.
type Transition struct {
	Job      *Job   `json:"job"`
	From     Status `json:"from"`
	To       Status `json:"to"`
	Applied  bool   `json:"applied"`
	Refunded int    `json:"refunded"`
}

type ImageRequest struct {
	Prompt    string `json:"prompt" validate:"required,max=2000"`
	ImageURL  string `json:"imageUrl" validate:"required,url"`
	ImageSize string `json:"imageSize,omitempty" validate:"omitempty,oneof=square_hd square portrait_4_3 portrait_16_9 landscape_4_3 landscape_16_9"`
}

type VideoRequest struct {
	Prompt   string `json:"prompt" validate:"required,max=2000"`
	ImageURL string `json:"imageUrl" validate:"required,url"`
	Duration string `json:"duration,omitempty" validate:"omitempty,oneof=5 10"`
}
