package falai

import (
	"encoding/json"
	"strings"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/types/job"
)

type File struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

type output struct {
	Images []File          `json:"images"`
	Video  *File           `json:"video"`
	Detail json.RawMessage `json:"detail"`
}

// WebhookPayload is the body fal.ai posts to the fal_webhook URL. Depending
// on the model the output sits under "payload" or at the top level.
type WebhookPayload struct {
	RequestID        string          `json:"request_id"`
	GatewayRequestID string          `json:"gateway_request_id"`
	Status           string          `json:"status"`
	Error            json.RawMessage `json:"error"`
	Payload          *output         `json:"payload"`
	Images           []File          `json:"images"`
	Video            *File           `json:"video"`
}

// ParseWebhook decodes and normalizes a fal.ai webhook body.
func ParseWebhook(body []byte) (*job.ProviderResult, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperror.ValidationFailed("body", "malformed webhook payload")
	}
	return p.Result()
}

func (p *WebhookPayload) Result() (*job.ProviderResult, error) {
	requestID := p.RequestID
	if requestID == "" {
		requestID = p.GatewayRequestID
	}
	if requestID == "" {
		return nil, apperror.ValidationFailed("request_id", "webhook payload has no request id")
	}
	if p.Status == "" {
		return nil, apperror.ValidationFailed("status", "webhook payload has no status")
	}

	return &job.ProviderResult{
		RequestID:      requestID,
		ProviderStatus: p.Status,
		OutputURL:      p.outputURL(),
		ErrorMessage:   p.errorMessage(),
	}, nil
}

func (p *WebhookPayload) outputURL() string {
	if p.Payload != nil {
		if len(p.Payload.Images) > 0 && p.Payload.Images[0].URL != "" {
			return p.Payload.Images[0].URL
		}
		if p.Payload.Video != nil && p.Payload.Video.URL != "" {
			return p.Payload.Video.URL
		}
	}
	if len(p.Images) > 0 && p.Images[0].URL != "" {
		return p.Images[0].URL
	}
	if p.Video != nil {
		return p.Video.URL
	}
	return ""
}

func (p *WebhookPayload) errorMessage() string {
	if msg := rawMessage(p.Error); msg != "" {
		return msg
	}
	if p.Payload != nil {
		return rawMessage(p.Payload.Detail)
	}
	return ""
}

// rawMessage renders an error field that may be a string, a list of
// validation entries with "msg", or arbitrary JSON.
func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var details []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &details); err == nil {
		msgs := make([]string, 0, len(details))
		for _, d := range details {
			if d.Msg != "" {
				msgs = append(msgs, d.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	return string(raw)
}
