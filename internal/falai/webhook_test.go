package falai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfuseAPI/internal/apperror"
)

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantID     string
		wantStatus string
		wantOutput string
		wantError  string
	}{
		{
			name:       "image under payload",
			body:       `{"request_id":"req_1","status":"OK","payload":{"images":[{"url":"https://cdn/1.png"}]}}`,
			wantID:     "req_1",
			wantStatus: "OK",
			wantOutput: "https://cdn/1.png",
		},
		{
			name:       "video under payload",
			body:       `{"request_id":"req_2","status":"OK","payload":{"video":{"url":"https://cdn/2.mp4"}}}`,
			wantID:     "req_2",
			wantStatus: "OK",
			wantOutput: "https://cdn/2.mp4",
		},
		{
			name:       "top-level images with gateway id",
			body:       `{"gateway_request_id":"gw_3","status":"OK","images":[{"url":"https://cdn/3.png"}]}`,
			wantID:     "gw_3",
			wantStatus: "OK",
			wantOutput: "https://cdn/3.png",
		},
		{
			name:       "top-level video",
			body:       `{"request_id":"req_4","status":"OK","video":{"url":"https://cdn/4.mp4"}}`,
			wantID:     "req_4",
			wantStatus: "OK",
			wantOutput: "https://cdn/4.mp4",
		},
		{
			name:       "string error",
			body:       `{"request_id":"req_5","status":"ERROR","error":"Invalid status code: 422"}`,
			wantID:     "req_5",
			wantStatus: "ERROR",
			wantError:  "Invalid status code: 422",
		},
		{
			name:       "validation detail list",
			body:       `{"request_id":"req_6","status":"ERROR","payload":{"detail":[{"loc":["body","prompt"],"msg":"field required"},{"msg":"image too large"}]}}`,
			wantID:     "req_6",
			wantStatus: "ERROR",
			wantError:  "field required; image too large",
		},
		{
			name:       "string detail",
			body:       `{"request_id":"req_7","status":"ERROR","payload":{"detail":"NSFW content detected"}}`,
			wantID:     "req_7",
			wantStatus: "ERROR",
			wantError:  "NSFW content detected",
		},
		{
			name:       "request_id wins over gateway id",
			body:       `{"request_id":"req_8","gateway_request_id":"gw_8","status":"IN_PROGRESS"}`,
			wantID:     "req_8",
			wantStatus: "IN_PROGRESS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseWebhook([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, res.RequestID)
			assert.Equal(t, tt.wantStatus, res.ProviderStatus)
			assert.Equal(t, tt.wantOutput, res.OutputURL)
			assert.Equal(t, tt.wantError, res.ErrorMessage)
		})
	}
}

func TestParseWebhookRejectsBadPayloads(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"status":"OK"}`,
		`{"request_id":"req_1"}`,
	} {
		_, err := ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, apperror.ErrValidation, body)
	}
}
