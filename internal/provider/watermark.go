package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// WatermarkAdapter drives the watermark-removal API. The provider has no
// cancellation endpoint.
type WatermarkAdapter struct {
	api *apiClient
}

func NewWatermarkAdapter(baseURL, apiKey string, timeout time.Duration) *WatermarkAdapter {
	return &WatermarkAdapter{api: newAPIClient(baseURL, apiKey, timeout)}
}

var watermarkStates = map[string]RemoteState{
	"pending": RemotePending,
	"running": RemoteRunning,
	"done":    RemoteDone,
	"error":   RemoteFailed,
}

func (a *WatermarkAdapter) Submit(ctx context.Context, inputRef string) (string, error) {
	req := struct {
		MediaURL string `json:"media_url"`
	}{MediaURL: inputRef}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := a.api.doJSON(ctx, http.MethodPost, "/api/remove", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", &Error{Message: "submit response missing job_id"}
	}
	return resp.JobID, nil
}

func (a *WatermarkAdapter) Poll(ctx context.Context, remoteHandle string) (*PollStatus, error) {
	var resp struct {
		Status    string `json:"status"`
		ResultURL string `json:"result_url"`
		Message   string `json:"message"`
	}
	if err := a.api.doJSON(ctx, http.MethodGet, "/api/jobs/"+remoteHandle, nil, &resp); err != nil {
		return nil, err
	}

	state, ok := watermarkStates[resp.Status]
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("unexpected watermark job status %q", resp.Status)}
	}

	status := &PollStatus{State: state, Progress: -1}
	if state == RemoteDone {
		status.ResultRef = resp.ResultURL
	}
	if state == RemoteFailed {
		status.FailureMessage = resp.Message
	}
	return status, nil
}

func (a *WatermarkAdapter) FetchResult(ctx context.Context, remoteHandle string) (string, error) {
	status, err := a.Poll(ctx, remoteHandle)
	if err != nil {
		return "", err
	}
	if status.State != RemoteDone || status.ResultRef == "" {
		return "", &Error{Message: "watermark result not available"}
	}
	return status.ResultRef, nil
}

func (a *WatermarkAdapter) Cancel(_ context.Context, _ string) error {
	return ErrCancelNotSupported
}
