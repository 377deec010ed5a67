package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DubbingAdapter drives the video-dubbing API. The provider separates the
// done signal from result retrieval, so FetchResult hits a second endpoint.
type DubbingAdapter struct {
	api *apiClient
}

func NewDubbingAdapter(baseURL, apiKey string, timeout time.Duration) *DubbingAdapter {
	return &DubbingAdapter{api: newAPIClient(baseURL, apiKey, timeout)}
}

var dubbingStates = map[string]RemoteState{
	"queued":  RemotePending,
	"dubbing": RemoteRunning,
	"dubbed":  RemoteDone,
	"failed":  RemoteFailed,
}

func (a *DubbingAdapter) Submit(ctx context.Context, inputRef string) (string, error) {
	req := struct {
		SourceURL string `json:"source_url"`
	}{SourceURL: inputRef}

	var resp struct {
		DubbingID string `json:"dubbing_id"`
	}
	if err := a.api.doJSON(ctx, http.MethodPost, "/v1/dubbing", req, &resp); err != nil {
		return "", err
	}
	if resp.DubbingID == "" {
		return "", &Error{Message: "submit response missing dubbing_id"}
	}
	return resp.DubbingID, nil
}

func (a *DubbingAdapter) Poll(ctx context.Context, remoteHandle string) (*PollStatus, error) {
	var resp struct {
		Status      string `json:"status"`
		Progress    *int   `json:"progress"`
		Error       string `json:"error"`
		ErrorStatus int    `json:"error_status"`
	}
	if err := a.api.doJSON(ctx, http.MethodGet, "/v1/dubbing/"+remoteHandle, nil, &resp); err != nil {
		return nil, err
	}

	state, ok := dubbingStates[resp.Status]
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("unexpected dubbing status %q", resp.Status)}
	}

	status := &PollStatus{State: state, Progress: -1}
	if resp.Progress != nil {
		status.Progress = *resp.Progress
	}
	if state == RemoteFailed {
		status.FailureStatus = resp.ErrorStatus
		status.FailureMessage = resp.Error
	}
	return status, nil
}

func (a *DubbingAdapter) FetchResult(ctx context.Context, remoteHandle string) (string, error) {
	var resp struct {
		AudioURL string `json:"audio_url"`
	}
	if err := a.api.doJSON(ctx, http.MethodGet, "/v1/dubbing/"+remoteHandle+"/audio", nil, &resp); err != nil {
		return "", err
	}
	if resp.AudioURL == "" {
		return "", &Error{Message: "result response missing audio_url"}
	}
	return resp.AudioURL, nil
}

func (a *DubbingAdapter) Cancel(ctx context.Context, remoteHandle string) error {
	return a.api.doJSON(ctx, http.MethodDelete, "/v1/dubbing/"+remoteHandle, nil, nil)
}
