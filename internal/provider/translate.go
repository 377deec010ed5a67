package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TranslateAdapter drives the video-to-language translation API. The done
// response carries the output URL inline, so FetchResult is a re-poll.
type TranslateAdapter struct {
	api *apiClient
}

func NewTranslateAdapter(baseURL, apiKey string, timeout time.Duration) *TranslateAdapter {
	return &TranslateAdapter{api: newAPIClient(baseURL, apiKey, timeout)}
}

var translateStates = map[string]RemoteState{
	"queued":     RemotePending,
	"processing": RemoteRunning,
	"succeeded":  RemoteDone,
	"failed":     RemoteFailed,
}

func (a *TranslateAdapter) Submit(ctx context.Context, inputRef string) (string, error) {
	req := struct {
		VideoURL string `json:"video_url"`
	}{VideoURL: inputRef}

	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := a.api.doJSON(ctx, http.MethodPost, "/v1/translations", req, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", &Error{Message: "submit response missing task_id"}
	}
	return resp.TaskID, nil
}

func (a *TranslateAdapter) Poll(ctx context.Context, remoteHandle string) (*PollStatus, error) {
	var resp struct {
		State     string `json:"state"`
		Percent   *int   `json:"percent"`
		OutputURL string `json:"output_url"`
		Error     struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := a.api.doJSON(ctx, http.MethodGet, "/v1/translations/"+remoteHandle, nil, &resp); err != nil {
		return nil, err
	}

	state, ok := translateStates[resp.State]
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("unexpected translation state %q", resp.State)}
	}

	status := &PollStatus{State: state, Progress: -1}
	if resp.Percent != nil {
		status.Progress = *resp.Percent
	}
	if state == RemoteDone {
		status.ResultRef = resp.OutputURL
	}
	if state == RemoteFailed {
		status.FailureStatus = resp.Error.Code
		status.FailureMessage = resp.Error.Message
	}
	return status, nil
}

func (a *TranslateAdapter) FetchResult(ctx context.Context, remoteHandle string) (string, error) {
	status, err := a.Poll(ctx, remoteHandle)
	if err != nil {
		return "", err
	}
	if status.State != RemoteDone || status.ResultRef == "" {
		return "", &Error{Message: "translation result not available"}
	}
	return status.ResultRef, nil
}

func (a *TranslateAdapter) Cancel(ctx context.Context, remoteHandle string) error {
	return a.api.doJSON(ctx, http.MethodPost, "/v1/translations/"+remoteHandle+"/cancel", nil, nil)
}
