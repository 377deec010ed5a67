package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediadash/orchestrator/internal/api/dto"
	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
	"github.com/mediadash/orchestrator/internal/orchestrator/notify"
	"github.com/mediadash/orchestrator/internal/orchestrator/storage"
)

type fakeJobService struct {
	submitJob *domain.Job
	submitErr error
	cancelJob *domain.Job
	cancelErr error

	cancelledJobID string
	cancelledOwner string
}

func (f *fakeJobService) SubmitJob(_ context.Context, ownerID, kind, inputRef string) (*domain.Job, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitJob != nil {
		return f.submitJob, nil
	}
	now := time.Now()
	return &domain.Job{
		ID:        "22222222-2222-2222-2222-222222222222",
		OwnerID:   ownerID,
		Kind:      kind,
		InputRef:  inputRef,
		Status:    domain.JobStatusProcessing,
		Progress:  -1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (f *fakeJobService) CancelJob(_ context.Context, jobID, ownerID string) (*domain.Job, error) {
	f.cancelledJobID = jobID
	f.cancelledOwner = ownerID
	return f.cancelJob, f.cancelErr
}

type fakeSweepTrigger struct {
	calls int
	err   error
}

func (f *fakeSweepTrigger) TriggerSweep(_ context.Context) error {
	f.calls++
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRouter(t *testing.T, deps *Dependencies) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	if deps.Store == nil {
		deps.Store = storage.NewMemoryStore()
	}
	if deps.Events == nil {
		deps.Events = notify.NewHub(testLogger())
	}

	h := NewJobHandler(deps)

	router := gin.New()
	v1 := router.Group("/api/v1")
	{
		v1.POST("/jobs", h.SubmitJob)
		v1.GET("/jobs", h.ListJobs)
		v1.GET("/jobs/events", h.StreamJobEvents)
		v1.GET("/jobs/:job_id", h.GetJob)
		v1.POST("/jobs/:job_id/cancel", h.CancelJob)
		v1.GET("/kinds", h.ListKinds)
		v1.POST("/admin/sweeps", h.TriggerSweep)
	}
	return router
}

func seedJob(t *testing.T, store storage.Store, id, ownerID string, createdAt time.Time) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      "dub",
		InputRef:  "https://cdn.example.com/video.mp4",
		Status:    domain.JobStatusProcessing,
		Progress:  40,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestJobHandler_SubmitJob(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		jobs := &fakeJobService{}
		router := setupRouter(t, &Dependencies{Jobs: jobs})

		body := `{"owner_id": "owner-1", "kind": "dub", "input_ref": "https://cdn.example.com/video.mp4"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "owner-1", resp.OwnerID)
		assert.Equal(t, "dub", resp.Kind)
		// The projection lowercases the stored status.
		assert.Equal(t, "processing", resp.Status)
	})

	t.Run("missing required fields", func(t *testing.T) {
		router := setupRouter(t, &Dependencies{Jobs: &fakeJobService{}})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"owner_id": "owner-1"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejected submission", func(t *testing.T) {
		jobs := &fakeJobService{submitErr: fmt.Errorf("unknown job kind %q: %w", "sing", domain.ErrInvalidInput)}
		router := setupRouter(t, &Dependencies{Jobs: jobs})

		body := `{"owner_id": "owner-1", "kind": "sing", "input_ref": "https://cdn.example.com/video.mp4"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unknown job kind")
	})

	t.Run("internal error", func(t *testing.T) {
		jobs := &fakeJobService{submitErr: errors.New("store unavailable")}
		router := setupRouter(t, &Dependencies{Jobs: jobs})

		body := `{"owner_id": "owner-1", "kind": "dub", "input_ref": "https://cdn.example.com/video.mp4"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestJobHandler_GetJob(t *testing.T) {
	store := storage.NewMemoryStore()
	seeded := seedJob(t, store, "33333333-3333-3333-3333-333333333333", "owner-1", time.Now())
	router := setupRouter(t, &Dependencies{Store: store, Jobs: &fakeJobService{}})

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+seeded.ID, nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, seeded.ID, resp.JobID)
		assert.Equal(t, "processing", resp.Status)
		assert.Equal(t, 40, resp.Progress)
		// The input reference and remote handle stay internal.
		assert.NotContains(t, w.Body.String(), "input_ref")
		assert.NotContains(t, w.Body.String(), "remote_handle")
	})

	t.Run("invalid uuid", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/44444444-4444-4444-4444-444444444444", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestJobHandler_ListJobs(t *testing.T) {
	store := storage.NewMemoryStore()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		seedJob(t, store,
			fmt.Sprintf("55555555-5555-5555-5555-5555555555%02d", i),
			"owner-1",
			base.Add(time.Duration(i)*time.Minute))
	}
	router := setupRouter(t, &Dependencies{Store: store, Jobs: &fakeJobService{}})

	t.Run("default page size with next cursor", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?owner_id=owner-1", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Jobs, 20)
		require.NotEmpty(t, resp.NextCursor)

		// Newest first.
		first, err := time.Parse(time.RFC3339, resp.Jobs[0].CreatedAt)
		require.NoError(t, err)
		last, err := time.Parse(time.RFC3339, resp.Jobs[len(resp.Jobs)-1].CreatedAt)
		require.NoError(t, err)
		assert.False(t, first.Before(last))
	})

	t.Run("second page via cursor", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?owner_id=owner-1", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var firstPage dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &firstPage))

		w = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?owner_id=owner-1&cursor="+url.QueryEscape(firstPage.NextCursor), nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var secondPage dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &secondPage))
		assert.Len(t, secondPage.Jobs, 5)
		assert.Empty(t, secondPage.NextCursor)

		// No overlap between pages.
		seen := make(map[string]bool)
		for _, job := range firstPage.Jobs {
			seen[job.JobID] = true
		}
		for _, job := range secondPage.Jobs {
			assert.False(t, seen[job.JobID], "job %s appeared on both pages", job.JobID)
		}
	})

	t.Run("page size is clamped", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?owner_id=owner-1&page_size=500", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Jobs, 25)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?cursor=%21%21not-base64", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("lowercase status filter matches stored rows", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?owner_id=owner-1&status=processing", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 20)
		for _, job := range resp.Jobs {
			assert.Equal(t, "processing", job.Status)
		}
	})

	t.Run("owner filter excludes other owners", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?owner_id=owner-2", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Jobs)
	})
}

func TestJobHandler_CancelJob(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		now := time.Now()
		jobs := &fakeJobService{cancelJob: &domain.Job{
			ID:           "66666666-6666-6666-6666-666666666666",
			OwnerID:      "owner-1",
			Kind:         "dub",
			Status:       domain.JobStatusFailed,
			Progress:     -1,
			ErrorKind:    domain.ErrorKindCancelled,
			ErrorMessage: "cancelled by owner",
			CreatedAt:    now,
			UpdatedAt:    now,
			CompletedAt:  &now,
		}}
		router := setupRouter(t, &Dependencies{Jobs: jobs})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/66666666-6666-6666-6666-666666666666/cancel?owner_id=owner-1", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "66666666-6666-6666-6666-666666666666", jobs.cancelledJobID)
		assert.Equal(t, "owner-1", jobs.cancelledOwner)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "failed", resp.Status)
		assert.Equal(t, domain.ErrorKindCancelled, resp.ErrorKind)
	})

	t.Run("invalid uuid", func(t *testing.T) {
		router := setupRouter(t, &Dependencies{Jobs: &fakeJobService{}})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nope/cancel", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		jobs := &fakeJobService{cancelErr: domain.ErrJobNotFound}
		router := setupRouter(t, &Dependencies{Jobs: jobs})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/66666666-6666-6666-6666-666666666666/cancel", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("terminal job conflicts", func(t *testing.T) {
		jobs := &fakeJobService{cancelErr: domain.ErrJobTerminal}
		router := setupRouter(t, &Dependencies{Jobs: jobs})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/66666666-6666-6666-6666-666666666666/cancel", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

// closeNotifyRecorder adds the http.CloseNotifier method that gin's
// Context.Stream requires and httptest.ResponseRecorder lacks. The
// stream still ends via request-context cancellation.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifyRecorder() *closeNotifyRecorder {
	return &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool {
	return c.closed
}

func TestJobHandler_StreamJobEvents(t *testing.T) {
	t.Run("owner_id is required", func(t *testing.T) {
		router := setupRouter(t, &Dependencies{Jobs: &fakeJobService{}})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/events", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delivers published events", func(t *testing.T) {
		hub := notify.NewHub(testLogger())
		router := setupRouter(t, &Dependencies{Jobs: &fakeJobService{}, Events: hub})

		ctx, cancel := context.WithCancel(context.Background())

		// Publish once the handler has subscribed, then end the stream.
		go func() {
			for hub.SubscriberCount("owner-1") == 0 {
				time.Sleep(5 * time.Millisecond)
			}
			hub.Publish(&domain.Job{
				ID:       "77777777-7777-7777-7777-777777777777",
				OwnerID:  "owner-1",
				Kind:     "dub",
				Status:   domain.JobStatusCompleted,
				Progress: 100,
			})
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		w := newCloseNotifyRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/events?owner_id=owner-1", nil).WithContext(ctx)
		router.ServeHTTP(w, req)

		assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
		assert.Contains(t, w.Body.String(), "event:job")
		assert.Contains(t, w.Body.String(), "77777777-7777-7777-7777-777777777777")
	})
}

func TestJobHandler_TriggerSweep(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		sweeps := &fakeSweepTrigger{}
		router := setupRouter(t, &Dependencies{Jobs: &fakeJobService{}, Sweeps: sweeps})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweeps", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, 1, sweeps.calls)
	})

	t.Run("broker failure", func(t *testing.T) {
		sweeps := &fakeSweepTrigger{err: errors.New("channel closed")}
		router := setupRouter(t, &Dependencies{Jobs: &fakeJobService{}, Sweeps: sweeps})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweeps", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestJobHandler_ListKinds(t *testing.T) {
	router := setupRouter(t, &Dependencies{
		Jobs:       &fakeJobService{},
		KnownKinds: []string{"dub", "translate", "watermark_remove"},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/kinds", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Kinds []string `json:"kinds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"dub", "translate", "watermark_remove"}, resp.Kinds)
}
