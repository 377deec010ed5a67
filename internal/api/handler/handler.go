package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mediadash/orchestrator/internal/api/dto"
	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
	"github.com/mediadash/orchestrator/internal/orchestrator/notify"
	"github.com/mediadash/orchestrator/internal/orchestrator/storage"
)

// JobService is the submit/cancel side of the orchestrator; implemented
// by dispatch.Dispatcher.
type JobService interface {
	SubmitJob(ctx context.Context, ownerID, kind, inputRef string) (*domain.Job, error)
	CancelJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error)
}

// SweepTrigger asks the worker service to run a retry sweep now;
// implemented by dispatch.AMQPHandoff.
type SweepTrigger interface {
	TriggerSweep(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Store      storage.Store
	Jobs       JobService
	Events     *notify.Hub
	Sweeps     SweepTrigger
	KnownKinds []string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	store      storage.Store
	jobs       JobService
	events     *notify.Hub
	sweeps     SweepTrigger
	knownKinds []string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		store:      deps.Store,
		jobs:       deps.Jobs,
		events:     deps.Events,
		sweeps:     deps.Sweeps,
		knownKinds: deps.KnownKinds,
	}
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:        job.ID,
		OwnerID:      job.OwnerID,
		Kind:         job.Kind,
		Status:       domain.PublicStatus(job.Status),
		Progress:     job.Progress,
		ResultRef:    job.ResultRef,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}
