package domain

// JobEvent is the change notification fanned out to subscribed clients.
// Delivery is best-effort; the job row remains the source of truth.
type JobEvent struct {
	JobID        string `json:"job_id"`
	OwnerID      string `json:"owner_id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// EventFromJob projects the notifiable fields of a job. Status is
// projected to its public lowercase form.
func EventFromJob(j *Job) JobEvent {
	return JobEvent{
		JobID:        j.ID,
		OwnerID:      j.OwnerID,
		Status:       PublicStatus(j.Status),
		Progress:     j.Progress,
		ErrorKind:    j.ErrorKind,
		ErrorMessage: j.ErrorMessage,
	}
}
