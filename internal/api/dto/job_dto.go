package dto

type SubmitJobRequest struct {
	OwnerID  string `json:"owner_id" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	InputRef string `json:"input_ref" binding:"required"`
}

type ListJobsRequest struct {
	OwnerID  string `form:"owner_id"`
	Kind     string `form:"kind"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the public projection of a job. The raw input reference and
// the provider-side handle stay internal.
type JobDTO struct {
	JobID        string `json:"job_id"`
	OwnerID      string `json:"owner_id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ResultRef    string `json:"result_ref,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}
