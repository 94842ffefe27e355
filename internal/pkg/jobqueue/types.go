package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeProcessPaymentEvent JobType = "process_payment_event"
	JobTypeGeneratePermit      JobType = "generate_permit"
	JobTypeNotifyApplicant     JobType = "notify_applicant"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ProcessPaymentEventPayload identifies the stored webhook event a processing
// job should drain.
type ProcessPaymentEventPayload struct {
	WebhookEventID uint `json:"webhook_event_id"`
}

// ToMap converts the payload to a map for storage
func (p ProcessPaymentEventPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"webhook_event_id": p.WebhookEventID,
	}
}

// ProcessPaymentEventPayloadFromMap creates a payload from a map
func ProcessPaymentEventPayloadFromMap(data map[string]interface{}) (*ProcessPaymentEventPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ProcessPaymentEventPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// GeneratePermitPayload identifies the application a permit job issues for.
// Delivery is at-least-once; the permit worker is idempotent per application.
type GeneratePermitPayload struct {
	ApplicationID uint `json:"application_id"`
}

func (p GeneratePermitPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"application_id": p.ApplicationID,
	}
}

func GeneratePermitPayloadFromMap(data map[string]interface{}) (*GeneratePermitPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload GeneratePermitPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// NotifyApplicantPayload carries a best-effort applicant notification request.
type NotifyApplicantPayload struct {
	ApplicationID uint   `json:"application_id"`
	NewStatus     string `json:"new_status"`
}

func (p NotifyApplicantPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"application_id": p.ApplicationID,
		"new_status":     p.NewStatus,
	}
}

func NotifyApplicantPayloadFromMap(data map[string]interface{}) (*NotifyApplicantPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload NotifyApplicantPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
