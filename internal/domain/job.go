package domain

import (
	"time"
)

// Job statuses. Sent and failed are terminal: no automatic transition ever
// moves a job out of them.
const (
	StatusQueued   = "queued"
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusRetrying = "retrying"
)

// JobStatuses lists every valid status, in lifecycle order.
var JobStatuses = []string{StatusQueued, StatusSending, StatusSent, StatusFailed, StatusRetrying}

// ValidStatus reports whether s is a known job status.
func ValidStatus(s string) bool {
	for _, v := range JobStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ContactSnapshot is an immutable copy of the recipient fields needed for
// personalization, captured at enqueue time. Later edits to the source
// contact record never affect an in-flight or historical job.
type ContactSnapshot struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Company      string            `json:"company,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// DeliveryJob represents sending one rendered message to one recipient for
// one campaign.
type DeliveryJob struct {
	ID              string            `json:"id"`
	CampaignID      string            `json:"campaign_id"`
	TemplateID      string            `json:"template_id"`
	RecipientEmail  string            `json:"recipient_email"`
	ContactSnapshot ContactSnapshot   `json:"contact_snapshot"`
	Variables       map[string]string `json:"variables,omitempty"`
	Status          string            `json:"status"`
	AttemptCount    int               `json:"attempt_count"`
	MaxAttempts     int               `json:"max_attempts"`
	LastAttemptAt   *time.Time        `json:"last_attempt_at,omitempty"`
	NextAttemptAt   *time.Time        `json:"next_attempt_at,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	SentAt          *time.Time        `json:"sent_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Terminal reports whether the job has reached a state with no further
// automatic transitions.
func (j *DeliveryJob) Terminal() bool {
	return j.Status == StatusSent || j.Status == StatusFailed
}

// QueueStats groups current job counts by status.
type QueueStats struct {
	Queued   int `json:"queued"`
	Sending  int `json:"sending"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Retrying int `json:"retrying"`
	Total    int `json:"total"`
}
