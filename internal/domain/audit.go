package domain

import "time"

// Audit actions, one per terminal outcome.
const (
	AuditEmailSent       = "email_sent"
	AuditEmailSendFailed = "email_send_failed"
)

// AuditDetail captures what was sent (or attempted) for later inspection.
type AuditDetail struct {
	TemplateID   string   `json:"template_id"`
	Recipient    string   `json:"recipient"`
	CampaignID   string   `json:"campaign_id"`
	VariableKeys []string `json:"variable_keys,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// AuditEntry is one append-only record of a terminal delivery outcome.
type AuditEntry struct {
	ID        string      `json:"id"`
	JobID     string      `json:"job_id"`
	Action    string      `json:"action"`
	Detail    AuditDetail `json:"detail"`
	Timestamp time.Time   `json:"timestamp"`
}
