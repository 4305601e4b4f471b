package models

import "time"

// Webhook event outcomes. An event row is immutable once it reaches
// applied, rejected or poisoned; pending events may still be retried by
// the sender.
const (
	EventOutcomePending   = "pending"
	EventOutcomeApplied   = "applied"
	EventOutcomeDuplicate = "duplicate"
	EventOutcomeRejected  = "rejected"
	EventOutcomePoisoned  = "poisoned"
)

// Webhook event sources.
const (
	EventSourceProcessor = "processor"
	EventSourceBilling   = "billing"
)

// WebhookEvent stores every inbound webhook delivery with deduplication
// metadata. EventID is the producer-assigned nonce and is unique across
// sources, so the insert-if-absent on it is the single correctness-critical
// write under concurrent delivery. DuplicateCount records how many
// redeliveries of the same nonce arrived after the first one.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventID         string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_event_id" json:"event_id"`
	Source          string     `gorm:"type:varchar(20);not null;index" json:"source"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Outcome         string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"outcome"`
	DuplicateCount  int        `gorm:"not null;default:0" json:"duplicate_count"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
}
