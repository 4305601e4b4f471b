package models

import "time"

// Billing subscription statuses as normalized from the provider.
const (
	BillingStatusActive     = "active"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
)

// BillingState is the per-user billing record, mutated only by the billing
// reconciliation worker. LastEventAt carries the provider-assigned ordering
// of the last applied event; an incoming event that is not newer is a no-op.
type BillingState struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;uniqueIndex:ux_billing_states_user" json:"user_id"`
	Tier               string     `gorm:"type:varchar(50);not null;default:'free'" json:"tier"`
	SubscriptionStatus string     `gorm:"type:varchar(20);not null;default:'incomplete'" json:"subscription_status"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	LastEventIDApplied string     `gorm:"type:varchar(191);not null;default:''" json:"last_event_id_applied"`
	LastEventAt        int64      `gorm:"type:bigint;not null;default:0" json:"last_event_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
