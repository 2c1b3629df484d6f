package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TurnServerUsage is an append-only audit record of a client using a TURN
// relay. Several usage rows may share a session ID; no uniqueness is
// enforced. Timestamps are nanosecond epochs, matching the wire format.
type TurnServerUsage struct {
	Seq       uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    string `gorm:"type:varchar(100);not null" json:"user"`
	ServerURL string `gorm:"type:text;not null" json:"server_url"`
	SessionID string `gorm:"type:varchar(64);not null;index:idx_usage_session" json:"session_id"`
	Timestamp int64  `gorm:"not null" json:"timestamp"`
}

// BillingRecord is the derived cost record for one relay session. It is
// immutable once written. The 90/10 split between the provider and the
// protocol treasury must always sum exactly to TotalCost.
type BillingRecord struct {
	ID               string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID        string  `gorm:"type:varchar(64);not null;index" json:"session_id"`
	ProviderID       string  `gorm:"type:varchar(64);not null" json:"provider_id"`
	UserID           string  `gorm:"type:varchar(100);not null" json:"user"`
	StartTime        int64   `gorm:"not null" json:"start_time"`
	EndTime          int64   `gorm:"not null" json:"end_time"`
	CostPerMinute    float64 `gorm:"not null" json:"cost_per_minute"`
	DurationMinutes  float64 `gorm:"not null" json:"duration_minutes"`
	TotalCost        float64 `gorm:"not null" json:"total_cost"`
	ProviderEarnings float64 `gorm:"not null" json:"provider_earnings"`
	ProtocolFee      float64 `gorm:"not null" json:"protocol_fee"`
	CreatedAt        int64   `gorm:"autoCreateTime:nano" json:"created_at"`
}

func (b *BillingRecord) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}
