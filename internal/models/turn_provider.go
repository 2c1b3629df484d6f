package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TurnProvider is an entry of the relay directory. The coordination core
// only reads this table; reputation and earnings fields are maintained by
// external processes and are reference data here.
type TurnProvider struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(100);not null" json:"name"`
	URL             string    `gorm:"type:text;not null;uniqueIndex" json:"url"`
	Owner           string    `gorm:"type:varchar(100);not null;index" json:"owner"`
	Location        string    `gorm:"type:varchar(100)" json:"location"`
	PublicKey       string    `gorm:"type:text" json:"public_key"`
	AttestationHash *string   `gorm:"type:varchar(128)" json:"attestation_hash,omitempty"`
	StakeAmount     int64     `json:"stake_amount"`
	Reputation      float64   `json:"reputation"`
	Uptime          float64   `json:"uptime"`
	Rating          float64   `json:"rating"`
	SecurityScore   int64     `json:"security_score"`
	TotalSessions   int64     `json:"total_sessions"`
	TotalEarnings   float64   `json:"total_earnings"`
	IsActive        bool      `gorm:"index" json:"is_active"`
	IsVerified      bool      `json:"is_verified"`
	LastSeen        time.Time `json:"last_seen"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (p *TurnProvider) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
