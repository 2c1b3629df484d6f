// Package ledger meters TURN relay usage and derives billing records from
// client-supplied session timestamps. Both tables are append-only audit
// trails; no record is ever mutated after creation.
//
// Billing performs no verification that a matching usage log or an actual
// call exists. Correctness depends on an honest caller; closing that gap is
// an explicit non-goal of this layer.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/peerbridge/peerbridge/internal/models"

	"gorm.io/gorm"
)

var (
	ErrUsageNotFound  = errors.New("no usage record for session")
	ErrEndBeforeStart = errors.New("end time precedes start time")
	ErrNegativeRate   = errors.New("cost per minute must not be negative")
)

// Provider/protocol revenue split. The fee is computed as the exact
// complement so earnings+fee always equals the total to the bit.
const providerShare = 0.90

type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// LogUsage appends a relay usage record with a server-assigned timestamp.
// Multiple records may share a session ID.
func (l *Ledger) LogUsage(userID, serverURL, sessionID string, now time.Time) (*models.TurnServerUsage, error) {
	usage := &models.TurnServerUsage{
		UserID:    userID,
		ServerURL: serverURL,
		SessionID: sessionID,
		Timestamp: now.UnixNano(),
	}
	if err := l.db.Create(usage).Error; err != nil {
		return nil, fmt.Errorf("append usage record: %w", err)
	}
	return usage, nil
}

// Usage returns the first record logged for the session. Logging has no
// uniqueness constraint, so "first by insertion order" is the deterministic
// policy when several records share a session ID.
func (l *Ledger) Usage(sessionID string) (*models.TurnServerUsage, error) {
	var usage models.TurnServerUsage
	err := l.db.Where("session_id = ?", sessionID).Order("seq asc").First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUsageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load usage record: %w", err)
	}
	return &usage, nil
}

// AllUsage returns the full audit trail in insertion order.
func (l *Ledger) AllUsage() ([]models.TurnServerUsage, error) {
	var out []models.TurnServerUsage
	if err := l.db.Order("seq asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load usage records: %w", err)
	}
	return out, nil
}

// RecordBilling derives and appends the cost record for a relay session.
// Timestamps are nanosecond epochs. Validation failures happen before any
// write, so a rejected call leaves no partial record behind.
func (l *Ledger) RecordBilling(userID, sessionID, providerID string, startNs, endNs int64, costPerMinute float64) (*models.BillingRecord, error) {
	if endNs < startNs {
		return nil, ErrEndBeforeStart
	}
	if costPerMinute < 0 {
		return nil, ErrNegativeRate
	}

	durationMinutes := float64(endNs-startNs) / float64(time.Minute)
	totalCost := durationMinutes * costPerMinute
	providerEarnings := totalCost * providerShare
	protocolFee := totalCost - providerEarnings

	record := &models.BillingRecord{
		SessionID:        sessionID,
		ProviderID:       providerID,
		UserID:           userID,
		StartTime:        startNs,
		EndTime:          endNs,
		CostPerMinute:    costPerMinute,
		DurationMinutes:  durationMinutes,
		TotalCost:        totalCost,
		ProviderEarnings: providerEarnings,
		ProtocolFee:      protocolFee,
	}
	if err := l.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("append billing record: %w", err)
	}
	return record, nil
}

// BillingRecords returns all billing records, newest first.
func (l *Ledger) BillingRecords() ([]models.BillingRecord, error) {
	var out []models.BillingRecord
	if err := l.db.Order("created_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load billing records: %w", err)
	}
	return out, nil
}
