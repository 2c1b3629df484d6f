// Package providers is the TURN relay directory. The coordination core
// reads it so clients can pick a relay; reputation, verification and
// earnings are maintained elsewhere and treated as reference data.
package providers

import (
	"errors"
	"fmt"
	"time"

	"github.com/peerbridge/peerbridge/internal/models"

	"gorm.io/gorm"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrURLTaken         = errors.New("provider url already registered")
)

type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Registration is the provider-supplied part of a directory entry.
type Registration struct {
	Name            string
	URL             string
	PublicKey       string
	Location        string
	AttestationHash *string
	StakeAmount     int64
}

// Register adds a relay to the directory, owned by the calling user. New
// entries start active but unverified; attestation verification happens
// out of band.
func (d *Directory) Register(owner string, reg Registration, now time.Time) (*models.TurnProvider, error) {
	var existing models.TurnProvider
	err := d.db.Where("url = ?", reg.URL).First(&existing).Error
	if err == nil {
		return nil, ErrURLTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check provider url: %w", err)
	}

	provider := &models.TurnProvider{
		Name:            reg.Name,
		URL:             reg.URL,
		Owner:           owner,
		Location:        reg.Location,
		PublicKey:       reg.PublicKey,
		AttestationHash: reg.AttestationHash,
		StakeAmount:     reg.StakeAmount,
		IsActive:        true,
		IsVerified:      false,
		LastSeen:        now,
	}
	if err := d.db.Create(provider).Error; err != nil {
		return nil, fmt.Errorf("register provider: %w", err)
	}
	return provider, nil
}

// List returns all directory entries, most reputable first.
func (d *Directory) List() ([]models.TurnProvider, error) {
	var out []models.TurnProvider
	if err := d.db.Order("reputation desc, created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	return out, nil
}

// Get returns one directory entry by ID.
func (d *Directory) Get(id string) (*models.TurnProvider, error) {
	var provider models.TurnProvider
	err := d.db.Where("id = ?", id).First(&provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return &provider, nil
}
