package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// RevocationEpochRepository tracks a monotonic counter that bumps on every
// revocation. Caches compare epochs to detect that revocation state moved
// underneath them.
type RevocationEpochRepository struct {
	db          *gorm.DB
	trustDomain string
}

func NewRevocationEpochRepository(db *gorm.DB, trustDomain string) *RevocationEpochRepository {
	return &RevocationEpochRepository{db: db, trustDomain: trustDomain}
}

func (r *RevocationEpochRepository) GetEpoch(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	if r.trustDomain == "" {
		return 0, errors.New("trust domain is required")
	}
	// Ensure row exists with epoch 0.
	if err := r.db.WithContext(ctx).Exec(
		`INSERT INTO revocation_epoch (trust_domain, epoch, updated_at)
		 VALUES (?, 0, ?)
		 ON CONFLICT (trust_domain) DO NOTHING`,
		r.trustDomain,
		time.Now().UTC(),
	).Error; err != nil {
		return 0, err
	}
	var epoch int64
	if err := r.db.WithContext(ctx).
		Raw(`SELECT epoch FROM revocation_epoch WHERE trust_domain = ?`, r.trustDomain).
		Scan(&epoch).Error; err != nil {
		return 0, err
	}
	return epoch, nil
}

func (r *RevocationEpochRepository) BumpEpoch(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	if r.trustDomain == "" {
		return 0, errors.New("trust domain is required")
	}
	var epoch int64
	if err := r.db.WithContext(ctx).
		Raw(
			`INSERT INTO revocation_epoch (trust_domain, epoch, updated_at)
			 VALUES (?, 1, ?)
			 ON CONFLICT (trust_domain)
			 DO UPDATE SET epoch = revocation_epoch.epoch + 1, updated_at = EXCLUDED.updated_at
			 RETURNING epoch`,
			r.trustDomain,
			time.Now().UTC(),
		).Scan(&epoch).Error; err != nil {
		return 0, err
	}
	return epoch, nil
}
