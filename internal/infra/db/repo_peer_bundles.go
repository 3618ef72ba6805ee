package db

import (
	"context"
	"errors"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PeerBundleRepository struct {
	db *gorm.DB
}

func NewPeerBundleRepository(db *gorm.DB) *PeerBundleRepository {
	return &PeerBundleRepository{db: db}
}

func (r *PeerBundleRepository) Upsert(ctx context.Context, trustDomain string, sequence uint64, signed domain.SignedBundle, state domain.PeerState, endpoint string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if trustDomain == "" {
		return errors.New("trust domain is required")
	}
	model := PeerBundleModel{
		TrustDomain: trustDomain,
		Sequence:    int64(sequence),
		Payload:     cloneBytes(signed.Payload),
		SignerKID:   signed.SignerKID,
		Signature:   cloneBytes(signed.Signature),
		State:       string(state),
		Endpoint:    endpoint,
		UpdatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trust_domain"}},
		UpdateAll: true,
	}).Create(&model).Error
}

func (r *PeerBundleRepository) List(ctx context.Context) ([]usecase.StoredPeerBundle, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []PeerBundleModel
	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	stored := make([]usecase.StoredPeerBundle, 0, len(models))
	for _, m := range models {
		stored = append(stored, usecase.StoredPeerBundle{
			TrustDomain: m.TrustDomain,
			Sequence:    uint64(m.Sequence),
			Signed: domain.SignedBundle{
				TrustDomain: m.TrustDomain,
				Payload:     cloneBytes(m.Payload),
				SignerKID:   m.SignerKID,
				Signature:   cloneBytes(m.Signature),
			},
			State:    domain.PeerState(m.State),
			Endpoint: m.Endpoint,
		})
	}
	return stored, nil
}
