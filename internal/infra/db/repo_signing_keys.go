package db

import (
	"context"
	"errors"
	"time"

	"trustplane/internal/domain"

	"gorm.io/gorm"
)

type SigningKeyRepository struct {
	db *gorm.DB
}

func NewSigningKeyRepository(db *gorm.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

func (r *SigningKeyRepository) Create(ctx context.Context, key domain.SigningKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if key.KID == "" {
		return errors.New("kid is required")
	}
	id, err := NewUUID()
	if err != nil {
		return err
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := SigningKeyModel{
		ID:        id,
		KID:       key.KID,
		Purpose:   string(key.Purpose),
		Alg:       key.Alg,
		PublicKey: cloneBytes(key.PublicKey),
		CertDER:   cloneBytes(key.CertDER),
		Status:    string(key.Status),
		RetireAt:  key.RetireAt,
		CreatedAt: createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *SigningKeyRepository) UpdateStatus(ctx context.Context, kid string, status domain.KeyStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("kid = ?", kid).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SigningKeyRepository) List(ctx context.Context) ([]domain.SigningKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SigningKeyModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	keys := make([]domain.SigningKey, 0, len(models))
	for _, m := range models {
		keys = append(keys, domain.SigningKey{
			KID:       m.KID,
			Purpose:   domain.KeyPurpose(m.Purpose),
			Alg:       m.Alg,
			PublicKey: cloneBytes(m.PublicKey),
			CertDER:   cloneBytes(m.CertDER),
			Status:    domain.KeyStatus(m.Status),
			CreatedAt: m.CreatedAt,
			RetireAt:  m.RetireAt,
		})
	}
	return keys, nil
}
