package db

import (
	"context"
	"errors"
	"time"

	"trustplane/internal/domain"

	"gorm.io/gorm"
)

type RevocationRepository struct {
	db *gorm.DB
}

func NewRevocationRepository(db *gorm.DB) *RevocationRepository {
	return &RevocationRepository{db: db}
}

func (r *RevocationRepository) Append(ctx context.Context, rev domain.Revocation) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if rev.SubjectID == "" {
		return errors.New("subject_id is required")
	}
	id := rev.ID
	if id == "" {
		var err error
		id, err = NewUUID()
		if err != nil {
			return err
		}
	}
	createdAt := rev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := RevocationModel{
		ID:        id,
		SubjectID: rev.SubjectID,
		RevokedAt: rev.RevokedAt,
		Reason:    rev.Reason,
		CreatedAt: createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// IsRevoked reports whether any revocation for the subject carries a
// timestamp at or after the document's issuance. Documents issued after the
// revocation took effect are unaffected.
func (r *RevocationRepository) IsRevoked(ctx context.Context, subjectID string, issuedAt time.Time) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RevocationModel{}).
		Where("subject_id = ? AND revoked_at >= ?", subjectID, issuedAt).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RevocationRepository) List(ctx context.Context, subjectID string) ([]domain.Revocation, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).Model(&RevocationModel{}).Order("revoked_at DESC")
	if subjectID != "" {
		query = query.Where("subject_id = ?", subjectID)
	}
	var models []RevocationModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	revs := make([]domain.Revocation, 0, len(models))
	for _, m := range models {
		revs = append(revs, domain.Revocation{
			ID:        m.ID,
			SubjectID: m.SubjectID,
			RevokedAt: m.RevokedAt,
			Reason:    m.Reason,
			CreatedAt: m.CreatedAt,
		})
	}
	return revs, nil
}
