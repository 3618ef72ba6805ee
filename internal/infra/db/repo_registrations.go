package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"trustplane/internal/domain"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"gorm.io/gorm"
)

type RegistrationRepository struct {
	db *gorm.DB
}

func NewRegistrationRepository(db *gorm.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func (r *RegistrationRepository) Create(ctx context.Context, entry domain.RegistrationEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if entry.ID == "" {
		return errors.New("registration id is required")
	}
	if entry.SPIFFEID.IsZero() {
		return errors.New("spiffe id is required")
	}
	if len(entry.Selectors) == 0 {
		return errors.New("at least one selector is required")
	}
	selectorsJSON, err := json.Marshal(entry.Selectors)
	if err != nil {
		return err
	}
	var scopesJSON []byte
	if len(entry.Scopes) > 0 {
		scopesJSON, err = json.Marshal(entry.Scopes)
		if err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	model := RegistrationModel{
		ID:            entry.ID,
		SPIFFEID:      entry.SPIFFEID.String(),
		SelectorsJSON: selectorsJSON,
		TTLSeconds:    int64(entry.TTL / time.Second),
		ScopesJSON:    scopesJSON,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *RegistrationRepository) Delete(ctx context.Context, id string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).Delete(&RegistrationModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RegistrationRepository) List(ctx context.Context) ([]domain.RegistrationEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RegistrationModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	entries := make([]domain.RegistrationEntry, 0, len(models))
	for _, m := range models {
		entry, err := toRegistrationEntry(m)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Snapshot implements the registration source read path; the single SELECT
// is the consistency point.
func (r *RegistrationRepository) Snapshot(ctx context.Context) ([]domain.RegistrationEntry, error) {
	return r.List(ctx)
}

func toRegistrationEntry(m RegistrationModel) (domain.RegistrationEntry, error) {
	id, err := spiffeid.FromString(m.SPIFFEID)
	if err != nil {
		return domain.RegistrationEntry{}, err
	}
	var selectors domain.SelectorSet
	if err := json.Unmarshal(m.SelectorsJSON, &selectors); err != nil {
		return domain.RegistrationEntry{}, err
	}
	var scopes []string
	if len(m.ScopesJSON) > 0 {
		if err := json.Unmarshal(m.ScopesJSON, &scopes); err != nil {
			return domain.RegistrationEntry{}, err
		}
	}
	return domain.RegistrationEntry{
		ID:        m.ID,
		SPIFFEID:  id,
		Selectors: selectors,
		TTL:       time.Duration(m.TTLSeconds) * time.Second,
		Scopes:    scopes,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}
