package db

import (
	"context"
	"errors"
	"time"

	"trustplane/internal/domain"

	"gorm.io/gorm"
)

type PolicyRuleRepository struct {
	db          *gorm.DB
	trustDomain string
}

func NewPolicyRuleRepository(db *gorm.DB, trustDomain string) *PolicyRuleRepository {
	return &PolicyRuleRepository{db: db, trustDomain: trustDomain}
}

func (r *PolicyRuleRepository) Create(ctx context.Context, rule domain.PolicyRule) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if rule.ID == "" {
		return errors.New("rule id is required")
	}
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := PolicyRuleModel{
		ID:              rule.ID,
		Effect:          string(rule.Effect),
		SubjectPattern:  rule.SubjectPattern,
		ActionPattern:   rule.ActionPattern,
		ResourcePattern: rule.ResourcePattern,
		Condition:       rule.Condition,
		CreatedAt:       createdAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *PolicyRuleRepository) Delete(ctx context.Context, id string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).Delete(&PolicyRuleModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PolicyRuleRepository) List(ctx context.Context) ([]domain.PolicyRule, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []PolicyRuleModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	rules := make([]domain.PolicyRule, 0, len(models))
	for _, m := range models {
		rules = append(rules, domain.PolicyRule{
			ID:              m.ID,
			Effect:          domain.PolicyEffect(m.Effect),
			SubjectPattern:  m.SubjectPattern,
			ActionPattern:   m.ActionPattern,
			ResourcePattern: m.ResourcePattern,
			Condition:       m.Condition,
			CreatedAt:       m.CreatedAt,
		})
	}
	return rules, nil
}

func (r *PolicyRuleRepository) GetVersion(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	if err := r.db.WithContext(ctx).Exec(
		`INSERT INTO policy_version (trust_domain, version, updated_at)
		 VALUES (?, 1, ?)
		 ON CONFLICT (trust_domain) DO NOTHING`,
		r.trustDomain,
		time.Now().UTC(),
	).Error; err != nil {
		return 0, err
	}
	var version int64
	if err := r.db.WithContext(ctx).
		Raw(`SELECT version FROM policy_version WHERE trust_domain = ?`, r.trustDomain).
		Scan(&version).Error; err != nil {
		return 0, err
	}
	return version, nil
}

func (r *PolicyRuleRepository) BumpVersion(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var version int64
	if err := r.db.WithContext(ctx).
		Raw(
			`INSERT INTO policy_version (trust_domain, version, updated_at)
			 VALUES (?, 1, ?)
			 ON CONFLICT (trust_domain)
			 DO UPDATE SET version = policy_version.version + 1, updated_at = EXCLUDED.updated_at
			 RETURNING version`,
			r.trustDomain,
			time.Now().UTC(),
		).Scan(&version).Error; err != nil {
		return 0, err
	}
	return version, nil
}
