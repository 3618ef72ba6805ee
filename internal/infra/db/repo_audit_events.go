package db

import (
	"context"
	"encoding/json"
	"time"

	"trustplane/internal/domain"

	"gorm.io/gorm"
)

type AuditEventRepository struct {
	db *gorm.DB
}

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

func (r *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	id := event.ID
	if id == "" {
		var err error
		id, err = NewUUID()
		if err != nil {
			return domain.AuditEvent{}, err
		}
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var payloadJSON []byte
	if len(event.Payload) > 0 {
		var err error
		payloadJSON, err = json.Marshal(event.Payload)
		if err != nil {
			return domain.AuditEvent{}, err
		}
	}
	var actorHash *string
	if event.ActorIDHash != "" {
		actorHash = &event.ActorIDHash
	}
	var targetID *string
	if event.TargetID != "" {
		targetID = &event.TargetID
	}
	var errorCode *string
	if event.ErrorCode != "" {
		errorCode = &event.ErrorCode
	}
	model := AuditEventModel{
		ID:          id,
		EventType:   string(event.EventType),
		ActorType:   string(event.ActorType),
		ActorIDHash: actorHash,
		TargetType:  string(event.TargetType),
		TargetID:    targetID,
		Result:      string(event.Result),
		ErrorCode:   errorCode,
		Reason:      event.Reason,
		PayloadJSON: payloadJSON,
		CreatedAt:   createdAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.AuditEvent{}, err
	}
	event.ID = id
	event.CreatedAt = createdAt
	return event, nil
}

func (r *AuditEventRepository) List(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var models []AuditEventModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]domain.AuditEvent, 0, len(models))
	for _, m := range models {
		event := domain.AuditEvent{
			ID:         m.ID,
			EventType:  domain.AuditEventType(m.EventType),
			ActorType:  domain.AuditActorType(m.ActorType),
			TargetType: domain.AuditTargetType(m.TargetType),
			Result:     domain.AuditResult(m.Result),
			Reason:     m.Reason,
			CreatedAt:  m.CreatedAt,
		}
		if m.ActorIDHash != nil {
			event.ActorIDHash = *m.ActorIDHash
		}
		if m.TargetID != nil {
			event.TargetID = *m.TargetID
		}
		if m.ErrorCode != nil {
			event.ErrorCode = *m.ErrorCode
		}
		if len(m.PayloadJSON) > 0 {
			if err := json.Unmarshal(m.PayloadJSON, &event.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, event)
	}
	return events, nil
}
