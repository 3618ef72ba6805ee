package usecase

import (
	"context"
	"errors"
	"time"

	"trustplane/internal/domain"
)

// RevocationService appends revocation records and bumps the revocation
// epoch so that caches holding decisions about the revoked subject are
// invalidated ahead of their TTL.
type RevocationService struct {
	Revocations RevocationRepository
	Epochs      RevocationEpochRepository
	Invalidator CacheInvalidator
	Audit       *AuditEmitter
	Clock       Clock
}

func NewRevocationService(revocations RevocationRepository, epochs RevocationEpochRepository, clock Clock) *RevocationService {
	return &RevocationService{
		Revocations: revocations,
		Epochs:      epochs,
		Clock:       clock,
	}
}

func (s *RevocationService) Revoke(ctx context.Context, subjectID, reason, actor string) (domain.Revocation, int64, error) {
	if s == nil || s.Revocations == nil {
		return domain.Revocation{}, 0, errors.New("revocation repository is required")
	}
	if subjectID == "" {
		return domain.Revocation{}, 0, errors.New("subject_id is required")
	}
	rev := domain.Revocation{
		SubjectID: subjectID,
		RevokedAt: s.now(),
		Reason:    reason,
		CreatedAt: s.now(),
	}
	if err := s.Revocations.Append(ctx, rev); err != nil {
		return domain.Revocation{}, 0, err
	}

	var epoch int64
	if s.Epochs != nil {
		bumped, err := s.Epochs.BumpEpoch(ctx)
		if err != nil {
			return rev, 0, err
		}
		epoch = bumped
	}
	if s.Invalidator != nil {
		// Best effort: a failed purge still converges via cache TTL, and the
		// revocation record itself is already durable.
		_ = s.Invalidator.InvalidateDecisions(ctx)
	}
	s.Audit.EmitIdentityRevoked(ctx, actor, reason, rev)
	return rev, epoch, nil
}

// IsRevoked reports whether a document for subjectID issued at issuedAt is
// invalidated by a revocation record.
func (s *RevocationService) IsRevoked(ctx context.Context, subjectID string, issuedAt time.Time) (bool, error) {
	if s == nil || s.Revocations == nil {
		return false, errors.New("revocation repository is required")
	}
	return s.Revocations.IsRevoked(ctx, subjectID, issuedAt)
}

func (s *RevocationService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
