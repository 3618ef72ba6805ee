package logmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trustplane/internal/domain"
	"trustplane/internal/usecase"
)

// Log is an in-memory audit sink for single-instance runs and tests. It
// keeps a bounded window of recent events; the durable record lives in
// postgres when one is configured.
type Log struct {
	mu     sync.RWMutex
	events []domain.AuditEvent
	next   int64
	max    int
	clock  func() time.Time
}

func New(max int) *Log {
	if max <= 0 {
		max = 4096
	}
	return &Log{max: max, clock: time.Now}
}

func NewWithClock(max int, clock func() time.Time) *Log {
	l := New(max)
	if clock != nil {
		l.clock = clock
	}
	return l
}

func (l *Log) Append(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	if event.ID == "" {
		event.ID = fmt.Sprintf("mem-%d", l.next)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.clock().UTC()
	}
	l.events = append(l.events, event)
	if len(l.events) > l.max {
		l.events = l.events[len(l.events)-l.max:]
	}
	return event, nil
}

func (l *Log) List(_ context.Context, limit int) ([]domain.AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]domain.AuditEvent, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.events[i])
	}
	return out, nil
}

var _ usecase.AuditEventRepository = (*Log)(nil)
