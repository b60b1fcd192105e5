package credential

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditSink records credential lifecycle transitions for operator visibility.
// It is a pure side-effect; callers never gate behavior on audit failures.
type AuditSink interface {
	RecordQuarantine(ctx context.Context, provider, key, reason string, ttl time.Duration)
	RecordRetire(ctx context.Context, provider, key, reason string)
	RecordSweepRelease(ctx context.Context, provider string, keys []string)
}

type noopAudit struct{}

func (noopAudit) RecordQuarantine(context.Context, string, string, string, time.Duration) {}
func (noopAudit) RecordRetire(context.Context, string, string, string)                    {}
func (noopAudit) RecordSweepRelease(context.Context, string, []string)                    {}

// LifecycleEvent is the row persisted for each transition. Keys are hashed,
// never stored in the clear, since the audit trail may outlive the process
// that issued the credential.
type LifecycleEvent struct {
	ID        uint      `gorm:"primaryKey"`
	Provider  string    `gorm:"index"`
	KeyHash   string    `gorm:"index"`
	Action    string    // "quarantine" | "retire" | "sweep_release"
	Reason    string
	TTLMillis int64
	CreatedAt time.Time
}

// GormAuditSink persists lifecycle events via GORM, matching the teacher's
// async-update-with-panic-recovery idiom for non-blocking DB writes.
type GormAuditSink struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormAuditSink opens (and migrates) the lifecycle_events table.
func NewGormAuditSink(db *gorm.DB, logger *zap.Logger) (*GormAuditSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&LifecycleEvent{}); err != nil {
		return nil, err
	}
	return &GormAuditSink{db: db, logger: logger}, nil
}

func (s *GormAuditSink) write(event LifecycleEvent) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic writing credential audit event", zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
			s.logger.Warn("failed to persist credential audit event", zap.Error(err))
		}
	}()
}

func (s *GormAuditSink) RecordQuarantine(_ context.Context, provider, key, reason string, ttl time.Duration) {
	s.write(LifecycleEvent{
		Provider: provider, KeyHash: hashKey(key), Action: "quarantine",
		Reason: reason, TTLMillis: ttl.Milliseconds(), CreatedAt: time.Now(),
	})
}

func (s *GormAuditSink) RecordRetire(_ context.Context, provider, key, reason string) {
	s.write(LifecycleEvent{
		Provider: provider, KeyHash: hashKey(key), Action: "retire",
		Reason: reason, CreatedAt: time.Now(),
	})
}

func (s *GormAuditSink) RecordSweepRelease(_ context.Context, provider string, keys []string) {
	for _, k := range keys {
		s.write(LifecycleEvent{
			Provider: provider, KeyHash: hashKey(k), Action: "sweep_release",
			CreatedAt: time.Now(),
		})
	}
}
