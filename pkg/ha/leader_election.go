package ha

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/internal/db"
)

// LeaseRecord is one leader lease row. The primary key keeps at most one
// holder per lease name; stealing requires the previous lease to be expired.
type LeaseRecord struct {
	Name       string    `gorm:"primaryKey;column:name;type:varchar(128)"`
	Holder     string    `gorm:"column:holder;not null"`
	AcquiredAt time.Time `gorm:"column:acquired_at"`
	RenewedAt  time.Time `gorm:"column:renewed_at"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null"`
}

// TableName returns the GORM table name.
func (LeaseRecord) TableName() string { return "leader_leases" }

// LeaderElector manages database-lease leader election for singleton
// background loops. Only the elected leader replica runs loops such as the
// solve workers and nonce cleanup.
type LeaderElector struct {
	config   *HAConfig
	db       *gorm.DB
	identity string
	isLeader bool
	mu       sync.RWMutex
	logger   *slog.Logger
	onStart  func(ctx context.Context)
	onStop   func()

	now func() time.Time
}

// NewLeaderElector creates a new LeaderElector. The identity should be unique
// per replica (typically the pod name or hostname).
func NewLeaderElector(cfg *HAConfig, gormDB *gorm.DB, identity string, logger *slog.Logger) *LeaderElector {
	if logger == nil {
		logger = slog.Default()
	}
	if gormDB != nil {
		// Lease table must exist before the first acquisition attempt.
		_ = gormDB.AutoMigrate(&LeaseRecord{})
	}
	return &LeaderElector{
		config:   cfg,
		db:       gormDB,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// OnStartLeading registers a callback invoked when this instance becomes
// leader. The callback runs on its own goroutine; its context is cancelled
// when leadership is lost.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.onStart = fn
}

// OnStopLeading registers a callback invoked when this instance loses leadership.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.onStop = fn
}

// IsLeader returns true if this instance is the current leader.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

func (le *LeaderElector) setLeader(v bool) {
	le.mu.Lock()
	le.isLeader = v
	le.mu.Unlock()
}

// Run starts leader election. It blocks until the context is cancelled.
// When this instance becomes leader, it calls the OnStartLeading callback.
// When leadership is lost, it calls OnStopLeading. With election disabled
// the instance acts as the sole leader.
func (le *LeaderElector) Run(ctx context.Context) {
	if !le.config.LeaderElectionEnabled || le.db == nil {
		le.setLeader(true)
		le.logger.Info("leader election disabled, acting as sole leader", "identity", le.identity)
		if le.onStart != nil {
			go le.onStart(ctx)
		}
		<-ctx.Done()
		le.setLeader(false)
		if le.onStop != nil {
			le.onStop()
		}
		return
	}

	le.logger.Info("starting leader election",
		"identity", le.identity,
		"lease", le.config.LeaseName,
		"leaseDuration", le.config.LeaseDuration,
		"renewDeadline", le.config.RenewDeadline,
		"retryPeriod", le.config.RetryPeriod,
	)

	var (
		cancelLeader context.CancelFunc
		lastRenew    time.Time
	)

	stepDown := func() {
		le.setLeader(false)
		if cancelLeader != nil {
			cancelLeader()
			cancelLeader = nil
		}
		le.logger.Info("lost leadership", "identity", le.identity)
		if le.onStop != nil {
			le.onStop()
		}
	}

	ticker := time.NewTicker(le.config.RetryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if le.IsLeader() {
				le.release()
				stepDown()
			}
			return
		case <-ticker.C:
			ok, err := le.tryAcquire(ctx)
			switch {
			case err != nil:
				le.logger.Error("lease acquisition failed", "error", err)
				// Tolerate transient renewal failures up to the deadline.
				if le.IsLeader() && le.now().Sub(lastRenew) > le.config.RenewDeadline {
					stepDown()
				}
			case ok:
				lastRenew = le.now()
				if !le.IsLeader() {
					le.markAcquired(ctx)
					le.setLeader(true)
					le.logger.Info("elected as leader", "identity", le.identity)
					var leaderCtx context.Context
					leaderCtx, cancelLeader = context.WithCancel(ctx)
					if le.onStart != nil {
						go le.onStart(leaderCtx)
					}
				}
			default:
				if le.IsLeader() {
					stepDown()
				}
			}
		}
	}
}

// tryAcquire renews our lease or steals an expired one. Returns false with a
// nil error when another live holder has the lease.
func (le *LeaderElector) tryAcquire(ctx context.Context) (bool, error) {
	now := le.now()
	expiry := now.Add(le.config.LeaseDuration)

	result := le.db.WithContext(ctx).Model(&LeaseRecord{}).
		Where("name = ? AND (holder = ? OR expires_at <= ?)", le.config.LeaseName, le.identity, now).
		Updates(map[string]any{
			"holder":     le.identity,
			"renewed_at": now,
			"expires_at": expiry,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	// No claimable row: either the lease does not exist yet or another live
	// holder has it. Insert-or-fail distinguishes the two.
	lease := LeaseRecord{
		Name:       le.config.LeaseName,
		Holder:     le.identity,
		AcquiredAt: now,
		RenewedAt:  now,
		ExpiresAt:  expiry,
	}
	if err := le.db.WithContext(ctx).Create(&lease).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// markAcquired stamps acquired_at when leadership transitions to us.
func (le *LeaderElector) markAcquired(ctx context.Context) {
	le.db.WithContext(ctx).Model(&LeaseRecord{}).
		Where("name = ? AND holder = ?", le.config.LeaseName, le.identity).
		Update("acquired_at", le.now())
}

// release drops our lease on shutdown so the next candidate does not wait
// out the full lease duration.
func (le *LeaderElector) release() {
	le.db.
		Where("name = ? AND holder = ?", le.config.LeaseName, le.identity).
		Delete(&LeaseRecord{})
}
