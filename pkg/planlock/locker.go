// Package planlock provides the exclusive per-plan lock that serializes
// state transitions and publishes against a single plan. Acquisition never
// waits: contention surfaces immediately as ErrPlanLocked and callers retry
// with backoff.
package planlock

import (
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/internal/db"
)

// ErrPlanLocked is returned when another in-flight operation holds the lock
// for the same plan.
var ErrPlanLocked = errors.New("plan is locked by another operation")

// Locker acquires an exclusive lock on one plan aggregate. Acquire never
// blocks. The tx argument must be the transaction the protected work runs
// in; the row-lock implementation pins the plan row to it. The returned
// release func must be called once the transaction has finished.
type Locker interface {
	Acquire(tx *gorm.DB, tenantID, planID string) (release func(), err error)
}

// New returns a Locker suited to the database dialect: row locks via
// FOR UPDATE NOWAIT on postgres and mysql, and an in-process mutex map on
// sqlite, which only ever runs single-process.
func New(gormDB *gorm.DB) Locker {
	switch gormDB.Dialector.Name() {
	case db.TypePostgres, db.TypeMySQL:
		return &rowLock{}
	default:
		return NewMutexLocker()
	}
}

// rowLock pins the plan row with FOR UPDATE NOWAIT. The database releases
// the lock when the surrounding transaction commits or rolls back, so
// release is a no-op.
type rowLock struct{}

func (l *rowLock) Acquire(tx *gorm.DB, tenantID, planID string) (func(), error) {
	var id string
	err := tx.Raw(
		"SELECT id FROM plans WHERE tenant_id = ? AND id = ? FOR UPDATE NOWAIT",
		tenantID, planID,
	).Scan(&id).Error
	if err != nil {
		if db.IsLockNotAvailable(err) {
			return nil, ErrPlanLocked
		}
		return nil, fmt.Errorf("acquire plan row lock: %w", err)
	}
	// A missing plan locks nothing; the caller's own load reports not-found.
	return func() {}, nil
}

// mutexLock serializes plan operations within one process using per-plan
// try-locks. Suitable only where the deployment is single-process, which is
// the case for every sqlite deployment.
type mutexLock struct {
	mu    sync.Mutex
	plans map[string]*sync.Mutex
}

// NewMutexLocker returns the in-process Locker. Exported for tests and
// embedded single-process setups.
func NewMutexLocker() Locker {
	return &mutexLock{plans: make(map[string]*sync.Mutex)}
}

func (l *mutexLock) Acquire(_ *gorm.DB, tenantID, planID string) (func(), error) {
	key := tenantID + "/" + planID
	l.mu.Lock()
	pm, ok := l.plans[key]
	if !ok {
		pm = &sync.Mutex{}
		l.plans[key] = pm
	}
	l.mu.Unlock()

	if !pm.TryLock() {
		return nil, ErrPlanLocked
	}
	return pm.Unlock, nil
}
