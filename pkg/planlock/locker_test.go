package planlock

import (
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const lockQuery = "SELECT id FROM plans WHERE tenant_id = $1 AND id = $2 FOR UPDATE NOWAIT"

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func TestMutexLockerAcquireRelease(t *testing.T) {
	l := NewMutexLocker()

	release, err := l.Acquire(nil, "acme", "plan-1")
	require.NoError(t, err)
	require.NotNil(t, release)

	_, err = l.Acquire(nil, "acme", "plan-1")
	assert.ErrorIs(t, err, ErrPlanLocked)

	release()

	release2, err := l.Acquire(nil, "acme", "plan-1")
	require.NoError(t, err)
	release2()
}

func TestMutexLockerKeysIndependently(t *testing.T) {
	l := NewMutexLocker()

	release, err := l.Acquire(nil, "acme", "plan-1")
	require.NoError(t, err)
	defer release()

	// A different plan in the same tenant is free.
	r2, err := l.Acquire(nil, "acme", "plan-2")
	require.NoError(t, err)
	r2()

	// The same plan ID in a different tenant is free.
	r3, err := l.Acquire(nil, "rival", "plan-1")
	require.NoError(t, err)
	r3()
}

func TestMutexLockerExcludesConcurrentHolders(t *testing.T) {
	l := NewMutexLocker()

	var holders atomic.Int32
	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(nil, "acme", "plan-1")
			if err != nil {
				if !errors.Is(err, ErrPlanLocked) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			acquired.Add(1)
			if n := holders.Add(1); n != 1 {
				t.Errorf("lock held by %d goroutines at once", n)
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Positive(t, acquired.Load())
}

func TestRowLockAcquire(t *testing.T) {
	gdb, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("acme", "plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("plan-1"))

	release, err := (&rowLock{}).Acquire(gdb, "acme", "plan-1")
	require.NoError(t, err)
	require.NotNil(t, release)
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLockContentionSurfacesAsPlanLocked(t *testing.T) {
	gdb, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("acme", "plan-1").
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "could not obtain lock on row"})

	release, err := (&rowLock{}).Acquire(gdb, "acme", "plan-1")
	assert.Nil(t, release)
	assert.ErrorIs(t, err, ErrPlanLocked)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLockMissingPlanLocksNothing(t *testing.T) {
	gdb, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("acme", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	release, err := (&rowLock{}).Acquire(gdb, "acme", "ghost")
	require.NoError(t, err)
	require.NotNil(t, release)
	release()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowLockWrapsOtherErrors(t *testing.T) {
	gdb, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(lockQuery)).
		WithArgs("acme", "plan-1").
		WillReturnError(errors.New("connection reset by peer"))

	release, err := (&rowLock{}).Acquire(gdb, "acme", "plan-1")
	assert.Nil(t, release)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPlanLocked)
	assert.Contains(t, err.Error(), "acquire plan row lock")
}

func TestNewPicksLockerByDialect(t *testing.T) {
	pgDB, _ := setupMockDB(t)
	_, ok := New(pgDB).(*rowLock)
	assert.True(t, ok, "postgres should use row locks")

	liteDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	_, ok = New(liteDB).(*mutexLock)
	assert.True(t, ok, "sqlite should use the in-process locker")
}
