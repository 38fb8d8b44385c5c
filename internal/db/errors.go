package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL SQLSTATE and MySQL error numbers recognized during translation.
const (
	pgUniqueViolation   = "23505"
	pgLockNotAvailable  = "55P03"
	mysqlDuplicateEntry = 1062
	mysqlLockNowait     = 3572
	mysqlLockTimeout    = 1205
)

// IsUniqueViolation reports whether err is a unique or primary key constraint
// violation on any supported dialect.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	// glebarez/sqlite surfaces constraint failures as plain error strings.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// IsLockNotAvailable reports whether err means a row lock could not be
// acquired without waiting (FOR UPDATE NOWAIT contention, or a lock wait
// timeout on MySQL versions without NOWAIT support).
func IsLockNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockNowait || myErr.Number == mysqlLockTimeout
	}
	return false
}
