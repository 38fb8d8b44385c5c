// Package replay implements replay protection for signed requests: a
// single-use nonce store keyed by request signature, the signature verifier
// that consults it, and the append-only security event log fed by both.
package replay

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dispatchlab/planhub/internal/db"
)

// Severities attached to emitted security events. 0 is worst.
const (
	SeverityReplay   = 1
	SeveritySkew     = 2
	SeverityMismatch = 1
)

// NonceStore records single-use request signatures. Implementations must be
// safe for concurrent use and must reject a signature that was already
// recorded and has not yet expired.
type NonceStore interface {
	// CheckAndRecord accepts the signature exactly once per TTL window.
	// It returns ErrTimestampSkew when the signed timestamp is too far
	// from the server clock, ErrReplayDetected when the signature is
	// already live, and nil when the signature was recorded. Rejections
	// are written to the security event log before returning.
	CheckAndRecord(ctx context.Context, signature string, requestTime time.Time, ttl time.Duration) error

	// DeleteExpired removes up to limit expired records, returning how
	// many were removed.
	DeleteExpired(ctx context.Context, limit int) (int64, error)
}

// DBNonceStore is the database-backed NonceStore. Uniqueness rests on the
// signature primary key: the insert either lands or collides, and a
// collision on an expired row reclaims the slot with a conditional update.
type DBNonceStore struct {
	db      *gorm.DB
	events  *SecurityEventStore
	maxSkew time.Duration
	now     func() time.Time
}

// NewDBNonceStore creates a nonce store on the given database.
func NewDBNonceStore(gormDB *gorm.DB, events *SecurityEventStore, maxSkew time.Duration) *DBNonceStore {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &DBNonceStore{db: gormDB, events: events, maxSkew: maxSkew, now: time.Now}
}

// AutoMigrate creates or updates the nonce table.
func (s *DBNonceStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&NonceRecord{}); err != nil {
		return fmt.Errorf("auto-migrate request_nonces: %w", err)
	}
	return nil
}

// CheckAndRecord implements NonceStore.
func (s *DBNonceStore) CheckAndRecord(ctx context.Context, signature string, requestTime time.Time, ttl time.Duration) error {
	now := s.now()
	if skew := now.Sub(requestTime); skew > s.maxSkew || skew < -s.maxSkew {
		s.events.Emit(ctx, EventTimestampSkew, SeveritySkew, map[string]any{
			"signature":        truncateSignature(signature),
			"requestTimestamp": requestTime.Format(time.RFC3339),
			"skewSeconds":      int(skew.Seconds()),
			"maxSkewSeconds":   int(s.maxSkew.Seconds()),
		})
		return ErrTimestampSkew
	}
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}

	record := &NonceRecord{
		Signature:        signature,
		RequestTimestamp: requestTime,
		ExpiresAt:        now.Add(ttl),
		CreatedAt:        now,
	}
	err := s.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return nil
	}
	if !db.IsUniqueViolation(err) {
		return fmt.Errorf("record nonce: %w", err)
	}

	// The signature exists. Reclaim the slot if its window has passed;
	// exactly one of any concurrent reclaimers wins the update.
	result := s.db.WithContext(ctx).Model(&NonceRecord{}).
		Where("signature = ? AND expires_at <= ?", signature, now).
		Updates(map[string]any{
			"request_timestamp": requestTime,
			"expires_at":        now.Add(ttl),
			"created_at":        now,
		})
	if result.Error != nil {
		return fmt.Errorf("reclaim expired nonce: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	s.events.Emit(ctx, EventReplayAttack, SeverityReplay, map[string]any{
		"signature":        truncateSignature(signature),
		"requestTimestamp": requestTime.Format(time.RFC3339),
	})
	return ErrReplayDetected
}

// DeleteExpired implements NonceStore. Deletion is bounded so a large
// backlog never starves live inserts.
func (s *DBNonceStore) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = DefaultCleanupBatchSize
	}
	now := s.now()
	result := s.db.WithContext(ctx).
		Where("signature IN (?)", s.db.Model(&NonceRecord{}).
			Select("signature").
			Where("expires_at <= ?", now).
			Limit(limit)).
		Delete(&NonceRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete expired nonces: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// truncateSignature keeps a recognizable prefix of the signature for the
// event log without storing the full credential twice.
func truncateSignature(signature string) string {
	const keep = 12
	if len(signature) <= keep {
		return signature
	}
	return signature[:keep] + "..."
}
