package replay

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NonceRecord is a single-use request signature. The signature is the
// primary key, so recording the same one twice fails at the storage level;
// the row's slot may be reclaimed once ExpiresAt passes.
type NonceRecord struct {
	Signature        string    `gorm:"primaryKey;column:signature;type:varchar(128)"`
	RequestTimestamp time.Time `gorm:"column:request_timestamp;not null"`
	ExpiresAt        time.Time `gorm:"column:expires_at;index:idx_nonces_expires;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for request nonces.
func (NonceRecord) TableName() string {
	return "request_nonces"
}

// Event types recorded in the security event log.
const (
	EventReplayAttack  = "REPLAY_ATTACK"
	EventTimestampSkew = "SIG_TIMESTAMP_SKEW"
	EventSigMismatch   = "SIG_MISMATCH"
)

// SecurityEventRecord is one append-only entry in the security event log.
type SecurityEventRecord struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	EventType  string    `gorm:"column:event_type;index:idx_secevents_type_time,priority:1;not null"`
	Severity   int       `gorm:"column:severity;not null"`
	Source     string    `gorm:"column:source"`
	TenantID   string    `gorm:"column:tenant_id;index:idx_secevents_tenant"`
	Path       string    `gorm:"column:path;type:text"`
	RemoteAddr string    `gorm:"column:remote_addr;type:varchar(64)"`
	Details    JSONMap   `gorm:"column:details;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;index:idx_secevents_type_time,priority:2;autoCreateTime"`
}

// TableName returns the table name for security events.
func (SecurityEventRecord) TableName() string {
	return "security_events"
}

// JSONMap is a map[string]any column stored as JSON text.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			*m = nil
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	case []byte:
		if len(v) == 0 {
			*m = nil
			return nil
		}
		return json.Unmarshal(v, m)
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", value)
	}
}

// SecurityEvent is the API representation of a security event.
type SecurityEvent struct {
	ID         string         `json:"id"`
	EventType  string         `json:"eventType"`
	Severity   int            `json:"severity"`
	Source     string         `json:"source,omitempty"`
	TenantID   string         `json:"tenantId,omitempty"`
	Path       string         `json:"path,omitempty"`
	RemoteAddr string         `json:"remoteAddr,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  string         `json:"createdAt,omitempty"`
}

// SecurityEventList is a paginated list of security events.
type SecurityEventList struct {
	Items         []SecurityEvent `json:"items"`
	PageSize      int             `json:"pageSize"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
	TotalSize     int             `json:"totalSize"`
}

func eventToAPI(rec *SecurityEventRecord) SecurityEvent {
	e := SecurityEvent{
		ID:         rec.ID,
		EventType:  rec.EventType,
		Severity:   rec.Severity,
		Source:     rec.Source,
		TenantID:   rec.TenantID,
		Path:       rec.Path,
		RemoteAddr: rec.RemoteAddr,
		Details:    rec.Details,
	}
	if !rec.CreatedAt.IsZero() {
		e.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	return e
}
