package sync

import (
	"encoding/json"
	"time"

	"or3sync/internal/hlc"
)

// Operation is the kind of mutation a change carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Status is the per-operation outcome of a push.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
)

// ChangeLogEntry is one applied mutation. Tombstones are rendered into the
// same shape (Operation = delete) when streamed to devices.
type ChangeLogEntry struct {
	WorkspaceID    string          `json:"workspace_id"`
	ServerVersion  uint64          `json:"server_version"`
	TableName      string          `json:"table_name"`
	PrimaryKey     string          `json:"primary_key"`
	Operation      Operation       `json:"operation"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Checksum       string          `json:"checksum,omitempty"`
	OpID           string          `json:"op_id"`
	OriginDeviceID string          `json:"origin_device_id"`
	Clock          hlc.Timestamp   `json:"logical_clock"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Tombstone records a delete. Kept apart from the change log so it can be
// retained on its own policy.
type Tombstone struct {
	WorkspaceID    string        `json:"workspace_id"`
	ServerVersion  uint64        `json:"server_version"`
	TableName      string        `json:"table_name"`
	PrimaryKey     string        `json:"primary_key"`
	OpID           string        `json:"op_id"`
	OriginDeviceID string        `json:"origin_device_id"`
	Clock          hlc.Timestamp `json:"logical_clock"`
	DeletedAt      time.Time     `json:"deleted_at"`
}

// Entry renders the tombstone as a stream entry.
func (t Tombstone) Entry() ChangeLogEntry {
	return ChangeLogEntry{
		WorkspaceID:    t.WorkspaceID,
		ServerVersion:  t.ServerVersion,
		TableName:      t.TableName,
		PrimaryKey:     t.PrimaryKey,
		Operation:      OpDelete,
		OpID:           t.OpID,
		OriginDeviceID: t.OriginDeviceID,
		Clock:          t.Clock,
		CreatedAt:      t.DeletedAt,
	}
}

// DeviceCursor is the highest version a device has durably received.
type DeviceCursor struct {
	WorkspaceID     string    `json:"workspace_id"`
	DeviceID        string    `json:"device_id"`
	LastSeenVersion uint64    `json:"last_seen_version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PushOperation is one client-originated mutation.
type PushOperation struct {
	OpID        string          `json:"op_id" doc:"Client idempotency key"`
	TableName   string          `json:"table_name"`
	PrimaryKey  string          `json:"primary_key"`
	Operation   Operation       `json:"operation" enum:"create,update,delete"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	BaseVersion *uint64         `json:"base_version,omitempty"`
	Clock       *hlc.Timestamp  `json:"logical_clock,omitempty"`
}

// PushResult is the outcome of one PushOperation.
type PushResult struct {
	OpID          string `json:"op_id"`
	Status        Status `json:"status"`
	ServerVersion uint64 `json:"server_version,omitempty"`
	Conflict      bool   `json:"conflict,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Record is the materialized state of one (table, pk) after LWW.
type Record struct {
	WorkspaceID   string          `json:"workspace_id"`
	TableName     string          `json:"table_name"`
	PrimaryKey    string          `json:"primary_key"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Deleted       bool            `json:"deleted"`
	Clock         hlc.Timestamp   `json:"logical_clock"`
	ServerVersion uint64          `json:"server_version"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RecordKey addresses one materialized row.
type RecordKey struct {
	TableName  string `json:"table_name"`
	PrimaryKey string `json:"primary_key"`
}

// Less orders keys by table, then primary key.
func (k RecordKey) Less(o RecordKey) bool {
	if k.TableName != o.TableName {
		return k.TableName < o.TableName
	}
	return k.PrimaryKey < o.PrimaryKey
}

func (r Record) Key() RecordKey {
	return RecordKey{TableName: r.TableName, PrimaryKey: r.PrimaryKey}
}

// WorkspaceState is the version bookkeeping of one workspace.
type WorkspaceState struct {
	Head          uint64
	PrunedThrough uint64
}

// EngineConfig bounds the work a single request may do.
type EngineConfig struct {
	AllowedTables       []string
	MaxBatchSize        int
	MaxPayloadBytes     int
	DefaultPullLimit    int
	MaxPullLimit        int
	MaxClockDrift       time.Duration
	ActiveDeviceHorizon time.Duration
	MaxGCBatchSize      int
	MaxGCContinuations  int
}

// MaxPushBodyBytes is the largest request body a push batch within
// MaxBatchSize and MaxPayloadBytes can need on the wire.
func (c EngineConfig) MaxPushBodyBytes() int64 {
	perOp := int64(c.MaxPayloadBytes) + pushOpEnvelope
	return pushEnvelope + int64(c.MaxBatchSize)*perOp
}

// DefaultEngineConfig returns conservative limits.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AllowedTables:       []string{"notes", "threads", "messages", "projects", "posts", "file_meta", "kv"},
		MaxBatchSize:        100,
		MaxPayloadBytes:     64 * 1024,
		DefaultPullLimit:    100,
		MaxPullLimit:        1000,
		MaxClockDrift:       5 * time.Minute,
		ActiveDeviceHorizon: 30 * 24 * time.Hour,
		MaxGCBatchSize:      1000,
		MaxGCContinuations:  10,
	}
}
