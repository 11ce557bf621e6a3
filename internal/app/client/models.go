package client

import (
	"encoding/json"
	"time"

	syncdomain "or3sync/internal/domain/sync"
	"or3sync/internal/hlc"
)

// LocalRecord is the replica's view of one (table, pk).
type LocalRecord struct {
	WorkspaceID   string          `json:"workspace_id"`
	TableName     string          `json:"table_name"`
	PrimaryKey    string          `json:"primary_key"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Deleted       bool            `json:"deleted"`
	Clock         hlc.Timestamp   `json:"logical_clock"`
	ServerVersion uint64          `json:"server_version"`
}

type OutboxStatus string

const (
	OutboxPending  OutboxStatus = "pending"
	OutboxRejected OutboxStatus = "rejected"
)

// OutboxEntry is a local write waiting to be pushed.
type OutboxEntry struct {
	OpID        string
	WorkspaceID string
	TableName   string
	PrimaryKey  string
	Operation   syncdomain.Operation
	Payload     json.RawMessage
	Clock       hlc.Timestamp
	BaseVersion *uint64
	Status      OutboxStatus
	LastError   string
	CreatedAt   time.Time
}

func (e OutboxEntry) PushOperation() syncdomain.PushOperation {
	clock := e.Clock
	return syncdomain.PushOperation{
		OpID:        e.OpID,
		TableName:   e.TableName,
		PrimaryKey:  e.PrimaryKey,
		Operation:   e.Operation,
		Payload:     e.Payload,
		BaseVersion: e.BaseVersion,
		Clock:       &clock,
	}
}

// Status summarizes the replica of one workspace.
type Status struct {
	WorkspaceID string    `json:"workspace_id"`
	Cursor      uint64    `json:"cursor"`
	SyncedAt    time.Time `json:"synced_at,omitempty"`
	Records     int       `json:"records"`
	Pending     int       `json:"pending"`
	Rejected    int       `json:"rejected"`
}

// SyncResult reports one push and pull round.
type SyncResult struct {
	Pushed     int           `json:"pushed"`
	Duplicates int           `json:"duplicates"`
	Rejected   int           `json:"rejected"`
	Conflicts  int           `json:"conflicts"`
	Pulled     int           `json:"pulled"`
	Applied    int           `json:"applied"`
	Cursor     uint64        `json:"cursor"`
	Resynced   bool          `json:"resynced,omitempty"`
	Duration   time.Duration `json:"duration"`
}
