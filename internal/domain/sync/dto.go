package sync

import "time"

// PushRequest is a batch of operations from one device.
type PushRequest struct {
	WorkspaceID string          `json:"workspace_id" minLength:"1"`
	DeviceID    string          `json:"device_id" minLength:"1"`
	Ops         []PushOperation `json:"ops"`
}

type PushResponse struct {
	ServerVersion uint64       `json:"server_version"`
	Results       []PushResult `json:"results"`
}

type PullRequest struct {
	WorkspaceID string `json:"workspace_id" minLength:"1"`
	DeviceID    string `json:"device_id" minLength:"1"`
	Cursor      uint64 `json:"cursor"`
	Limit       int    `json:"limit,omitempty" minimum:"0"`
}

type PullResponse struct {
	Entries    []ChangeLogEntry `json:"entries"`
	NextCursor uint64           `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

type CursorRequest struct {
	WorkspaceID string `json:"workspace_id" minLength:"1"`
	DeviceID    string `json:"device_id" minLength:"1"`
	Version     uint64 `json:"version"`
}

type CursorResponse struct {
	OK bool `json:"ok"`
}

// SnapshotRequest pages through the materialized records of a workspace.
// AsOf is zero on the first page; later pages echo the value the first
// page returned.
type SnapshotRequest struct {
	WorkspaceID string     `json:"workspace_id" minLength:"1"`
	DeviceID    string     `json:"device_id" minLength:"1"`
	AsOf        uint64     `json:"as_of,omitempty"`
	After       *RecordKey `json:"after,omitempty"`
	Limit       int        `json:"limit,omitempty" minimum:"0"`
}

// SnapshotResponse carries one page of records. Once the last page is
// applied the device pulls the change log from AsOf.
type SnapshotResponse struct {
	Records []Record   `json:"records"`
	AsOf    uint64     `json:"as_of"`
	Next    *RecordKey `json:"next,omitempty"`
	HasMore bool       `json:"has_more"`
}

// GCRequest drives one bounded collector invocation.
type GCRequest struct {
	WorkspaceID        string  `json:"workspace_id" minLength:"1"`
	RetentionSeconds   int64   `json:"retention_seconds" minimum:"0"`
	BatchSize          int     `json:"batch_size" minimum:"1"`
	ContinuationCursor *uint64 `json:"continuation_cursor,omitempty"`
}

func (r GCRequest) Retention() time.Duration {
	return time.Duration(r.RetentionSeconds) * time.Second
}

type GCResult struct {
	DeletedCount int     `json:"deleted_count"`
	NextCursor   *uint64 `json:"next_cursor,omitempty"`
	Done         bool    `json:"done"`
}
