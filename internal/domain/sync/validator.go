package sync

import (
	"encoding/json"
	"strings"
)

const (
	maxIDLen    = 128
	maxTableLen = 64
	maxKeyLen   = 256

	// JSON may escape a single byte of a string as \u00XX.
	maxEscapedByte = 6
	pushOpEnvelope = maxEscapedByte*(2*maxIDLen+maxTableLen+maxKeyLen) + 512
	pushEnvelope   = maxEscapedByte*2*maxIDLen + 512
)

// Validator checks push input. Batch problems are fatal to the whole
// request; per-op problems only reject that op.
type Validator struct {
	tables          map[string]struct{}
	maxBatch        int
	maxPayloadBytes int
}

func NewValidator(cfg EngineConfig) *Validator {
	tables := make(map[string]struct{}, len(cfg.AllowedTables))
	for _, t := range cfg.AllowedTables {
		t = strings.TrimSpace(t)
		if t != "" {
			tables[t] = struct{}{}
		}
	}
	return &Validator{
		tables:          tables,
		maxBatch:        cfg.MaxBatchSize,
		maxPayloadBytes: cfg.MaxPayloadBytes,
	}
}

// Batch rejects a malformed batch outright: missing scope, empty or
// oversized op list, ops without required fields.
func (v *Validator) Batch(req PushRequest) error {
	if err := validateScope(req.WorkspaceID, req.DeviceID); err != nil {
		return err
	}
	if len(req.Ops) == 0 {
		return invalid("ops", "batch is empty")
	}
	if v.maxBatch > 0 && len(req.Ops) > v.maxBatch {
		return invalid("ops", "batch of %d exceeds limit %d", len(req.Ops), v.maxBatch)
	}
	for i, op := range req.Ops {
		switch {
		case strings.TrimSpace(op.OpID) == "":
			return invalid("ops", "op %d: op_id is required", i)
		case len(op.OpID) > maxIDLen:
			return invalid("ops", "op %d: op_id longer than %d", i, maxIDLen)
		case op.TableName == "":
			return invalid("ops", "op %d: table_name is required", i)
		case op.PrimaryKey == "":
			return invalid("ops", "op %d: primary_key is required", i)
		case op.Operation == "":
			return invalid("ops", "op %d: operation is required", i)
		}
	}
	return nil
}

// Op validates a single operation. A non-nil result means the op is
// rejected without consuming a version.
func (v *Validator) Op(op PushOperation) *ValidationError {
	if !op.Operation.Valid() {
		return invalid("operation", "unknown operation %q", op.Operation)
	}
	if len(op.TableName) > maxTableLen {
		return invalid("table_name", "longer than %d", maxTableLen)
	}
	if _, ok := v.tables[op.TableName]; !ok {
		return invalid("table_name", "table %q is not synced", op.TableName)
	}
	if len(op.PrimaryKey) > maxKeyLen {
		return invalid("primary_key", "longer than %d", maxKeyLen)
	}
	if v.maxPayloadBytes > 0 && len(op.Payload) > v.maxPayloadBytes {
		return invalid("payload", "%d bytes exceeds limit %d", len(op.Payload), v.maxPayloadBytes)
	}
	if op.Operation != OpDelete {
		if len(op.Payload) == 0 || string(op.Payload) == "null" {
			return invalid("payload", "required for %s", op.Operation)
		}
		if !json.Valid(op.Payload) {
			return invalid("payload", "not valid JSON")
		}
	}
	return nil
}

// Pull normalizes the page limit and checks scope.
func (v *Validator) Pull(req PullRequest, defaultLimit, maxLimit int) (int, error) {
	if err := validateScope(req.WorkspaceID, req.DeviceID); err != nil {
		return 0, err
	}
	limit := req.Limit
	if limit < 0 {
		return 0, invalid("limit", "must not be negative")
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func validateScope(workspaceID, deviceID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return invalid("workspace_id", "is required")
	}
	if len(workspaceID) > maxIDLen {
		return invalid("workspace_id", "longer than %d", maxIDLen)
	}
	if strings.TrimSpace(deviceID) == "" {
		return invalid("device_id", "is required")
	}
	if len(deviceID) > maxIDLen {
		return invalid("device_id", "longer than %d", maxIDLen)
	}
	return nil
}
