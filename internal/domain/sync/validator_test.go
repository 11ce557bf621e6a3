package sync

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Op(t *testing.T) {
	v := NewValidator(EngineConfig{AllowedTables: []string{"notes", " kv "}, MaxBatchSize: 10, MaxPayloadBytes: 32})

	tests := []struct {
		name      string
		op        PushOperation
		wantField string
	}{
		{name: "valid update", op: PushOperation{Operation: OpUpdate, TableName: "notes", PrimaryKey: "1", Payload: json.RawMessage(`{"a":1}`)}},
		{name: "trimmed table", op: PushOperation{Operation: OpCreate, TableName: "kv", PrimaryKey: "1", Payload: json.RawMessage(`"x"`)}},
		{name: "delete without payload", op: PushOperation{Operation: OpDelete, TableName: "notes", PrimaryKey: "1"}},
		{name: "unknown operation", op: PushOperation{Operation: "upsert", TableName: "notes", PrimaryKey: "1"}, wantField: "operation"},
		{name: "table not synced", op: PushOperation{Operation: OpDelete, TableName: "users", PrimaryKey: "1"}, wantField: "table_name"},
		{name: "long key", op: PushOperation{Operation: OpDelete, TableName: "notes", PrimaryKey: strings.Repeat("k", 300)}, wantField: "primary_key"},
		{name: "payload too big", op: PushOperation{Operation: OpUpdate, TableName: "notes", PrimaryKey: "1", Payload: json.RawMessage(`"` + strings.Repeat("x", 40) + `"`)}, wantField: "payload"},
		{name: "null payload", op: PushOperation{Operation: OpUpdate, TableName: "notes", PrimaryKey: "1", Payload: json.RawMessage(`null`)}, wantField: "payload"},
		{name: "broken json", op: PushOperation{Operation: OpCreate, TableName: "notes", PrimaryKey: "1", Payload: json.RawMessage(`{"a":`)}, wantField: "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := v.Op(tt.op)
			if tt.wantField == "" {
				assert.Nil(t, verr)
				return
			}
			require.NotNil(t, verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestValidator_Pull(t *testing.T) {
	v := NewValidator(DefaultEngineConfig())

	limit, err := v.Pull(PullRequest{WorkspaceID: "W", DeviceID: "D"}, 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	limit, err = v.Pull(PullRequest{WorkspaceID: "W", DeviceID: "D", Limit: 5000}, 50, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, limit)

	_, err = v.Pull(PullRequest{WorkspaceID: "W", DeviceID: "D", Limit: -1}, 50, 200)
	assert.True(t, IsValidation(err))

	_, err = v.Pull(PullRequest{WorkspaceID: " ", DeviceID: "D"}, 50, 200)
	assert.True(t, IsValidation(err))
}
