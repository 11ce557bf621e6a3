package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"or3sync/internal/hlc"
)

func TestWins(t *testing.T) {
	at := func(wall int64, counter uint32, device string) Record {
		return Record{Clock: hlc.Timestamp{WallMS: wall, Counter: counter, DeviceID: device}}
	}
	current := at(100, 1, "b")

	tests := []struct {
		name     string
		current  *Record
		incoming Record
		want     bool
	}{
		{name: "no current record", current: nil, incoming: at(1, 0, "a"), want: true},
		{name: "later wall", current: &current, incoming: at(101, 0, "a"), want: true},
		{name: "earlier wall", current: &current, incoming: at(99, 9, "z"), want: false},
		{name: "higher counter", current: &current, incoming: at(100, 2, "a"), want: true},
		{name: "tie broken by device", current: &current, incoming: at(100, 1, "c"), want: true},
		{name: "tie lost by device", current: &current, incoming: at(100, 1, "a"), want: false},
		{name: "identical clock", current: &current, incoming: at(100, 1, "b"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Wins(tt.current, tt.incoming))
		})
	}
}

func TestChecksum(t *testing.T) {
	assert.Empty(t, Checksum(nil))

	sum := Checksum([]byte(`{"a":1}`))
	assert.Len(t, sum, 64)
	assert.True(t, VerifyChecksum([]byte(`{"a":1}`), sum))
	assert.False(t, VerifyChecksum([]byte(`{"a":2}`), sum))
}
