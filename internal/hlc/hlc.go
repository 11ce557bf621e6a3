// Package hlc implements a hybrid logical clock used to order concurrent
// writes to the same record deterministically across devices.
package hlc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrClockDrift is returned when a remote timestamp is further ahead of the
// local wall clock than the configured tolerance.
var ErrClockDrift = errors.New("hlc: remote clock too far ahead")

// Timestamp is a (wall_ms, counter, device_id) triple. The zero value sorts
// before every issued timestamp.
type Timestamp struct {
	WallMS   int64  `json:"wall_ms"`
	Counter  uint32 `json:"counter"`
	DeviceID string `json:"device_id"`
}

// Compare orders by wall time, then counter, then device id.
// Returns -1, 0 or 1.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.WallMS < o.WallMS:
		return -1
	case t.WallMS > o.WallMS:
		return 1
	case t.Counter < o.Counter:
		return -1
	case t.Counter > o.Counter:
		return 1
	}
	return strings.Compare(t.DeviceID, o.DeviceID)
}

// After reports whether t sorts strictly after o.
func (t Timestamp) After(o Timestamp) bool {
	return t.Compare(o) > 0
}

func (t Timestamp) IsZero() bool {
	return t.WallMS == 0 && t.Counter == 0 && t.DeviceID == ""
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.WallMS, t.Counter, t.DeviceID)
}

// Clock issues monotonically increasing timestamps for one node.
// Safe for concurrent use.
type Clock struct {
	mu       sync.Mutex
	nodeID   string
	wall     int64
	counter  uint32
	maxDrift time.Duration
	now      func() time.Time
}

// NewClock creates a clock for nodeID. A maxDrift of zero disables the
// drift check in Update.
func NewClock(nodeID string, maxDrift time.Duration) *Clock {
	return &Clock{
		nodeID:   nodeID,
		maxDrift: maxDrift,
		now:      time.Now,
	}
}

// WithNow swaps the wall clock source. Used by tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Now returns a timestamp strictly greater than any previously issued or
// observed by this clock.
func (c *Clock) Now() Timestamp {
	return c.NowFor(c.nodeID)
}

// NowFor is Now stamped with another origin id. The server uses it to
// stamp ops on behalf of the device that sent them.
func (c *Clock) NowFor(deviceID string) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	pt := c.now().UnixMilli()
	if pt > c.wall {
		c.wall = pt
		c.counter = 0
	} else {
		c.counter++
	}
	return Timestamp{WallMS: c.wall, Counter: c.counter, DeviceID: deviceID}
}

// Update merges a remote timestamp into the clock (HLC receive rule) so
// later local timestamps sort after it.
func (c *Clock) Update(remote Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if err := c.checkDrift(remote, now); err != nil {
		return err
	}

	pt := now.UnixMilli()
	switch {
	case pt > c.wall && pt > remote.WallMS:
		c.wall = pt
		c.counter = 0
	case remote.WallMS > c.wall:
		c.wall = remote.WallMS
		c.counter = remote.Counter + 1
	case c.wall > remote.WallMS:
		c.counter++
	default:
		if remote.Counter > c.counter {
			c.counter = remote.Counter
		}
		c.counter++
	}
	return nil
}

// CheckDrift validates remote against the local wall clock without
// touching clock state.
func (c *Clock) CheckDrift(remote Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkDrift(remote, c.now())
}

func (c *Clock) checkDrift(remote Timestamp, now time.Time) error {
	if c.maxDrift <= 0 {
		return nil
	}
	ahead := time.Duration(remote.WallMS-now.UnixMilli()) * time.Millisecond
	if ahead > c.maxDrift {
		return fmt.Errorf("%w: %s ahead (max %s)", ErrClockDrift, ahead, c.maxDrift)
	}
	return nil
}
