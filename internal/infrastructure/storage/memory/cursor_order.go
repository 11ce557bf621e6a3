package memory

import (
	"container/list"
	"sync"
	"time"
)

type cursorKey struct {
	workspaceID string
	deviceID    string
}

type cursorStamp struct {
	key       cursorKey
	updatedAt time.Time
}

// cursorOrder indexes every stored cursor by UpdatedAt, oldest at the front,
// so reaping only walks cursors that are candidates.
//
// Lock order is workspace.mu then cursorOrder.mu.
type cursorOrder struct {
	mu    sync.Mutex
	order *list.List
	elems map[cursorKey]*list.Element

	// lastScan is the number of entries the latest take visited.
	lastScan int
}

func newCursorOrder() *cursorOrder {
	return &cursorOrder{order: list.New(), elems: make(map[cursorKey]*list.Element)}
}

// touch records that key was updated at updatedAt. Updates normally arrive in
// time order, so the backward walk stops after a step or two.
func (o *cursorOrder) touch(key cursorKey, updatedAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e, ok := o.elems[key]; ok {
		o.order.Remove(e)
	}
	stamp := cursorStamp{key: key, updatedAt: updatedAt}
	mark := o.order.Back()
	for mark != nil && mark.Value.(cursorStamp).updatedAt.After(updatedAt) {
		mark = mark.Prev()
	}
	if mark == nil {
		o.elems[key] = o.order.PushFront(stamp)
	} else {
		o.elems[key] = o.order.InsertAfter(stamp, mark)
	}
}

// take unlinks up to limit entries older than staleBefore and returns them.
// It visits at most limit entries.
func (o *cursorOrder) take(staleBefore time.Time, limit int) []cursorStamp {
	o.mu.Lock()
	defer o.mu.Unlock()

	var (
		out     []cursorStamp
		scanned int
	)
	for e := o.order.Front(); e != nil && scanned < limit; {
		scanned++
		stamp := e.Value.(cursorStamp)
		if !stamp.updatedAt.Before(staleBefore) {
			break
		}
		next := e.Next()
		o.order.Remove(e)
		delete(o.elems, stamp.key)
		out = append(out, stamp)
		e = next
	}
	o.lastScan = scanned
	return out
}

func (o *cursorOrder) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.order.Len()
}
