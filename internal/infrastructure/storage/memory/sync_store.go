package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	syncdomain "or3sync/internal/domain/sync"
)

type recordKey struct {
	table string
	pk    string
}

// workspace holds all sync state of one workspace. mu serializes version
// assignment and guards every field.
type workspace struct {
	mu            sync.Mutex
	head          uint64
	prunedThrough uint64
	entries       []syncdomain.ChangeLogEntry
	tombstones    []syncdomain.Tombstone
	records       map[recordKey]syncdomain.Record
	ops           map[string]syncdomain.PushResult
	cursors       map[string]syncdomain.DeviceCursor
}

func newWorkspace() *workspace {
	return &workspace{
		records: make(map[recordKey]syncdomain.Record),
		ops:     make(map[string]syncdomain.PushResult),
		cursors: make(map[string]syncdomain.DeviceCursor),
	}
}

// SyncStore keeps the change log, tombstones and cursors in process memory.
type SyncStore struct {
	mu         sync.RWMutex
	workspaces map[string]*workspace
	cursorAge  *cursorOrder
}

var _ syncdomain.Store = (*SyncStore)(nil)

func NewSyncStore() *SyncStore {
	return &SyncStore{workspaces: make(map[string]*workspace), cursorAge: newCursorOrder()}
}

func (s *SyncStore) get(id string) *workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspaces[id]
}

func (s *SyncStore) getOrCreate(id string) *workspace {
	if ws := s.get(id); ws != nil {
		return ws
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		ws = newWorkspace()
		s.workspaces[id] = ws
	}
	return ws
}

func (s *SyncStore) InWorkspace(ctx context.Context, workspaceID string, fn func(ctx context.Context, tx syncdomain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ws := s.getOrCreate(workspaceID)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	tx := &memTx{ws: ws, head: ws.head}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *SyncStore) Entries(ctx context.Context, workspaceID string, after uint64, limit int) ([]syncdomain.ChangeLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ws := s.get(workspaceID)
	if ws == nil || limit <= 0 {
		return nil, nil
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	i := sort.Search(len(ws.entries), func(n int) bool { return ws.entries[n].ServerVersion > after })
	j := sort.Search(len(ws.tombstones), func(n int) bool { return ws.tombstones[n].ServerVersion > after })

	out := make([]syncdomain.ChangeLogEntry, 0, min(limit, len(ws.entries)-i+len(ws.tombstones)-j))
	for len(out) < limit && (i < len(ws.entries) || j < len(ws.tombstones)) {
		switch {
		case j >= len(ws.tombstones):
			out = append(out, ws.entries[i])
			i++
		case i >= len(ws.entries) || ws.tombstones[j].ServerVersion < ws.entries[i].ServerVersion:
			out = append(out, ws.tombstones[j].Entry())
			j++
		default:
			out = append(out, ws.entries[i])
			i++
		}
	}
	return out, nil
}

func (s *SyncStore) Records(ctx context.Context, workspaceID string, after syncdomain.RecordKey, limit int) ([]syncdomain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ws := s.get(workspaceID)
	if ws == nil || limit <= 0 {
		return nil, nil
	}
	ws.mu.Lock()
	out := make([]syncdomain.Record, 0, len(ws.records))
	for _, r := range ws.records {
		if after.Less(r.Key()) {
			out = append(out, r)
		}
	}
	ws.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SyncStore) State(ctx context.Context, workspaceID string) (syncdomain.WorkspaceState, error) {
	if err := ctx.Err(); err != nil {
		return syncdomain.WorkspaceState{}, err
	}
	ws := s.get(workspaceID)
	if ws == nil {
		return syncdomain.WorkspaceState{}, nil
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return syncdomain.WorkspaceState{Head: ws.head, PrunedThrough: ws.prunedThrough}, nil
}

func (s *SyncStore) Cursor(_ context.Context, workspaceID, deviceID string) (syncdomain.DeviceCursor, error) {
	ws := s.get(workspaceID)
	if ws == nil {
		return syncdomain.DeviceCursor{}, syncdomain.ErrCursorNotFound
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	c, ok := ws.cursors[deviceID]
	if !ok {
		return syncdomain.DeviceCursor{}, syncdomain.ErrCursorNotFound
	}
	return c, nil
}

func (s *SyncStore) EnsureCursor(_ context.Context, c syncdomain.DeviceCursor) error {
	ws := s.getOrCreate(c.WorkspaceID)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	key := cursorKey{workspaceID: c.WorkspaceID, deviceID: c.DeviceID}
	if cur, ok := ws.cursors[c.DeviceID]; ok {
		cur.UpdatedAt = c.UpdatedAt
		ws.cursors[c.DeviceID] = cur
		s.cursorAge.touch(key, cur.UpdatedAt)
		return nil
	}
	ws.cursors[c.DeviceID] = c
	s.cursorAge.touch(key, c.UpdatedAt)
	return nil
}

func (s *SyncStore) AdvanceCursor(_ context.Context, c syncdomain.DeviceCursor) (syncdomain.DeviceCursor, bool, error) {
	ws := s.getOrCreate(c.WorkspaceID)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if cur, ok := ws.cursors[c.DeviceID]; ok && c.LastSeenVersion < cur.LastSeenVersion {
		return cur, false, nil
	}
	ws.cursors[c.DeviceID] = c
	s.cursorAge.touch(cursorKey{workspaceID: c.WorkspaceID, deviceID: c.DeviceID}, c.UpdatedAt)
	return c, true, nil
}

func (s *SyncStore) MinActiveCursor(_ context.Context, workspaceID string, activeSince time.Time) (uint64, bool, error) {
	ws := s.get(workspaceID)
	if ws == nil {
		return 0, false, nil
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	var (
		lowest uint64
		found  bool
	)
	for _, c := range ws.cursors {
		if c.UpdatedAt.Before(activeSince) {
			continue
		}
		if !found || c.LastSeenVersion < lowest {
			lowest = c.LastSeenVersion
			found = true
		}
	}
	return lowest, found, nil
}

func (s *SyncStore) PruneChangeLog(ctx context.Context, p syncdomain.PruneParams) (syncdomain.PruneBatch, error) {
	if err := ctx.Err(); err != nil {
		return syncdomain.PruneBatch{}, err
	}
	ws := s.get(p.WorkspaceID)
	if ws == nil {
		return syncdomain.PruneBatch{}, nil
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	var batch syncdomain.PruneBatch
	kept := ws.entries[:0]
	for _, e := range ws.entries {
		if batch.Deleted < p.Limit && prunable(e.ServerVersion, e.CreatedAt, p) {
			delete(ws.ops, e.OpID)
			batch.Deleted++
			batch.Last = e.ServerVersion
			continue
		}
		kept = append(kept, e)
	}
	clear(ws.entries[len(kept):])
	ws.entries = kept
	ws.markPruned(batch.Last)
	return batch, nil
}

func (s *SyncStore) PruneTombstones(ctx context.Context, p syncdomain.PruneParams) (syncdomain.PruneBatch, error) {
	if err := ctx.Err(); err != nil {
		return syncdomain.PruneBatch{}, err
	}
	ws := s.get(p.WorkspaceID)
	if ws == nil {
		return syncdomain.PruneBatch{}, nil
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()

	var batch syncdomain.PruneBatch
	kept := ws.tombstones[:0]
	for _, t := range ws.tombstones {
		if batch.Deleted < p.Limit && prunable(t.ServerVersion, t.DeletedAt, p) {
			delete(ws.ops, t.OpID)
			batch.Deleted++
			batch.Last = t.ServerVersion
			continue
		}
		kept = append(kept, t)
	}
	clear(ws.tombstones[len(kept):])
	ws.tombstones = kept
	ws.markPruned(batch.Last)
	return batch, nil
}

func prunable(version uint64, created time.Time, p syncdomain.PruneParams) bool {
	return version > p.After && version < p.Below && created.Before(p.CreatedBefore)
}

func (ws *workspace) markPruned(v uint64) {
	if v > ws.prunedThrough {
		ws.prunedThrough = v
	}
}

func (s *SyncStore) Workspaces(_ context.Context, after string, limit int) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.workspaces))
	for id := range s.workspaces {
		if id > after {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ReapCursors walks cursors oldest first and stops at the first one updated
// at or after staleBefore, so each call visits at most limit cursors.
func (s *SyncStore) ReapCursors(_ context.Context, staleBefore time.Time, limit int) (int, error) {
	reaped := 0
	for _, stamp := range s.cursorAge.take(staleBefore, limit) {
		ws := s.get(stamp.key.workspaceID)
		if ws == nil {
			continue
		}
		ws.mu.Lock()
		c, ok := ws.cursors[stamp.key.deviceID]
		switch {
		case !ok:
		case c.UpdatedAt.Before(staleBefore):
			delete(ws.cursors, stamp.key.deviceID)
			reaped++
		default:
			// Refreshed between take and lock.
			s.cursorAge.touch(stamp.key, c.UpdatedAt)
		}
		ws.mu.Unlock()
	}
	return reaped, nil
}

// memTx stages writes until the section commits.
type memTx struct {
	ws         *workspace
	head       uint64
	entries    []syncdomain.ChangeLogEntry
	tombstones []syncdomain.Tombstone
	records    map[recordKey]syncdomain.Record
	ops        map[string]syncdomain.PushResult
}

func (tx *memTx) LookupOp(_ context.Context, opID string) (*syncdomain.PushResult, error) {
	if res, ok := tx.ops[opID]; ok {
		return &res, nil
	}
	if res, ok := tx.ws.ops[opID]; ok {
		return &res, nil
	}
	return nil, nil
}

func (tx *memTx) NextVersion(_ context.Context) (uint64, error) {
	tx.head++
	return tx.head, nil
}

func (tx *memTx) AppendEntry(_ context.Context, e syncdomain.ChangeLogEntry) error {
	tx.entries = append(tx.entries, e)
	return nil
}

func (tx *memTx) AppendTombstone(_ context.Context, t syncdomain.Tombstone) error {
	tx.tombstones = append(tx.tombstones, t)
	return nil
}

func (tx *memTx) Record(_ context.Context, table, pk string) (*syncdomain.Record, error) {
	k := recordKey{table: table, pk: pk}
	if r, ok := tx.records[k]; ok {
		return &r, nil
	}
	if r, ok := tx.ws.records[k]; ok {
		return &r, nil
	}
	return nil, nil
}

func (tx *memTx) PutRecord(_ context.Context, r syncdomain.Record) error {
	if tx.records == nil {
		tx.records = make(map[recordKey]syncdomain.Record)
	}
	tx.records[recordKey{table: r.TableName, pk: r.PrimaryKey}] = r
	return nil
}

func (tx *memTx) RememberOp(_ context.Context, res syncdomain.PushResult) error {
	if tx.ops == nil {
		tx.ops = make(map[string]syncdomain.PushResult)
	}
	tx.ops[res.OpID] = res
	return nil
}

func (tx *memTx) commit() {
	ws := tx.ws
	ws.head = tx.head
	ws.entries = append(ws.entries, tx.entries...)
	ws.tombstones = append(ws.tombstones, tx.tombstones...)
	for k, r := range tx.records {
		ws.records[k] = r
	}
	for id, res := range tx.ops {
		ws.ops[id] = res
	}
}

// Record exposes the materialized row for inspection.
func (s *SyncStore) Record(workspaceID, table, pk string) (syncdomain.Record, bool) {
	ws := s.get(workspaceID)
	if ws == nil {
		return syncdomain.Record{}, false
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	r, ok := ws.records[recordKey{table: table, pk: pk}]
	return r, ok
}
