// Package memory implements the store contract in process memory.
// It backs single-node deployments and the test suite. Generation
// checks emulate the conditional writes the postgres store performs
// in SQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/store"
)

type Store struct {
	mu         sync.Mutex
	workspaces map[string]*core.Workspace
	tracked    map[string]*store.TrackedRequest
	audit      []*core.AuditEvent
	auditSeq   int64
}

func New() *Store {
	return &Store{
		workspaces: make(map[string]*core.Workspace),
		tracked:    make(map[string]*store.TrackedRequest),
	}
}

func (s *Store) CreateWorkspace(ctx context.Context, ws *core.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[ws.ID]; ok {
		return store.ErrDuplicateKey
	}
	ws.Generation = 1
	cp := *ws
	s.workspaces[ws.ID] = &cp
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (s *Store) ListWorkspaces(ctx context.Context, f store.ListFilter) ([]*core.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*core.Workspace
	for _, ws := range s.workspaces {
		if f.Owner != "" && ws.Owner != f.Owner {
			continue
		}
		if len(f.States) > 0 && !stateIn(ws.State, f.States) {
			continue
		}
		if !f.Cursor.IsZero() && !ws.CreatedAt.Before(f.Cursor) {
			continue
		}
		cp := *ws
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateWorkspace(ctx context.Context, ws *core.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.workspaces[ws.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Generation != ws.Generation {
		return store.ErrConflict
	}
	ws.Generation++
	cp := *ws
	s.workspaces[ws.ID] = &cp
	return nil
}

// ClaimPooled assigns the oldest idle AVAILABLE pool member to owner.
// Removal from the pool and ownership assignment are one operation
// under the store lock, so two concurrent claims cannot select the
// same member.
func (s *Store) ClaimPooled(ctx context.Context, key core.PoolKey, owner, team string) (*core.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pick *core.Workspace
	for _, ws := range s.workspaces {
		if !idlePoolMember(ws, key) {
			continue
		}
		if pick == nil || ws.CreatedAt.Before(pick.CreatedAt) {
			pick = ws
		}
	}
	if pick == nil {
		return nil, store.ErrPoolEmpty
	}

	pick.Owner = owner
	pick.Team = team
	pick.Generation++
	cp := *pick
	return &cp, nil
}

func (s *Store) CountPoolIdle(ctx context.Context, key core.PoolKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ws := range s.workspaces {
		if idlePoolMember(ws, key) {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetTrackedRequest(ctx context.Context, requester, key string) (*store.TrackedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tracked[requester+"\x00"+key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (s *Store) PutTrackedRequest(ctx context.Context, tr *store.TrackedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tr.Requester + "\x00" + tr.IdempotencyKey
	if _, ok := s.tracked[k]; ok {
		return store.ErrDuplicateKey
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}
	cp := *tr
	s.tracked[k] = &cp
	return nil
}

func (s *Store) InsertAudit(ctx context.Context, ev *core.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditSeq++
	cp := *ev
	cp.EventID = s.auditSeq
	if cp.Ts.IsZero() {
		cp.Ts = time.Now()
	}
	s.audit = append(s.audit, &cp)
	// Bound memory: keep a window of recent events.
	if len(s.audit) > 10000 {
		s.audit = s.audit[len(s.audit)-10000:]
	}
	return nil
}

// AuditEvents returns a copy of the retained audit window, most
// recent last. Used by tests.
func (s *Store) AuditEvents() []*core.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func idlePoolMember(ws *core.Workspace, key core.PoolKey) bool {
	return ws.PoolOrigin &&
		ws.Owner == "" &&
		ws.State == core.WorkspaceAvailable &&
		ws.BlueprintID == key.BlueprintID &&
		ws.OS == key.OS
}

func stateIn(s core.WorkspaceState, set []core.WorkspaceState) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
