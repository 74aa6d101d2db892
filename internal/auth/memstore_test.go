package auth

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// memDirectory is an in-memory principal directory.
type memDirectory struct {
	mu         sync.RWMutex
	principals map[int64]users.Principal
	err        error
}

func newMemDirectory(ps ...users.Principal) *memDirectory {
	d := &memDirectory{principals: make(map[int64]users.Principal)}
	for _, p := range ps {
		d.principals[p.ID] = p
	}
	return d
}

func (d *memDirectory) put(p users.Principal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[p.ID] = p
}

func (d *memDirectory) FindByEmail(_ context.Context, email string) (*users.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return nil, d.err
	}
	for _, p := range d.principals {
		if p.Email == email {
			return clonePrincipal(p), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (d *memDirectory) FindByID(_ context.Context, id int64) (*users.Principal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return nil, d.err
	}
	p, ok := d.principals[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return clonePrincipal(p), nil
}

func clonePrincipal(p users.Principal) *users.Principal {
	if p.Role != nil {
		role := *p.Role
		role.Permissions = append([]users.Permission(nil), p.Role.Permissions...)
		p.Role = &role
	}
	return &p
}

// memStore serializes transactions with one mutex, which is a stricter form
// of the per-principal lock, and restores a snapshot on rollback.
type memStore struct {
	mu        sync.Mutex
	directory *memDirectory
	rows      map[int64]RefreshToken
	nextID    int64
	insertErr error
}

func newMemStore(directory *memDirectory) *memStore {
	return &memStore{directory: directory, rows: make(map[int64]RefreshToken)}
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx RefreshTokenTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, nextID := maps.Clone(s.rows), s.nextID
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.rows, s.nextID = snapshot, nextID
		return err
	}
	return nil
}

func (s *memStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.Expired(now) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountActive(_ context.Context, principalID int64, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows {
		if row.PrincipalID == principalID && !row.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) tokensOf(principalID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, row := range s.rows {
		if row.PrincipalID == principalID {
			out = append(out, row.Token)
		}
	}
	sort.Strings(out)
	return out
}

type memTx struct {
	s *memStore
}

func (t *memTx) LockPrincipal(ctx context.Context, principalID int64) error {
	_, err := t.s.directory.FindByID(ctx, principalID)
	return err
}

func (t *memTx) FindPrincipal(ctx context.Context, principalID int64) (*users.Principal, error) {
	return t.s.directory.FindByID(ctx, principalID)
}

func (t *memTx) FindByToken(_ context.Context, token string) (*RefreshToken, error) {
	for _, row := range t.s.rows {
		if row.Token == token {
			out := row
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (t *memTx) DeleteByID(_ context.Context, id int64) (int64, error) {
	if _, ok := t.s.rows[id]; !ok {
		return 0, nil
	}
	delete(t.s.rows, id)
	return 1, nil
}

func (t *memTx) DeleteByPrincipal(_ context.Context, principalID int64) (int64, error) {
	var n int64
	for id, row := range t.s.rows {
		if row.PrincipalID == principalID {
			delete(t.s.rows, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) Insert(_ context.Context, token RefreshToken) (*RefreshToken, error) {
	if t.s.insertErr != nil {
		return nil, t.s.insertErr
	}
	for _, row := range t.s.rows {
		if row.Token == token.Token {
			return nil, shared.ErrConflict
		}
	}
	t.s.nextID++
	token.ID = t.s.nextID
	token.CreatedAt = time.Now()
	t.s.rows[token.ID] = token
	out := token
	return &out, nil
}
