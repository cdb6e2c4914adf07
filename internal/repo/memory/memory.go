package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/proxychecker/internal/domain"
	"github.com/hamed0406/proxychecker/internal/repo"
)

var _ repo.TargetStore = (*Store)(nil)
var _ repo.HistoryStore = (*Store)(nil)

// Store keeps targets and history in process memory. One RWMutex covers
// both so target deletion and history clearing are a single step.
type Store struct {
	mu      sync.RWMutex
	nextID  domain.TargetID
	seq     int64
	targets map[domain.TargetID]domain.Target
	history map[domain.TargetID][]domain.ProbeResult // newest first
}

func New() *Store {
	return &Store{
		targets: make(map[domain.TargetID]domain.Target),
		history: make(map[domain.TargetID][]domain.ProbeResult),
	}
}

// ---- TargetStore ----

func (m *Store) Create(ctx context.Context, in domain.TargetInput) (domain.Target, error) {
	t, err := in.Target()
	if err != nil {
		return domain.Target{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now().UTC()
	t.ID = m.nextID
	t.CreatedAt, t.UpdatedAt = now, now
	m.targets[t.ID] = t
	return t, nil
}

func (m *Store) Update(ctx context.Context, id domain.TargetID, p domain.TargetPatch) (domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.targets[id]
	if !ok {
		return domain.Target{}, repo.ErrNotFound
	}
	t, err := p.Apply(cur)
	if err != nil {
		return domain.Target{}, err
	}
	t.UpdatedAt = time.Now().UTC()
	m.targets[id] = t
	return t, nil
}

func (m *Store) Delete(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, id)
	delete(m.history, id)
	return nil
}

func (m *Store) Get(ctx context.Context, id domain.TargetID) (domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return domain.Target{}, repo.ErrNotFound
	}
	return t, nil
}

func (m *Store) List(ctx context.Context) ([]domain.Target, error) {
	return m.list(func(domain.Target) bool { return true }), nil
}

func (m *Store) ListByKind(ctx context.Context, kind domain.Kind) ([]domain.Target, error) {
	return m.list(func(t domain.Target) bool { return t.Kind == kind }), nil
}

func (m *Store) list(keep func(domain.Target) bool) []domain.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- HistoryStore ----

func (m *Store) Append(ctx context.Context, id domain.TargetID, r domain.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[id]; !ok {
		return repo.ErrNotFound
	}
	m.seq++
	r.Seq = m.seq

	h := m.history[id]
	// insert keeping newest-first order; results normally arrive newest,
	// so this is usually position 0
	i := sort.Search(len(h), func(i int) bool { return r.Newer(h[i]) })
	h = append(h, domain.ProbeResult{})
	copy(h[i+1:], h[i:])
	h[i] = r
	if len(h) > repo.HistoryCap {
		h = h[:repo.HistoryCap:repo.HistoryCap]
	}
	m.history[id] = h
	return nil
}

func (m *Store) Recent(ctx context.Context, id domain.TargetID, limit int) ([]domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[id]
	limit = repo.ClampLimit(limit)
	if limit > len(h) {
		limit = len(h)
	}
	out := make([]domain.ProbeResult, limit)
	copy(out, h[:limit])
	return out, nil
}

func (m *Store) Latest(ctx context.Context, id domain.TargetID) (domain.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[id]
	if len(h) == 0 {
		return domain.ProbeResult{}, repo.ErrNotFound
	}
	return h[0], nil
}

func (m *Store) Clear(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, id)
	return nil
}
