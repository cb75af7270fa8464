package purchase

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.Mutex
	storage map[string]Request
	byKey   map[string]string // userID + ":" + idempotencyKey -> request id
}

// NewMemoryRepository constructs an in-memory repository for tests and
// development mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Request), byKey: make(map[string]string)}
}

func (r *memoryRepository) Create(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := req.UserID + ":" + req.IdempotencyKey
	if _, exists := r.byKey[key]; exists {
		return ErrDuplicateKey
	}
	r.storage[req.ID] = req
	r.byKey[key] = req.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.storage[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (r *memoryRepository) FindByIdempotencyKey(_ context.Context, userID, key string) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[userID+":"+key]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r.storage[id], nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.storage {
		if req.UserID == userID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) ListUnresolved(_ context.Context, limit int) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.storage {
		if req.State == StateAmbiguous || req.State == StateReconciling {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) ListStale(_ context.Context, olderThan time.Time, limit int) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.storage {
		switch req.State {
		case StateCreated, StateReserved, StateSubmitted:
			if req.UpdatedAt.Before(olderThan) {
				out = append(out, req)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) Transition(_ context.Context, id string, from, to State, mutate func(*Request)) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.storage[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.State != from {
		return req, ErrStaleTransition
	}
	if mutate != nil {
		mutate(&req)
	}
	req.State = to
	req.UpdatedAt = time.Now().UTC()
	r.storage[id] = req
	return req, nil
}
