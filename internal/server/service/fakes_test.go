package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"filedrop/internal/server/database"
	"filedrop/internal/server/notify"

	"github.com/google/uuid"
)

// --- In-memory registry ---

type fakeRegistry struct {
	mu     sync.Mutex
	shares map[uuid.UUID]*database.Share
	grants map[uuid.UUID]*database.GroupShare

	createShareErr error
	createGrantErr error
	// createGrantFailAfter fails grant creation once this many grants exist.
	createGrantFailAfter int
	// tokenCollisions makes TokenExists report true this many times.
	tokenCollisions int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		shares:               make(map[uuid.UUID]*database.Share),
		grants:               make(map[uuid.UUID]*database.GroupShare),
		createGrantFailAfter: -1,
	}
}

func (r *fakeRegistry) CreateShare(_ context.Context, share *database.Share) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createShareErr != nil {
		return r.createShareErr
	}
	cp := *share
	r.shares[share.ID] = &cp
	return nil
}

func (r *fakeRegistry) GetShareByToken(_ context.Context, token string) (*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, share := range r.shares {
		if share.Token == token {
			cp := *share
			return &cp, nil
		}
	}
	return nil, database.ErrShareNotFound
}

func (r *fakeRegistry) ClaimShareByToken(_ context.Context, token string) (*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, share := range r.shares {
		if share.Token == token && share.Kind == database.KindSingle {
			cp := *share
			delete(r.shares, id)
			return &cp, nil
		}
	}
	return nil, database.ErrShareNotFound
}

func (r *fakeRegistry) GetShareByID(_ context.Context, id uuid.UUID) (*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	share, ok := r.shares[id]
	if !ok {
		return nil, database.ErrShareNotFound
	}
	cp := *share
	return &cp, nil
}

func (r *fakeRegistry) GetExpiredShares(_ context.Context, before time.Time) ([]*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.Share
	for _, share := range r.shares {
		if share.ExpiresAt.Before(before) {
			cp := *share
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRegistry) DeleteShare(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shares[id]; !ok {
		return database.ErrShareNotFound
	}
	delete(r.shares, id)
	return nil
}

func (r *fakeRegistry) CreateGroupShare(_ context.Context, grant *database.GroupShare) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createGrantErr != nil {
		return r.createGrantErr
	}
	if r.createGrantFailAfter >= 0 && len(r.grants) >= r.createGrantFailAfter {
		return fmt.Errorf("grant insert failed")
	}
	cp := *grant
	r.grants[grant.ID] = &cp
	return nil
}

func (r *fakeRegistry) GetGroupShareByToken(_ context.Context, token string) (*database.GroupShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, grant := range r.grants {
		if grant.Token == token {
			cp := *grant
			return &cp, nil
		}
	}
	return nil, database.ErrGroupShareNotFound
}

func (r *fakeRegistry) GetGroupSharesByShare(_ context.Context, shareID uuid.UUID) ([]*database.GroupShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.GroupShare
	for _, grant := range r.grants {
		if grant.ShareID == shareID {
			cp := *grant
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRegistry) GetExpiredGroupShares(_ context.Context, before time.Time) ([]*database.GroupShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.GroupShare
	for _, grant := range r.grants {
		if grant.ExpiresAt.Before(before) {
			cp := *grant
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRegistry) DeleteGroupShare(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grants[id]; !ok {
		return database.ErrGroupShareNotFound
	}
	delete(r.grants, id)
	return nil
}

func (r *fakeRegistry) TokenExists(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokenCollisions > 0 {
		r.tokenCollisions--
		return true, nil
	}
	for _, share := range r.shares {
		if share.Token == token {
			return true, nil
		}
	}
	for _, grant := range r.grants {
		if grant.Token == token {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRegistry) GetStats(_ context.Context) (*database.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &database.Stats{TotalShares: int64(len(r.shares))}
	now := time.Now().UTC()
	for _, share := range r.shares {
		if share.ExpiresAt.After(now) {
			stats.ActiveShares++
			stats.StorageUsed += share.SizeBytes
		}
	}
	for _, grant := range r.grants {
		if grant.ExpiresAt.After(now) {
			stats.ActiveGrants++
		}
	}
	return stats, nil
}

func (r *fakeRegistry) shareCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shares)
}

func (r *fakeRegistry) grantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.grants)
}

var _ Registry = (*fakeRegistry)(nil)

// --- In-memory blob store ---

type fakeStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	createErr error
	writeErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[string][]byte)}
}

type fakeBlobWriter struct {
	store *fakeStore
	key   string
	buf   bytes.Buffer
}

func (w *fakeBlobWriter) Write(p []byte) (int, error) {
	if w.store.writeErr != nil {
		return 0, w.store.writeErr
	}
	return w.buf.Write(p)
}

func (w *fakeBlobWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.blobs[w.key] = w.buf.Bytes()
	return nil
}

func (s *fakeStore) Create(key string) (io.WriteCloser, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &fakeBlobWriter{store: s, key: key}, nil
}

func (s *fakeStore) Open(key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob not found for key %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *fakeStore) Exists(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok, nil
}

func (s *fakeStore) EnsureReady() error { return nil }

func (s *fakeStore) blobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// --- Recording notifier ---

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: make(map[string]bool)}
}

func (n *fakeNotifier) Send(_ context.Context, recipient string, _ notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[recipient] {
		return fmt.Errorf("smtp unavailable")
	}
	n.sent = append(n.sent, recipient)
	return nil
}
