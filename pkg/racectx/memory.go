package racectx

import (
	"context"
	"sync"
	"time"
)

type inMemoryStore struct {
	mutex     sync.Mutex
	contexts  map[string]*RaceContext
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

var _ Store = (*inMemoryStore)(nil)

func newInMemoryStore(cfg *config) *inMemoryStore {
	return &inMemoryStore{
		contexts:  make(map[string]*RaceContext),
		ttl:       cfg.ttl,
		lastSweep: cfg.now(),
		now:       cfg.now,
	}
}

func (s *inMemoryStore) Get(_ context.Context, clientID string) (*RaceContext, error) {
	if err := validateClientID(clientID); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	rc, ok := s.contexts[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(rc, s.now()) {
		delete(s.contexts, clientID)
		return nil, ErrNotFound
	}
	ret := *rc
	return &ret, nil
}

//nolint:whitespace // can't make both editor and linter happy
func (s *inMemoryStore) SetWeather(
	_ context.Context, clientID string, raining bool,
) (*RaceContext, error) {
	if err := validateClientID(clientID); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := s.now()
	s.sweep(now)
	rc, ok := s.contexts[clientID]
	if !ok || s.expired(rc, now) {
		rc = &RaceContext{ClientID: clientID}
		s.contexts[clientID] = rc
	}
	rc.Raining = raining
	rc.Revision++
	rc.UpdatedAt = now
	ret := *rc
	return &ret, nil
}

func (s *inMemoryStore) expired(rc *RaceContext, now time.Time) bool {
	return s.ttl > 0 && now.Sub(rc.UpdatedAt) >= s.ttl
}

// sweep removes expired contexts, at most once per sweep interval.
// must be called with the mutex held
func (s *inMemoryStore) sweep(now time.Time) {
	if s.ttl <= 0 || now.Sub(s.lastSweep) < min(s.ttl, time.Minute) {
		return
	}
	s.lastSweep = now
	for id, rc := range s.contexts {
		if s.expired(rc, now) {
			delete(s.contexts, id)
		}
	}
}
