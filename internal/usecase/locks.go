package usecase

import (
	"context"
	"sync"
)

type slot struct {
	ch   chan struct{}
	refs int
}

// keyedLock serializes work per key. Waiters give up when their context ends.
// A key's slot lives only while someone holds or waits for it.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func newKeyedLock() *keyedLock {
	return &keyedLock{
		slots: make(map[string]*slot),
	}
}

func (that *keyedLock) Lock(ctx context.Context, key string) (func(), error) {
	that.mu.Lock()
	s, ok := that.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		that.slots[key] = s
	}
	s.refs++
	that.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			that.release(key, s)
		}, nil
	case <-ctx.Done():
		that.release(key, s)
		return nil, ctx.Err()
	}
}

func (that *keyedLock) release(key string, s *slot) {
	that.mu.Lock()
	defer that.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(that.slots, key)
	}
}

// inFlight tracks keys with an operation underway. A second acquire of a busy
// key fails instead of waiting.
type inFlight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInFlight() *inFlight {
	return &inFlight{
		keys: make(map[string]struct{}),
	}
}

func (that *inFlight) acquire(key string) (func(), bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, busy := that.keys[key]; busy {
		return nil, false
	}

	that.keys[key] = struct{}{}

	return func() {
		that.mu.Lock()
		delete(that.keys, key)
		that.mu.Unlock()
	}, true
}
