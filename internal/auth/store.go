// Package auth owns the OAuth token pair shared by the EventSub connection
// and the Helix API client, and the refresh-token grant that renews it.
package auth

import "sync"

// TokenPair is the access/refresh token pair issued by the identity provider.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Store holds the one authoritative TokenPair. Writes replace both tokens
// atomically; handlers registered with OnRefresh run after every Write,
// outside the lock.
type Store struct {
	mu     sync.RWMutex
	tokens TokenPair

	handlersMu sync.Mutex
	nextID     int
	handlers   map[int]func(TokenPair)
}

func NewStore(initial TokenPair) *Store {
	return &Store{tokens: initial, handlers: map[int]func(TokenPair){}}
}

func (s *Store) Read() TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *Store) Write(tokens TokenPair) {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()

	s.handlersMu.Lock()
	callbacks := make([]func(TokenPair), 0, len(s.handlers))
	for _, fn := range s.handlers {
		callbacks = append(callbacks, fn)
	}
	s.handlersMu.Unlock()

	for _, fn := range callbacks {
		fn(tokens)
	}
}

// Replace swaps the pair without running OnRefresh handlers. It is for
// tokens loaded from outside, which were not refreshed by this process.
func (s *Store) Replace(tokens TokenPair) {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
}

// OnRefresh registers fn to receive every pair written to the store and
// returns a function that removes it.
func (s *Store) OnRefresh(fn func(TokenPair)) func() {
	if fn == nil {
		panic("auth.Store.OnRefresh: callback must not be nil")
	}
	s.handlersMu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	s.handlersMu.Unlock()
	return func() {
		s.handlersMu.Lock()
		delete(s.handlers, id)
		s.handlersMu.Unlock()
	}
}
