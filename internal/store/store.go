package store

import (
	"log"
	"sync"
	"time"

	"github.com/mostrop2p/mostro-push/internal/model"
)

// TokenStore maps trade pubkeys to registered device tokens.
//
// It is the only mutable state shared between the Nostr listener (reads)
// and the HTTP handlers (writes), so every operation takes the store's own
// lock and callers never coordinate externally.
//
// Registrations live in memory only; clients re-register on app start
// after a server restart.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]model.RegisteredToken
}

// New creates an empty TokenStore.
func New() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]model.RegisteredToken),
	}
}

// Register inserts or replaces the registration for a trade pubkey.
// Last write wins; there is no merge with a previous entry. The caller
// validates the pubkey format before calling.
func (s *TokenStore) Register(tradePubkey, deviceToken string, platform model.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[tradePubkey] = model.RegisteredToken{
		DeviceToken:  deviceToken,
		Platform:     platform,
		RegisteredAt: time.Now(),
	}
	log.Printf("[TokenStore] Registered %s token for %s... (total: %d)",
		platform, shortKey(tradePubkey), len(s.tokens))
}

// Unregister removes the registration if present and reports whether
// anything was removed. Removing an absent pubkey is not an error.
func (s *TokenStore) Unregister(tradePubkey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[tradePubkey]; !ok {
		return false
	}
	delete(s.tokens, tradePubkey)
	log.Printf("[TokenStore] Unregistered token for %s... (total: %d)",
		shortKey(tradePubkey), len(s.tokens))
	return true
}

// Get returns the current registration for a trade pubkey.
func (s *TokenStore) Get(tradePubkey string) (model.RegisteredToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tradePubkey]
	return token, ok
}

// Stats returns aggregate counts from a single consistent snapshot.
func (s *TokenStore) Stats() model.TokenStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := model.TokenStoreStats{Total: len(s.tokens)}
	for _, token := range s.tokens {
		switch token.Platform {
		case model.PlatformAndroid:
			stats.Android++
		case model.PlatformIOS:
			stats.IOS++
		}
	}
	return stats
}

func shortKey(pubkey string) string {
	if len(pubkey) < 16 {
		return pubkey
	}
	return pubkey[:16]
}
