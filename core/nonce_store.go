package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultNonceTTL = 15 * time.Minute

	correlationTokenBytes = 16
)

var (
	// ErrNonceNotFound covers absent, already consumed, and expired tokens.
	// All three reject the callback the same way.
	ErrNonceNotFound = errors.New("core: correlation token not found")
	ErrNonceExpired  = errors.New("core: correlation token expired")
)

// GenerateCorrelationToken returns a hex-encoded 128-bit random token used as
// both the nonce store key and the state value round-tripped through the
// marketplace authorize redirect.
func GenerateCorrelationToken() (string, error) {
	raw := make([]byte, correlationTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate correlation token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

type nonceEntry struct {
	install   InstallContext
	createdAt time.Time
	expiresAt time.Time
}

// MemoryNonceStore is a mutex-guarded in-process nonce store with TTL expiry
// and an optional entry cap. Suitable for the short-lived handshake window;
// entries do not survive process restarts.
type MemoryNonceStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]nonceEntry
}

func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	return NewMemoryNonceStoreWithLimits(ttl, 0)
}

// NewMemoryNonceStoreWithLimits caps the store at maxEntries; when full, Put
// evicts the oldest pending entry. maxEntries <= 0 means unbounded.
func NewMemoryNonceStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryNonceStore {
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &MemoryNonceStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]nonceEntry{},
	}
}

func (s *MemoryNonceStore) Put(_ context.Context, token string, install InstallContext) error {
	if s == nil {
		return fmt.Errorf("core: nonce store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("core: correlation token is required")
	}

	now := time.Now().UTC()
	if install.CreatedAt.IsZero() {
		install.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	if _, exists := s.entries[token]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[token] = nonceEntry{
		install:   install,
		createdAt: now,
		expiresAt: now.Add(s.ttl),
	}
	return nil
}

func (s *MemoryNonceStore) Take(_ context.Context, token string) (InstallContext, error) {
	if s == nil {
		return InstallContext{}, fmt.Errorf("core: nonce store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return InstallContext{}, ErrNonceNotFound
	}

	s.mu.Lock()
	entry, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	s.mu.Unlock()

	if !ok {
		return InstallContext{}, ErrNonceNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().UTC().After(entry.expiresAt) {
		return InstallContext{}, ErrNonceExpired
	}
	return entry.install, nil
}

// Sweep removes expired entries and reports how many were dropped.
func (s *MemoryNonceStore) Sweep(_ context.Context, now time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: nonce store is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now), nil
}

// Len reports the number of pending entries, expired ones included.
func (s *MemoryNonceStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryNonceStore) pruneLocked(now time.Time) int {
	removed := 0
	for token, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

func (s *MemoryNonceStore) evictOldestLocked() {
	oldestToken := ""
	var oldestAt time.Time
	for token, entry := range s.entries {
		if oldestToken == "" || entry.createdAt.Before(oldestAt) {
			oldestToken = token
			oldestAt = entry.createdAt
		}
	}
	if oldestToken != "" {
		delete(s.entries, oldestToken)
	}
}

var (
	_ NonceStore   = (*MemoryNonceStore)(nil)
	_ NonceSweeper = (*MemoryNonceStore)(nil)
)
