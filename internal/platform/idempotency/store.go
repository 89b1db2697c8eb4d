// Package idempotency protects the mutating order endpoints against
// duplicate submissions. The first request carrying an Idempotency-Key
// records its response; retries with the same key replay that response
// instead of creating a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// DefaultRetention is how long stored responses survive before a key can
// be reused.
const DefaultRetention = 24 * time.Hour

// ErrKeyReused signals that a key arrived with a different request than
// the one it was first seen with.
var ErrKeyReused = errors.New("idempotency: key reused with a different request")

// Outcome tells the middleware what to do with the current request.
type Outcome int

const (
	// OutcomeProceed lets the request through; it is the first with this key.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means a stored response exists and must be returned.
	OutcomeReplay
	// OutcomeInFlight means an earlier request with this key has not
	// finished yet.
	OutcomeInFlight
)

// Entry is the stored outcome of a completed request.
type Entry struct {
	RequestHash string
	Completed   bool
	StatusCode  int
	Header      map[string][]string
	Body        []byte
	FirstSeen   time.Time
	StaleAfter  time.Time
}

// Store tracks keys through their in-flight and stored phases.
type Store interface {
	// Begin claims the key for the request identified by requestHash.
	Begin(ctx context.Context, key, requestHash string, now time.Time, retention time.Duration) (Outcome, Entry, error)
	// Complete stores the response so retries can replay it.
	Complete(ctx context.Context, key, requestHash string, entry Entry) error
	// Forget drops the claim so the client may retry after a failure.
	Forget(ctx context.Context, key string) error
	// CleanupExpired removes entries past their retention, up to limit.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func hashOf(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryStore keeps entries in process memory, for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Begin(_ context.Context, key, requestHash string, now time.Time, retention time.Duration) (Outcome, Entry, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && !entry.StaleAfter.IsZero() && !now.Before(entry.StaleAfter) {
		ok = false
	}
	if !ok {
		entry = Entry{
			RequestHash: requestHash,
			FirstSeen:   now,
			StaleAfter:  now.Add(retention),
		}
		s.entries[key] = entry
		return OutcomeProceed, entry, nil
	}
	if entry.RequestHash != requestHash {
		return 0, Entry{}, ErrKeyReused
	}
	if entry.Completed {
		return OutcomeReplay, entry, nil
	}
	return OutcomeInFlight, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, requestHash string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.RequestHash != requestHash {
		return ErrKeyReused
	}
	entry.RequestHash = requestHash
	entry.Completed = true
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.StaleAfter.IsZero() || now.Before(entry.StaleAfter) {
			continue
		}
		delete(s.entries, key)
		removed++
	}
	return removed, nil
}
