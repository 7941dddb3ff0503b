package proxybind

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"liuweiq/snsworker/services/cache"
)

// Mode selects how egress identities map onto crawl requests.
type Mode string

const (
	// ModeOff disables proxying entirely.
	ModeOff Mode = "off"
	// ModeGlobal shares one binding across every user.
	ModeGlobal Mode = "global"
	// ModeStickyUser keeps a separate binding per user, the default.
	ModeStickyUser Mode = "sticky-user"
)

// Binding is one egress identity for a (platform, scope) pair. The
// session key feeds the proxy source; the binding id exists purely for
// attribution in logs and diagnostics.
type Binding struct {
	Platform     string    `json:"platform"`
	UserID       string    `json:"user_id"`
	BindingID    string    `json:"binding_id"`
	SessionKey   string    `json:"session_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	FailureCount int       `json:"failure_count"`
}

// Manager assigns and rotates bindings, persisting them through the
// shared cache so restarts and sibling workers agree on the active
// identity. Rotation decisions happen only inside Acquire; result
// reports just mutate the failure counter.
type Manager struct {
	mode      Mode
	ttl       time.Duration
	threshold int
	store     cache.CacheService
	source    Source
	mu        sync.Mutex
	now       func() time.Time
}

// NewManager creates a binding manager. rotateThreshold is the number
// of consecutive failures after which the next Acquire mints a fresh
// binding.
func NewManager(mode Mode, ttl time.Duration, rotateThreshold int, store cache.CacheService, source Source) *Manager {
	if rotateThreshold <= 0 {
		rotateThreshold = 3
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{
		mode:      mode,
		ttl:       ttl,
		threshold: rotateThreshold,
		store:     store,
		source:    source,
		now:       time.Now,
	}
}

// Mode returns the configured binding mode.
func (m *Manager) Mode() Mode {
	return m.mode
}

func (m *Manager) scopeKey(userID string) string {
	if m.mode == ModeGlobal || userID == "" {
		return "global"
	}
	return userID
}

func (m *Manager) cacheKey(platform, userID string) string {
	return "proxy:binding:" + platform + ":" + m.scopeKey(userID)
}

// Acquire returns the active binding for platform/userID, minting a
// fresh one when the stored binding is absent, expired or has used up
// its failure allowance. The second return reports whether rotation
// happened. In ModeOff both returns are zero.
func (m *Manager) Acquire(platform, userID string) (*Binding, bool, error) {
	if m.mode == ModeOff {
		return nil, false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := m.cacheKey(platform, userID)

	existing, err := m.load(key)
	if err != nil && !cache.Miss(err) {
		// A broken store must not block crawling; fall through to a
		// fresh binding and let the save attempt surface the problem.
		existing = nil
	}
	if existing != nil && now.Before(existing.ExpiresAt) && existing.FailureCount < m.threshold {
		existing.UpdatedAt = now
		if err := m.save(key, existing); err != nil {
			return existing, false, err
		}
		return existing, false, nil
	}

	minted := &Binding{
		Platform:   platform,
		UserID:     m.scopeKey(userID),
		BindingID:  "pb-" + randomHex(12),
		SessionKey: randomKey(10),
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	rotated := existing != nil
	if err := m.save(key, minted); err != nil {
		return minted, rotated, err
	}
	return minted, rotated, nil
}

// ReportResult records the outcome of a crawl that used the binding.
// Success clears the failure counter, failure increments it. Rotation
// never happens here.
func (m *Manager) ReportResult(platform, userID string, success bool) error {
	if m.mode == ModeOff {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.cacheKey(platform, userID)
	b, err := m.load(key)
	if err != nil {
		if cache.Miss(err) {
			return nil
		}
		return err
	}
	if success {
		b.FailureCount = 0
	} else {
		b.FailureCount++
	}
	b.UpdatedAt = m.now()
	return m.save(key, b)
}

// Endpoint resolves the concrete proxy endpoint for a binding. A nil
// binding (ModeOff) yields a nil endpoint.
func (m *Manager) Endpoint(b *Binding) (*Endpoint, error) {
	if b == nil || m.source == nil {
		return nil, nil
	}
	ep, err := m.source.Endpoint(*b)
	if err != nil {
		return nil, fmt.Errorf("resolve proxy endpoint: %w", err)
	}
	return &ep, nil
}

func (m *Manager) load(key string) (*Binding, error) {
	data, err := m.store.Get(key)
	if err != nil {
		return nil, err
	}
	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		// Corrupt entries are treated as absent so they rotate away.
		return nil, cache.ErrCacheMiss
	}
	return &b, nil
}

func (m *Manager) save(key string, b *Binding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	ttl := time.Until(b.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return m.store.Set(key, data, ttl)
}

const (
	hexDigits = "0123456789abcdef"
	keyDigits = "abcdefghijklmnopqrstuvwxyz0123456789"
)

func randomHex(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = hexDigits[rand.Intn(len(hexDigits))]
	}
	return string(b)
}

func randomKey(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = keyDigits[rand.Intn(len(keyDigits))]
	}
	return string(b)
}
