package cache

import (
	"log/slog"
	"time"

	"fintrack/internal/log"
)

// Cleaner is a cache that can evict its expired entries. The server's
// read-side caches (overview, budget progress) implement it.
type Cleaner interface {
	CleanExpired() int
}

// Manager runs periodic expiry over the registered caches so entries
// for idle owners do not outlive their TTL.
type Manager struct {
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

func NewManager() *Manager {
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the cleanup cycle. Not safe to call after
// StartCleanup.
func (m *Manager) Register(cache Cleaner) {
	m.caches = append(m.caches, cache)
}

// StartCleanup begins periodic cleanup of all registered caches.
func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			evicted := 0
			for _, cache := range m.caches {
				evicted += cache.CleanExpired()
			}
			if evicted > 0 {
				slog.Debug("Evicted expired cache entries",
					log.FieldComponent, log.ComponentCache,
					"entries", evicted)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup routine and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCleanup)
	<-m.cleanupDone
}
