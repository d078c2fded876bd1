package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter keeps sightings in process memory. Entries older than the
// window are dropped lazily.
type MemoryCounter struct {
	mu           sync.RWMutex
	fingerprints map[string]*fingerprintData
	window       time.Duration
	now          func() time.Time
}

type fingerprintData struct {
	FirstSeen time.Time
	Count     int64
	IPs       map[string]bool
}

func NewMemoryCounter(window time.Duration) *MemoryCounter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryCounter{
		fingerprints: make(map[string]*fingerprintData),
		window:       window,
		now:          time.Now,
	}
}

func (m *MemoryCounter) Record(_ context.Context, campaignID, fingerprint, ip string) (Sighting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := campaignID + ":" + fingerprint

	data, ok := m.fingerprints[key]
	if !ok || now.Sub(data.FirstSeen) > m.window {
		data = &fingerprintData{FirstSeen: now, IPs: make(map[string]bool)}
		m.fingerprints[key] = data
	}

	data.Count++
	if ip != "" {
		data.IPs[ip] = true
	}
	return Sighting{Count: data.Count, DistinctIPs: int64(len(data.IPs))}, nil
}

// Prune removes expired entries and returns how many were dropped.
func (m *MemoryCounter) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	dropped := 0
	for k, d := range m.fingerprints {
		if now.Sub(d.FirstSeen) > m.window {
			delete(m.fingerprints, k)
			dropped++
		}
	}
	return dropped
}

// Len is the number of tracked fingerprints.
func (m *MemoryCounter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fingerprints)
}
