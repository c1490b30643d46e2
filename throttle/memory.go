package throttle

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	expires time.Time
}

// Memory is an in-process fixed window limiter.
type Memory struct {
	mu      sync.Mutex
	max     int
	period  time.Duration
	windows map[string]*window
	NowFunc func() time.Time
}

func NewMemory(maxAttempts int, period time.Duration) *Memory {
	return &Memory{
		max:     maxAttempts,
		period:  period,
		windows: make(map[string]*window),
		NowFunc: time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.NowFunc()
	m.sweep(now)

	w, ok := m.windows[key]
	if !ok {
		w = &window{expires: now.Add(m.period)}
		m.windows[key] = w
	}
	w.count++
	return w.count <= m.max, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
	return nil
}

// sweep drops expired windows; caller holds the lock.
func (m *Memory) sweep(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.expires) {
			delete(m.windows, k)
		}
	}
}
