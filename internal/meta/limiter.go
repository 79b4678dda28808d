package meta

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterStore hands out one token bucket per access token identity so
// that one tenant of the HTTP transport cannot starve another.
type limiterStore struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	ttl     time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(limit rate.Limit, burst int, ttl time.Duration) *limiterStore {
	return &limiterStore{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}

	for k, v := range s.clients {
		if now.Sub(v.lastSeen) > s.ttl {
			delete(s.clients, k)
		}
	}

	return limiter
}

func (s *limiterStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
