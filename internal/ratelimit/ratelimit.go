package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket for one connection.
type Limiter struct {
	bucket *rate.Limiter
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

func (l *Limiter) AllowN(n int) bool {
	return l.bucket.AllowN(time.Now(), n)
}

type clientEntry struct {
	limiter  *Limiter
	lastSeen time.Time
}

// ClientLimiters keeps one limiter per client key, usually the remote IP.
// Keys idle for longer than the cleanup interval are dropped.
type ClientLimiters struct {
	limiters        map[string]*clientEntry
	rate            float64
	burst           int
	mu              sync.Mutex
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewClientLimiters(perSecond float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*clientEntry),
		rate:            perSecond,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(clientID string) *Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if e, ok := cl.limiters[clientID]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	e := &clientEntry{limiter: NewLimiter(cl.rate, cl.burst), lastSeen: time.Now()}
	cl.limiters[clientID] = e
	return e.limiter
}

// Allow takes one token from the client's bucket.
func (cl *ClientLimiters) Allow(clientID string) bool {
	return cl.Get(clientID).Allow()
}

func (cl *ClientLimiters) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, clientID)
}

func (cl *ClientLimiters) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.evictIdle(time.Now().Add(-cl.cleanupInterval))
		}
	}
}

func (cl *ClientLimiters) evictIdle(cutoff time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for id, e := range cl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(cl.limiters, id)
		}
	}
}

// RealIP extracts the client IP from proxy headers or the connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
