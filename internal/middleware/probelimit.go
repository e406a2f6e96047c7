package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/audit"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/httputil"
)

const (
	probeMaxMisses     = 10
	probeWindow        = time.Minute
	probeCleanupPeriod = 5 * time.Minute
)

type probeWindowState struct {
	misses      int
	windowStart time.Time
}

// ProbeLimiter blocks a client IP after too many lookups of unknown pairing
// codes. With only a thousand codes, misses are the signal of enumeration.
type ProbeLimiter struct {
	mu          sync.Mutex
	clients     map[string]*probeWindowState
	maxMisses   int
	lastCleanup time.Time
	now         func() time.Time
}

func NewProbeLimiter(maxMisses int) *ProbeLimiter {
	if maxMisses <= 0 {
		maxMisses = probeMaxMisses
	}
	return &ProbeLimiter{
		clients:     make(map[string]*probeWindowState),
		maxMisses:   maxMisses,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *ProbeLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < probeCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, state := range l.clients {
		if now.Sub(state.windowStart) > probeWindow {
			delete(l.clients, ip)
		}
	}
}

// blocked reports whether ip is over its miss budget and, if so, when the
// window ends.
func (l *ProbeLimiter) blocked(ip string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	state, ok := l.clients[ip]
	if !ok || now.Sub(state.windowStart) > probeWindow {
		return false, time.Time{}
	}
	return state.misses >= l.maxMisses, state.windowStart.Add(probeWindow)
}

func (l *ProbeLimiter) recordMiss(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.clients[ip]
	if !ok || now.Sub(state.windowStart) > probeWindow {
		l.clients[ip] = &probeWindowState{misses: 1, windowStart: now}
		return
	}
	state.misses++
}

func (l *ProbeLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		if blocked, until := l.blocked(ip); blocked {
			retryAfter := int(until.Sub(l.now()).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			log.Warn().Str("ip", ip).Msg("pairing code probing blocked")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if ww.Status() == http.StatusNotFound {
			l.recordMiss(ip)
		}
	})
}
