package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	constants "mentalmath/internal/constants"
	game "mentalmath/internal/game"
	util "mentalmath/internal/util"
)

type entry struct {
	session        *game.Session
	lastAccessTime time.Time
}

// Registry holds one game session per browser session id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	factory func(id string) *game.Session
	now     func() time.Time
}

func NewRegistry(ttl time.Duration, factory func(id string) *game.Session) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		factory: factory,
		now:     time.Now,
	}
}

// GetOrCreateSessionID returns the caller's session id, issuing a cookie when missing.
func GetOrCreateSessionID(c *gin.Context, maxAge time.Duration, secure bool) string {
	sessionID, err := c.Cookie(constants.SessionCookieName)
	if err != nil || len(sessionID) < 10 {
		sessionID = uuid.NewString()
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(constants.SessionCookieName, sessionID, int(maxAge.Seconds()), "/", "", secure, true)
		util.LogInfoCtx(c.Request.Context(), "Created new session: %s", sessionID)
	}
	return sessionID
}

func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) *game.Session {
	r.mu.RLock()
	e, exists := r.entries[sessionID]
	r.mu.RUnlock()
	if exists {
		r.mu.Lock()
		e.lastAccessTime = r.now()
		r.mu.Unlock()
		return e.session
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, exists = r.entries[sessionID]; exists {
		e.lastAccessTime = r.now()
		return e.session
	}
	util.LogInfoCtx(ctx, "Creating new game session: %s", sessionID)
	e = &entry{session: r.factory(sessionID), lastAccessTime: r.now()}
	r.entries[sessionID] = e
	return e.session
}

func (r *Registry) Get(sessionID string) (*game.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Remove drops and closes the session, cancelling any pending timer.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if ok {
		e.session.Close()
	}
}

// Touch marks the session as used now. It reports whether the session exists.
func (r *Registry) Touch(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if ok {
		e.lastAccessTime = r.now()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CleanupExpired closes and drops sessions idle for longer than the TTL.
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	cutoff := r.now().Add(-r.ttl)
	expired := lo.PickBy(r.entries, func(_ string, e *entry) bool {
		return e.lastAccessTime.Before(cutoff)
	})
	for sessionID := range expired {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.session.Close()
	}
	if len(expired) > 0 {
		util.LogInfo("Cleaned up %d expired sessions", len(expired))
	}
	return len(expired)
}

// StartCleanup sweeps expired sessions every interval until ctx is done.
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CleanupExpired()
			}
		}
	}()
	util.LogInfo("Started session cleanup goroutine")
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := lo.MapToSlice(r.entries, func(_ string, e *entry) *game.Session { return e.session })
	clear(r.entries)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
