package app

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
	config "mentalmath/internal/config"
	game "mentalmath/internal/game"
	metrics "mentalmath/internal/metrics"
	problem "mentalmath/internal/problem"
	session "mentalmath/internal/session"
	util "mentalmath/internal/util"
)

type RateLimiterWithTime struct {
	Limiter    *rate.Limiter
	LastAccess time.Time
}

type App struct {
	Config       *config.Config
	Sessions     *session.Registry
	Metrics      *metrics.Metrics
	LimiterMap   map[string]*RateLimiterWithTime
	LimiterMutex sync.RWMutex
	StartTime    time.Time
}

// New wires the session registry. clock and src may be nil for the real
// clock and crypto/rand.
func New(cfg *config.Config, clock game.Clock, src problem.Source) *App {
	m := metrics.New()
	generator := problem.NewGenerator(src)

	a := &App{
		Config:     cfg,
		Metrics:    m,
		LimiterMap: make(map[string]*RateLimiterWithTime),
		StartTime:  time.Now(),
	}
	a.Sessions = session.NewRegistry(cfg.SessionTTL, func(id string) *game.Session {
		return game.NewSession(game.Options{
			ID:            id,
			Clock:         clock,
			Rounds:        generator,
			Recorder:      m,
			ResultDisplay: cfg.ResultDisplay,
		})
	})

	m.TrackGauge("active_sessions", "Game sessions held in memory.", func() float64 {
		return float64(a.Sessions.Len())
	})
	m.TrackGauge("active_rate_limiters", "Per-client rate limiters held in memory.", func() float64 {
		return float64(a.LimiterCount())
	})
	return a
}

func (a *App) IsProduction() bool {
	return a.Config.IsProduction()
}

func (a *App) LimiterCount() int {
	a.LimiterMutex.RLock()
	defer a.LimiterMutex.RUnlock()
	return len(a.LimiterMap)
}

func (a *App) GetLimiter(key string) *rate.Limiter {
	a.LimiterMutex.RLock()
	limWithTime, ok := a.LimiterMap[key]
	a.LimiterMutex.RUnlock()
	if ok {
		a.LimiterMutex.Lock()
		limWithTime.LastAccess = time.Now()
		a.LimiterMutex.Unlock()
		return limWithTime.Limiter
	}

	a.LimiterMutex.Lock()
	defer a.LimiterMutex.Unlock()
	if limWithTime, ok = a.LimiterMap[key]; ok {
		limWithTime.LastAccess = time.Now()
		return limWithTime.Limiter
	}

	if key == "" || key == "::1" {
		util.LogWarn("Rate limiter key is empty or loopback: %q", key)
	}
	rps := a.Config.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	lim := rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), a.Config.RateLimitBurst)
	a.LimiterMap[key] = &RateLimiterWithTime{
		Limiter:    lim,
		LastAccess: time.Now(),
	}
	return lim
}

// CleanupStaleRateLimiters drops limiters unused for RateLimiterTTL and, when
// the map grows past 50000 entries, the older half of what is left.
func (a *App) CleanupStaleRateLimiters() int {
	a.LimiterMutex.Lock()
	defer a.LimiterMutex.Unlock()

	cutoffTime := time.Now().Add(-a.Config.RateLimiterTTL)
	removedCount := 0

	for key, limWithTime := range a.LimiterMap {
		if limWithTime.LastAccess.Before(cutoffTime) {
			delete(a.LimiterMap, key)
			removedCount++
		}
	}

	if len(a.LimiterMap) > 50000 {
		util.LogInfo("Rate limiter map too large (%d entries), performing emergency cleanup", len(a.LimiterMap))

		type limiterInfo struct {
			key        string
			lastAccess time.Time
		}
		limiters := make([]limiterInfo, 0, len(a.LimiterMap))
		for key, limWithTime := range a.LimiterMap {
			limiters = append(limiters, limiterInfo{key: key, lastAccess: limWithTime.LastAccess})
		}
		sort.Slice(limiters, func(i, j int) bool {
			return limiters[i].lastAccess.Before(limiters[j].lastAccess)
		})
		for _, l := range limiters[:len(limiters)/2] {
			delete(a.LimiterMap, l.key)
			removedCount++
		}
	}

	if removedCount > 0 {
		util.LogInfo("Cleaned up %d stale rate limiters", removedCount)
	}
	return removedCount
}
