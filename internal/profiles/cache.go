package profiles

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "members_profile_cache_hits_total",
		Help: "Profile lookups served from the role cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "members_profile_cache_misses_total",
		Help: "Profile lookups that reached the database.",
	})
)

type profileCache struct {
	entries *expirable.LRU[string, Profile]
}

func newProfileCache(size int, ttl time.Duration) *profileCache {
	return &profileCache{entries: expirable.NewLRU[string, Profile](size, nil, ttl)}
}

func (c *profileCache) get(userID string) (Profile, bool) {
	profile, ok := c.entries.Get(userID)
	if ok {
		cacheHitsTotal.Inc()
		return profile, true
	}
	cacheMissesTotal.Inc()
	return Profile{}, false
}

func (c *profileCache) set(profile Profile) {
	c.entries.Add(profile.UserID, profile)
}

func (c *profileCache) remove(userID string) {
	c.entries.Remove(userID)
}
