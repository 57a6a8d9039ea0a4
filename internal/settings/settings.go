// Package settings holds the tunables of the DHT value layer.
package settings

import (
	"math"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/logger"
)

const day = 24 * time.Hour

type DHT struct {
	PublishAltLocs             bool
	LocationPublisherFrequency time.Duration // how often the alt-loc publisher wakes
	PublishLocationEvery       time.Duration // republish interval per value

	PublishPushProxies      bool
	ProxyPublisherFrequency time.Duration
	StableProxiesTime       time.Duration // proxies must be unchanged this long before publishing
	PublishProxiesTime      time.Duration // republish a stable set after this long
	ProxyChangeThreshold    int

	PushEndpointPurgeFrequency time.Duration
	PushEndpointCacheTime      time.Duration

	EnableAltLocQueries      bool
	EnablePushProxyQueries   bool
	MaxAltLocQueryAttempts   int
	TimeBetweenAltLocQueries time.Duration

	MaxParallelStores int
	StoresPerSecond   float64
	ValueExpiration   time.Duration
}

func Defaults() DHT {
	return DHT{
		PublishAltLocs:             true,
		LocationPublisherFrequency: 10 * time.Minute,
		PublishLocationEvery:       30 * time.Minute,

		PublishPushProxies:      true,
		ProxyPublisherFrequency: 2 * time.Minute,
		StableProxiesTime:       2 * time.Minute,
		PublishProxiesTime:      30 * time.Minute,
		ProxyChangeThreshold:    2,

		PushEndpointPurgeFrequency: 2 * time.Minute,
		PushEndpointCacheTime:      5 * time.Minute,

		EnableAltLocQueries:      true,
		EnablePushProxyQueries:   true,
		MaxAltLocQueryAttempts:   1,
		TimeBetweenAltLocQueries: 30 * time.Minute,

		MaxParallelStores: 4,
		StoresPerSecond:   10,
		ValueExpiration:   60 * time.Minute,
	}
}

func clampDuration(name string, v *time.Duration, lo, hi time.Duration) {
	c := min(max(*v, lo), hi)
	if c != *v {
		logger.Log("setting_clamped", map[string]any{"name": name, "from": v.String(), "to": c.String()})
		*v = c
	}
}

func clampInt(name string, v *int, lo, hi int) {
	c := min(max(*v, lo), hi)
	if c != *v {
		logger.Log("setting_clamped", map[string]any{"name": name, "from": *v, "to": c})
		*v = c
	}
}

// Validate clamps every value into its allowed range and returns the result.
func (s DHT) Validate() DHT {
	const forever = time.Duration(math.MaxInt64)

	clampDuration("LocationPublisherFrequency", &s.LocationPublisherFrequency, 3*time.Minute, day)
	clampDuration("PublishLocationEvery", &s.PublishLocationEvery, 3*time.Minute, day)
	clampDuration("ProxyPublisherFrequency", &s.ProxyPublisherFrequency, 30*time.Second, day)
	clampDuration("StableProxiesTime", &s.StableProxiesTime, time.Minute, forever)
	clampDuration("PublishProxiesTime", &s.PublishProxiesTime, 10*time.Second, forever)
	clampInt("ProxyChangeThreshold", &s.ProxyChangeThreshold, 1, 32)
	clampDuration("PushEndpointPurgeFrequency", &s.PushEndpointPurgeFrequency, 30*time.Second, day)
	clampDuration("PushEndpointCacheTime", &s.PushEndpointCacheTime, 10*time.Second, forever)
	clampInt("MaxAltLocQueryAttempts", &s.MaxAltLocQueryAttempts, 1, math.MaxInt32)
	clampDuration("TimeBetweenAltLocQueries", &s.TimeBetweenAltLocQueries, 30*time.Second, day)
	clampInt("MaxParallelStores", &s.MaxParallelStores, 1, 64)
	clampDuration("ValueExpiration", &s.ValueExpiration, time.Minute, day)
	if s.StoresPerSecond <= 0 {
		s.StoresPerSecond = Defaults().StoresPerSecond
	}
	return s
}
