package distribution

import (
	"context"
	"math"

	"syndicate/internal/platform"
	"syndicate/internal/storage"
)

// Stats counts records by status. SuccessRate is the percentage of finished
// attempts (published, failed, rate limited) that published.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{ByStatus: make(map[Status]int, len(storage.AllStatuses))}
	for _, st := range storage.AllStatuses {
		out.ByStatus[st] = counts[st]
		out.Total += counts[st]
	}
	out.Published = counts[StatusPublished]
	out.Failed = counts[StatusFailed]
	finished := out.Published + out.Failed + counts[StatusRateLimited]
	if finished > 0 {
		out.SuccessRate = math.Round(float64(out.Published)/float64(finished)*10000) / 100
	}
	return out, nil
}

const (
	healthOK          = "healthy"
	healthDegraded    = "degraded"
	healthUnhealthy   = "unhealthy"
	platformOpen      = "circuit_open"
	platformLimited   = "rate_limited"
	platformNoConnect = "no_connector"
)

// HealthCheck reports store reachability and each platform's guard state.
func (s *Service) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:    healthOK,
		Store:     "ok",
		Enabled:   s.Settings().DistributionEnabled,
		Platforms: map[platform.Platform]PlatformHealth{},
	}
	if err := s.store.Ping(ctx); err != nil {
		h.Store = err.Error()
		h.Status = healthUnhealthy
	}

	for p, st := range s.guards.Snapshot() {
		ph := PlatformHealth{
			Status:        healthOK,
			CircuitOpen:   st.CircuitOpen,
			RateLimited:   st.RateLimited,
			CooldownUntil: st.CooldownUntil,
			Failures:      st.Failures,
			Connector:     s.connectors.Has(p),
		}
		switch {
		case !ph.Connector:
			ph.Status = platformNoConnect
		case ph.CircuitOpen:
			ph.Status = platformOpen
		case ph.RateLimited:
			ph.Status = platformLimited
		}
		if ph.Status != healthOK && h.Status == healthOK {
			h.Status = healthDegraded
		}
		h.Platforms[p] = ph
	}
	return h
}
