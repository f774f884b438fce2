package api

import (
	"kalshi-arb/internal/config"
	"kalshi-arb/internal/engine"
)

// StatusProvider is the engine surface the dashboard reads. Everything is
// snapshot-based; the dashboard never mutates trading state.
type StatusProvider interface {
	Status() engine.Status
}

// BuildSnapshot assembles the dashboard state from one engine status.
func BuildSnapshot(provider StatusProvider, cfg config.Config) DashboardSnapshot {
	st := provider.Status()

	positions := make([]PositionStatus, 0, len(st.Positions))
	for _, p := range st.Positions {
		positions = append(positions, positionStatus(p))
	}

	return DashboardSnapshot{
		Timestamp:  st.Timestamp,
		LiveOrders: st.LiveOrders,
		Capital:    st.Capital,
		Exposure:   st.Exposure,
		Positions:  positions,
		Games:      st.TrackedGames,
		Counters:   st.Counters,
		Config:     NewConfigSummary(cfg),
	}
}
