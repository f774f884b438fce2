package odds

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kalshi-arb/pkg/types"
)

// Service layers a snapshot cache over the odds client. One snapshot is
// kept per event; a failed refresh demotes the stored snapshot to stale
// instead of dropping it, so monitoring keeps working on old numbers while
// new entries are blocked.
type Service struct {
	client *Client
	logger *slog.Logger

	mu    sync.RWMutex
	snaps map[string]types.ProbSnapshot
}

// NewService creates a snapshot service over client.
func NewService(client *Client, logger *slog.Logger) *Service {
	return &Service{
		client: client,
		snaps:  make(map[string]types.ProbSnapshot),
		logger: logger.With("component", "odds_snapshots"),
	}
}

// Refresh fetches fresh probabilities for one event. On success the
// snapshot is replaced and marked fresh. On failure the prior snapshot is
// returned marked stale; with no prior snapshot the error surfaces.
func (s *Service) Refresh(ctx context.Context, game GameInfo) (types.ProbSnapshot, error) {
	homeProb, awayProb, err := s.client.EventMoneyline(ctx, game)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		prior, ok := s.snaps[game.EventID]
		if !ok {
			return types.ProbSnapshot{}, err
		}
		prior.Fresh = false
		s.snaps[game.EventID] = prior
		s.logger.Warn("odds refresh failed, keeping prior snapshot",
			"event", game.EventID,
			"age", time.Since(prior.OddsTS).Round(time.Second),
			"error", err,
		)
		return prior, nil
	}

	snap := types.ProbSnapshot{
		HomeProb: homeProb,
		AwayProb: awayProb,
		Clock:    game.Clock,
		OddsTS:   time.Now(),
		Fresh:    true,
	}
	s.mu.Lock()
	s.snaps[game.EventID] = snap
	s.mu.Unlock()
	return snap, nil
}

// Get returns the stored snapshot for an event, if any.
func (s *Service) Get(eventID string) (types.ProbSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[eventID]
	return snap, ok
}

// Forget drops an event's snapshot after the game ends.
func (s *Service) Forget(eventID string) {
	s.mu.Lock()
	delete(s.snaps, eventID)
	s.mu.Unlock()
}
