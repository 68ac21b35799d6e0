package session

import (
	"context"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// listenToHistory turns on history event delivery and returns the
// entries currently visible to the session's tier.
func (s *Session) listenToHistory(ctx context.Context, _ []byte) (any, error) {
	mapID, tier, err := s.requireTier(mapdata.TierWrite)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.SetHistoryListening(true)
	}

	entries, err := s.deps.History.Entries(ctx, mapID, tier)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Session) stopListeningToHistory(_ context.Context, _ []byte) (any, error) {
	if _, _, err := s.attached(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.SetHistoryListening(false)
	}
	return nil, nil
}

// revertHistoryEntry undoes one recorded mutation. Per-entry tier
// rules are enforced by the history log: marker and line entries need
// Write, everything else Admin.
func (s *Session) revertHistoryEntry(ctx context.Context, payload []byte) (any, error) {
	mapID, tier, err := s.requireTier(mapdata.TierWrite)
	if err != nil {
		return nil, err
	}
	var params idParams
	if err := decodePayload(payload, &params); err != nil {
		return nil, err
	}
	return nil, s.deps.History.Revert(ctx, mapID, params.ID, tier)
}
