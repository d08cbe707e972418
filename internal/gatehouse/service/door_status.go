package service

import (
	"context"
	"time"

	"github.com/gatehouse/server/internal/door"
	"github.com/gatehouse/server/internal/gatehouse/types"
)

// DoorStatusService answers read-only questions about the doors.  It never
// touches the ledger, and a door error degrades into a per-door error entry
// rather than failing the whole query.
type DoorStatusService struct {
	doors []door.Client
}

func NewDoorStatusService(doors []door.Client) *DoorStatusService {
	return &DoorStatusService{doors: doors}
}

// Stats returns, per door, the number of cards currently on it or an error
// indicator.
func (s *DoorStatusService) Stats(ctx context.Context) []types.DoorStat {
	results := door.FanOut(ctx, s.doors, func(ctx context.Context, d door.Client) ([]string, error) {
		return d.ListCards(ctx)
	})

	stats := make([]types.DoorStat, len(results))
	for i, r := range results {
		stat := types.DoorStat{Door: r.Door.Name()}
		if r.Err != nil {
			stat.Error = r.Err.Error()
		} else {
			n := len(r.Value)
			stat.ActiveCards = &n
		}
		stats[i] = stat
	}
	return stats
}

// UsageLog merges the doors' usage logs over the lookback window.  Doors
// that fail to answer appear in the Errors list instead.
func (s *DoorStatusService) UsageLog(ctx context.Context, lookback time.Duration) types.UsageLogResponse {
	now := time.Now().UTC()
	since := now.Add(-lookback)

	results := door.FanOut(ctx, s.doors, func(ctx context.Context, d door.Client) ([]door.UsageEvent, error) {
		return d.ListUsageEvents(ctx, since, now)
	})

	resp := types.UsageLogResponse{
		Errors:  []types.UsageLogError{},
		Entries: []types.UsageLogEntry{},
	}
	for _, r := range results {
		if r.Err != nil {
			resp.Errors = append(resp.Errors, types.UsageLogError{
				Door:  r.Door.Name(),
				Error: r.Err.Error(),
			})
			continue
		}
		for _, e := range r.Value {
			resp.Entries = append(resp.Entries, types.UsageLogEntry{
				Door:      r.Door.Name(),
				AccessKey: e.CardNo,
				UsedAt:    e.OccurredAt.UTC().Format(time.RFC3339),
			})
		}
	}
	return resp
}
