// Package door abstracts one remote access-control endpoint.  The grant
// service and the reconciliation sweep only ever speak to the Client
// interface; whether the other end is real vendor hardware or the in-memory
// door makes no difference to them.
package door

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// UsageEvent is one entry from a door's usage log: the card was presented
// at this door at this time.  The log is append-only on the door side and
// only queryable within a bounded window.
type UsageEvent struct {
	CardNo     string
	OccurredAt time.Time
}

// Client is the per-door capability.  Every operation is independently
// fallible and must respect the caller's context.
type Client interface {
	// Name identifies the door in logs and error values.
	Name() string

	CreateCard(ctx context.Context, cardNo string) error

	// DeleteCard removes the card from the door's card table.  A card
	// that is already absent is success, not an error.
	DeleteCard(ctx context.Context, cardNo string) error

	ListCards(ctx context.Context) ([]string, error)

	ListUsageEvents(ctx context.Context, since, until time.Time) ([]UsageEvent, error)
}

// Error tags a failed door operation with the door's identity so that
// multi-door fan-outs can report which endpoint misbehaved.
type Error struct {
	Door   string
	Op     string
	Status int // HTTP status when applicable, 0 otherwise
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("door %s: %s: status %d: %v", e.Door, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("door %s: %s: %v", e.Door, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result pairs one door with the outcome of a fanned-out call against it.
type Result[T any] struct {
	Door  Client
	Value T
	Err   error
}

// FanOut runs fn against every door concurrently and waits for all of them.
// Each door's failure is isolated in its own Result; a slow or dead door
// never blocks the others beyond the caller's context.
func FanOut[T any](ctx context.Context, doors []Client, fn func(ctx context.Context, d Client) (T, error)) []Result[T] {
	results := make([]Result[T], len(doors))
	var wg sync.WaitGroup
	for i, d := range doors {
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := fn(ctx, d)
			results[i] = Result[T]{Door: d, Value: v, Err: err}
		}()
	}
	wg.Wait()
	return results
}

// FanOutErr is FanOut for calls that produce no value.
func FanOutErr(ctx context.Context, doors []Client, fn func(ctx context.Context, d Client) error) []Result[struct{}] {
	return FanOut(ctx, doors, func(ctx context.Context, d Client) (struct{}, error) {
		return struct{}{}, fn(ctx, d)
	})
}
