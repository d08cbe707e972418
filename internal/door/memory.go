package door

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryDoor is an in-memory door: a card table and a bounded usage log
// behind the same Client interface the vendor client implements.  Tests
// and the simulator binary use it in place of real hardware.
type MemoryDoor struct {
	name string

	mu    sync.Mutex
	cards map[string]struct{}
	log   []UsageEvent

	// Fault injection.  A non-nil error makes the corresponding
	// operation fail until cleared.
	failCreate error
	failDelete error
	failList   error
	failEvents error
}

const memoryLogCap = 1000

func NewMemoryDoor(name string) *MemoryDoor {
	return &MemoryDoor{
		name:  name,
		cards: make(map[string]struct{}),
	}
}

func (d *MemoryDoor) Name() string { return d.name }

func (d *MemoryDoor) CreateCard(_ context.Context, cardNo string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failCreate != nil {
		return &Error{Door: d.name, Op: "CreateCard", Err: d.failCreate}
	}
	if _, exists := d.cards[cardNo]; exists {
		return &Error{Door: d.name, Op: "CreateCard", Status: 409, Err: errors.New("card already exists")}
	}
	d.cards[cardNo] = struct{}{}
	return nil
}

func (d *MemoryDoor) DeleteCard(_ context.Context, cardNo string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failDelete != nil {
		return &Error{Door: d.name, Op: "DeleteCard", Err: d.failDelete}
	}
	// Absent is success, mirroring the vendor behavior.
	delete(d.cards, cardNo)
	return nil
}

func (d *MemoryDoor) ListCards(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failList != nil {
		return nil, &Error{Door: d.name, Op: "ListCards", Err: d.failList}
	}
	out := make([]string, 0, len(d.cards))
	for c := range d.cards {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (d *MemoryDoor) ListUsageEvents(_ context.Context, since, until time.Time) ([]UsageEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failEvents != nil {
		return nil, &Error{Door: d.name, Op: "ListUsageEvents", Err: d.failEvents}
	}
	var out []UsageEvent
	for _, e := range d.log {
		if e.OccurredAt.Before(since) || e.OccurredAt.After(until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Present simulates a card being swiped at this door.  Unknown cards are
// rejected, known ones are appended to the usage log.
func (d *MemoryDoor) Present(cardNo string, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cards[cardNo]; !ok {
		return false
	}
	d.log = append(d.log, UsageEvent{CardNo: cardNo, OccurredAt: at})
	if len(d.log) > memoryLogCap {
		d.log = d.log[len(d.log)-memoryLogCap:]
	}
	return true
}

// Has reports whether the card table currently contains cardNo.
func (d *MemoryDoor) Has(cardNo string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.cards[cardNo]
	return ok
}

// Plant puts a card on the door without going through CreateCard, the way
// a manual provisioning or a failed past revocation would have.
func (d *MemoryDoor) Plant(cardNo string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cards[cardNo] = struct{}{}
}

// FailCreate makes CreateCard fail with err until called with nil.
func (d *MemoryDoor) FailCreate(err error) { d.setFault(&d.failCreate, err) }

// FailDelete makes DeleteCard fail with err until called with nil.
func (d *MemoryDoor) FailDelete(err error) { d.setFault(&d.failDelete, err) }

// FailList makes ListCards fail with err until called with nil.
func (d *MemoryDoor) FailList(err error) { d.setFault(&d.failList, err) }

// FailEvents makes ListUsageEvents fail with err until called with nil.
func (d *MemoryDoor) FailEvents(err error) { d.setFault(&d.failEvents, err) }

func (d *MemoryDoor) setFault(slot *error, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	*slot = err
}
