package store

import (
	"sort"
	"sync"
)

// Fanout delivers mutation events to per-map handlers. Commits run
// under the delivery lock so the event order of one map follows
// mutation commit order.
type Fanout struct {
	mu      sync.RWMutex
	subs    map[string]map[int]Handler
	nextSub int

	// emitMu is held across a commit and its delivery. Releasing a
	// commit before claiming the delivery slot would let a competing
	// writer slip its event in between, delivering out of order.
	emitMu sync.Mutex
}

// NewFanout creates an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for one map's events.
func (f *Fanout) Subscribe(mapID string, h Handler) Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs[mapID] == nil {
		f.subs[mapID] = make(map[int]Handler)
	}
	id := f.nextSub
	f.nextSub++
	f.subs[mapID][id] = h

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[mapID], id)
	}
}

// Ordered runs commit under the delivery lock and, on success, delivers
// the returned event to the map's handlers in subscription order.
// Handlers must not mutate the store; a nested Ordered call deadlocks.
func (f *Fanout) Ordered(commit func() (Event, error)) error {
	f.emitMu.Lock()
	defer f.emitMu.Unlock()

	ev, err := commit()
	if err != nil {
		return err
	}
	f.deliver(ev)
	return nil
}

func (f *Fanout) deliver(ev Event) {
	f.mu.RLock()
	ids := make([]int, 0, len(f.subs[ev.MapID]))
	for id := range f.subs[ev.MapID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, f.subs[ev.MapID][id])
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
