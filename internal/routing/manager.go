package routing

import (
	"context"
	"errors"
	"sync"

	"github.com/chartwork/mapsync/pkg/mapdata"
)

// ErrNoSuchRoute is returned when a slot name has no active route.
var ErrNoSuchRoute = errors.New("no active route under this name")

// ActiveRoute is the state of one route slot: the request that
// produced it plus the computed result.
type ActiveRoute struct {
	Name      string
	Waypoints []mapdata.Point
	Mode      mapdata.RouteMode
	Options   Options
	Route     *Route
}

type slot struct {
	seq    uint64
	cancel context.CancelFunc
	active *ActiveRoute
}

// Manager holds the ephemeral route slots of one session. Slots are
// keyed by a client-chosen name; re-submitting a name cancels the
// in-flight computation and the last submitted request wins. Slots
// never touch the store and vanish with the session.
type Manager struct {
	router *Router

	mu    sync.Mutex
	slots map[string]*slot
}

// NewManager creates an empty slot manager backed by the shared
// router.
func NewManager(router *Router) *Manager {
	return &Manager{
		router: router,
		slots:  make(map[string]*slot),
	}
}

// SetRoute computes a route and stores it under name. If a newer
// request for the same name is submitted while this one is still
// computing, this one is cancelled or its result discarded, and
// (nil, nil) is returned: a superseded request is not an error.
func (m *Manager) SetRoute(ctx context.Context, name string, waypoints []mapdata.Point, mode mapdata.RouteMode, opts Options) (*ActiveRoute, error) {
	m.mu.Lock()
	s, ok := m.slots[name]
	if !ok {
		s = &slot{}
		m.slots[name] = s
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	m.mu.Unlock()

	route, err := m.router.Compute(cctx, waypoints, mode, opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	cancel()

	stale := s.seq != seq
	if stale || m.slots[name] != s {
		// Superseded by a newer submit or cleared meanwhile.
		return nil, nil
	}
	s.cancel = nil
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, nil
		}
		return nil, err
	}

	s.active = &ActiveRoute{
		Name:      name,
		Waypoints: waypoints,
		Mode:      mode,
		Options:   opts,
		Route:     route,
	}
	return s.active, nil
}

// ClearRoute drops the slot, cancelling any in-flight computation.
// Clearing an unknown name is a no-op.
func (m *Manager) ClearRoute(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[name]; ok {
		if s.cancel != nil {
			s.cancel()
		}
		delete(m.slots, name)
	}
}

// Get returns the active route under name.
func (m *Manager) Get(name string) (*ActiveRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[name]
	if !ok || s.active == nil {
		return nil, ErrNoSuchRoute
	}
	return s.active, nil
}

// Names lists slots that hold a computed route.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.slots))
	for name, s := range m.slots {
		if s.active != nil {
			names = append(names, name)
		}
	}
	return names
}

// CancelAll cancels every in-flight computation and drops every slot.
// Called when the owning session disconnects.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.slots {
		if s.cancel != nil {
			s.cancel()
		}
		delete(m.slots, name)
	}
}
