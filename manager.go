package phd

import (
	"sync"

	"github.com/signove/phd-manager/config"
	"github.com/signove/phd-manager/dim"
)

// ManagerListener is the set of application callbacks a Manager invokes
// as Contexts move through the FSM. Every field is optional; a nil field
// is simply not called.
type ManagerListener struct {
	// DeviceAvailable fires once a Context reaches Operating with a
	// resolved DIM tree.
	DeviceAvailable func(ctx *Context)
	// DeviceUnavailable fires once, from teardown, for any Context that
	// had reached DeviceAvailable.
	DeviceUnavailable func(ctx *Context)
	// MeasurementDataUpdated fires after an event report updates one or
	// more Numeric objects.
	MeasurementDataUpdated func(ctx *Context, updates []dim.HandleUpdate)
	// SegmentDataReceived fires after an unsolicited PM-Segment data push.
	SegmentDataReceived func(ctx *Context, storeHandle, segmentHandle uint16, data []byte)
	// Timeout fires when a Manager-initiated request never received a
	// response, in addition to that request's own OnComplete(nil).
	Timeout func(ctx *Context)
	// ValidateConfig decides whether an Agent-advertised ConfigReport
	// received in WaitingForConfig is acceptable. A nil ValidateConfig
	// accepts everything.
	ValidateConfig func(ctx *Context, report *dim.ConfigReport) bool
}

// Manager is the process-wide façade: it owns the Context registry, the
// transport plugin table, the configuration store, and dispatches
// application listener callbacks. One Manager typically serves every
// connection a process handles; tests may build several to exercise both
// sides of an association.
type Manager struct {
	mu sync.Mutex

	registry   *registry
	plugins    map[uint8]Plugin
	nextPlugin uint8

	store    config.Store
	listener ManagerListener

	stateListeners []func(ctx *Context, from, to State)

	metrics *metrics
}

// NewManager builds a Manager. A nil store defaults to an in-process
// config.MemStore; callers that need the extended-config cache to survive
// a restart should pass a config.BadgerStore instead.
func NewManager(store config.Store, listener ManagerListener) *Manager {
	if store == nil {
		store = config.NewMemStore()
	}
	return &Manager{
		registry: newRegistry(),
		plugins:  map[uint8]Plugin{},
		store:    store,
		listener: listener,
		metrics:  newMetrics(),
	}
}

// AddStateListener registers f to be called after every FSM state
// transition any Context makes under this Manager.
func (m *Manager) AddStateListener(f func(ctx *Context, from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateListeners = append(m.stateListeners, f)
}

func (m *Manager) notifyStateChange(ctx *Context, from, to State) {
	m.mu.Lock()
	listeners := make([]func(*Context, State, State), len(m.stateListeners))
	copy(listeners, m.stateListeners)
	m.mu.Unlock()
	for _, f := range listeners {
		f(ctx, from, to)
	}
	m.metrics.observeTransition(from, to)
}

// Stop tears down every live Context (cancelling timers and pending
// requests) and forgets them. Registered plugins are left running; the
// caller owns their lifecycle.
func (m *Manager) Stop() {
	m.registry.iterate(func(ctx *Context) {
		ctx.mu.Lock()
		ctx.teardown()
		ctx.mu.Unlock()
	})
	m.registry.removeAll()
}

// Contexts returns a snapshot of every live Context, for diagnostics.
func (m *Manager) Contexts() []*Context {
	var out []*Context
	m.registry.iterate(func(ctx *Context) { out = append(out, ctx) })
	return out
}
