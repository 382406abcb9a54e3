// Package phd implements an ISO/IEEE 11073-20601 Manager: the
// per-connection association state machine, invoke/response service, and
// DIM object tree that together let a transport plugin speak to Personal
// Health Data Agents without knowing the protocol itself.
package phd

import (
	"sync"

	"github.com/signove/phd-manager/apdu"
	"github.com/signove/phd-manager/dim"
)

// Role is the bitset a Context's FSM runs under.
type Role uint8

const (
	// RoleManager drives the Manager-side transition table: it accepts
	// associations, negotiates configuration, and issues roiv requests.
	RoleManager Role = 1 << iota
	// RoleAgent drives the symmetric Agent-side table, for deployments
	// where this process also emulates a device.
	RoleAgent
	// RoleTrans marks a Context fabricated by InjectTransContext: no
	// transport ever carries bytes for it.
	RoleTrans
)

// ContextID identifies a connection: plugin is the 1-origin id assigned
// at RegisterPlugin time, conn is chosen by the plugin and only needs to
// be unique within that plugin.
type ContextID struct {
	Plugin uint8
	Conn   uint64
}

// State is one node of the association FSM.
type State uint8

const (
	StateDisconnected State = iota
	StateUnassociated
	StateAssociating
	StateConfigSending
	StateWaitingApproval
	StateOperating
	StateDisassociating
	StateCheckingConfig
	StateWaitingForConfig
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateUnassociated:
		return "Unassociated"
	case StateAssociating:
		return "Associating"
	case StateConfigSending:
		return "ConfigSending"
	case StateWaitingApproval:
		return "WaitingApproval"
	case StateOperating:
		return "Operating"
	case StateDisassociating:
		return "Disassociating"
	case StateCheckingConfig:
		return "CheckingConfig"
	case StateWaitingForConfig:
		return "WaitingForConfig"
	default:
		return "unknown"
	}
}

// TimeoutAction is the single pending timer a Context may hold.
type TimeoutAction struct {
	Seconds int
	Timer   interface{} // opaque handle returned by Plugin.TimerReset
}

// Context is the live state for one (plugin, conn) connection: FSM state,
// DIM tree once associated, pending service requests, and the one timer
// a Context ever holds at a time.
type Context struct {
	mu sync.Mutex

	ID   ContextID
	Role Role

	state State
	MDS   *dim.MDS

	svc *Service

	systemID []byte
	configID uint16

	timeout *TimeoutAction
	plugin  Plugin

	pending  []pendingEvent // re-entrant events fired by a post-action
	draining bool

	pendingReport        *dim.ConfigReport
	pendingReportInvoke  uint16

	mgr *Manager // back-reference for listener dispatch and metrics; nil in tests that build a bare Context
}

// pendingConfigReport carries a just-decoded ConfigReport plus the
// invoke-id of the roiv-confirmed-event-report that delivered it, so the
// eventual accept/reject reply can be correlated by the Agent.
type pendingConfigReport struct {
	invokeID uint16
	report   *dim.ConfigReport
}

// assocRequest carries an AARQ plus the ConfigReport the Manager already
// resolved for it (nil if the Agent's ConfigID could not be resolved from
// either registry, in which case the Context waits for one on the wire).
type assocRequest struct {
	req    *apdu.AARQ
	report *dim.ConfigReport
}

// configReportEventType is the MDC_NOTI_CONFIG event type echoed back on
// the EventReportResult that accepts or rejects an advertised config.
const configReportEventType = 0x0D1C

type pendingEvent struct {
	evt  Event
	data interface{}
}

func newContext(id ContextID, role Role, plugin Plugin, mgr *Manager) *Context {
	return &Context{
		ID:     id,
		Role:   role,
		state:  StateDisconnected,
		svc:    newService(),
		plugin: plugin,
		mgr:    mgr,
	}
}

// NewContext builds a standalone Context with no owning Manager, for
// tests that want to drive the FSM directly (e.g. a fake Agent role).
func NewContext(id ContextID, role Role, plugin Plugin) *Context {
	return newContext(id, role, plugin, nil)
}

// State returns the Context's current FSM state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the DIM tree's current Get-all view, or ok=false if
// the Context has no DIM tree (before association completes, or after
// teardown).
func (c *Context) Snapshot() (dim.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MDS == nil {
		return dim.Snapshot{}, false
	}
	return c.MDS.GetAll(), true
}
