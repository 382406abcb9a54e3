package phd

import (
	"github.com/golang/glog"

	"github.com/signove/phd-manager/apdu"
	"github.com/signove/phd-manager/dataapdu"
)

// Event is an FSM input: a transport indication, an application request,
// or a classified received APDU.
type Event int

const (
	EvtTransportConnect Event = iota
	EvtTransportDisconnect
	EvtTimeout

	EvtReqAssocRel
	EvtReqAssocAbort
	EvtReqAgentSuppliedKnownConfig
	EvtReqAgentSuppliedUnknownConfig

	EvtRxAARQAcceptableKnown
	EvtRxAARQAcceptableUnknown
	EvtRxAARQUnacceptable

	EvtRxAAREAcceptedKnown
	EvtRxAAREUnexpected

	EvtRxRLRQ
	EvtRxRLRE
	EvtRxABRT

	EvtRxConfirmedEventReport // roiv-confirmed-event-report carrying a ConfigReport, received in WaitingForConfig
	EvtRxPRSTExpected         // any Data-APDU received while Operating
	EvtRxPRSTUnexpected       // a PRST received in a state that cannot handle one
	EvtUnknownInvokeID        // a rors/roer/rorj whose invoke-id has no pending request
)

func (e Event) String() string {
	names := map[Event]string{
		EvtTransportConnect:            "TransportConnect",
		EvtTransportDisconnect:         "TransportDisconnect",
		EvtTimeout:                     "Timeout",
		EvtReqAssocRel:                 "ReqAssocRel",
		EvtReqAssocAbort:               "ReqAssocAbort",
		EvtReqAgentSuppliedKnownConfig: "ReqAgentSuppliedKnownConfig",
		EvtReqAgentSuppliedUnknownConfig: "ReqAgentSuppliedUnknownConfig",
		EvtRxAARQAcceptableKnown:       "RxAARQ(known)",
		EvtRxAARQAcceptableUnknown:     "RxAARQ(unknown)",
		EvtRxAARQUnacceptable:          "RxAARQ(unacceptable)",
		EvtRxAAREAcceptedKnown:         "RxAARE(accepted)",
		EvtRxAAREUnexpected:            "RxAARE(unexpected)",
		EvtRxRLRQ:                      "RxRLRQ",
		EvtRxRLRE:                      "RxRLRE",
		EvtRxABRT:                      "RxABRT",
		EvtRxConfirmedEventReport:      "RxConfirmedEventReport",
		EvtRxPRSTExpected:              "RxPRST(expected)",
		EvtRxPRSTUnexpected:            "RxPRST(unexpected)",
	}
	if n, ok := names[e]; ok {
		return n
	}
	return "unknown-event"
}

// postAction runs after a transition is committed. It may send APDUs and
// may enqueue further events (re-entrant) via ctx.enqueue; the lock is
// already held and the outer drain loop picks those events up.
type postAction func(ctx *Context, data interface{})

type transition struct {
	from State
	evt  Event
	to   State
	post postAction
}

type transitionTable []transition

func (t transitionTable) find(state State, evt Event) (transition, bool) {
	for _, tr := range t {
		if tr.from == state && tr.evt == evt {
			return tr, true
		}
	}
	return transition{}, false
}

// managerTransitions is the Manager-side table: AARQ is received, not
// sent; configuration is evaluated, not advertised.
var managerTransitions = transitionTable{
	{StateDisconnected, EvtTransportConnect, StateUnassociated, nil},

	{StateUnassociated, EvtRxAARQAcceptableKnown, StateOperating, postAcceptKnownConfig},
	{StateUnassociated, EvtRxAARQAcceptableUnknown, StateWaitingForConfig, postTransitionWaitingForConfig},
	{StateUnassociated, EvtRxAARQUnacceptable, StateUnassociated, postRejectAssoc},
	{StateUnassociated, EvtRxPRSTUnexpected, StateUnassociated, postAbortUndefined},

	{StateWaitingForConfig, EvtRxConfirmedEventReport, StateCheckingConfig, postPerformConfiguration},
	{StateWaitingForConfig, EvtTimeout, StateUnassociated, postAbortUndefined},
	{StateWaitingForConfig, EvtRxPRSTUnexpected, StateUnassociated, postAbortUndefined},

	{StateCheckingConfig, EvtReqAgentSuppliedKnownConfig, StateOperating, postConfigAccepted},
	{StateCheckingConfig, EvtReqAgentSuppliedUnknownConfig, StateWaitingForConfig, postConfigUnsupported},
	{StateCheckingConfig, EvtRxPRSTUnexpected, StateUnassociated, postAbortUndefined},

	{StateOperating, EvtRxPRSTExpected, StateOperating, postDispatchData},
	{StateOperating, EvtRxRLRQ, StateUnassociated, postReleaseResponse},
	{StateOperating, EvtReqAssocRel, StateDisassociating, postReleaseRequest},
	{StateOperating, EvtReqAssocAbort, StateUnassociated, postAbortUndefined},
	{StateOperating, EvtRxAAREUnexpected, StateUnassociated, postAbortUndefined},
	{StateOperating, EvtUnknownInvokeID, StateUnassociated, postAbortUndefined},

	{StateDisassociating, EvtRxRLRE, StateUnassociated, postReleaseComplete},
	{StateDisassociating, EvtTimeout, StateUnassociated, postAbortUndefined},
	{StateDisassociating, EvtRxPRSTUnexpected, StateUnassociated, postAbortUndefined},

	// Any state + RxABRT or TransportDisconnect: fall back, tearing down
	// whatever was built. Enumerated per originating state because the
	// table has no wildcard match.
	{StateUnassociated, EvtRxABRT, StateUnassociated, nil},
	{StateWaitingForConfig, EvtRxABRT, StateUnassociated, postAbortReceived},
	{StateCheckingConfig, EvtRxABRT, StateUnassociated, postAbortReceived},
	{StateOperating, EvtRxABRT, StateUnassociated, postAbortReceived},
	{StateDisassociating, EvtRxABRT, StateUnassociated, postAbortReceived},

	{StateDisconnected, EvtTransportDisconnect, StateDisconnected, nil},
	{StateUnassociated, EvtTransportDisconnect, StateDisconnected, nil},
	{StateWaitingForConfig, EvtTransportDisconnect, StateDisconnected, postAbortReceived},
	{StateCheckingConfig, EvtTransportDisconnect, StateDisconnected, postAbortReceived},
	{StateOperating, EvtTransportDisconnect, StateDisconnected, postAbortReceived},
	{StateDisassociating, EvtTransportDisconnect, StateDisconnected, postAbortReceived},

	{StateUnassociated, EvtTimeout, StateUnassociated, nil},
}

// agentTransitions is a minimal symmetric table for a RoleAgent Context:
// enough to drive the association/release happy path from the other side
// without a second full façade. It has no configuration states.
var agentTransitions = transitionTable{
	{StateDisconnected, EvtTransportConnect, StateUnassociated, nil},
	{StateUnassociated, EvtRxAAREAcceptedKnown, StateOperating, nil},
	{StateOperating, EvtRxRLRQ, StateUnassociated, postReleaseResponse},
	{StateOperating, EvtReqAssocRel, StateDisassociating, postReleaseRequest},
	{StateDisassociating, EvtRxRLRE, StateUnassociated, nil},
	{StateOperating, EvtRxABRT, StateUnassociated, nil},
	{StateUnassociated, EvtTransportDisconnect, StateDisconnected, nil},
	{StateOperating, EvtTransportDisconnect, StateDisconnected, nil},
}

func (c *Context) table() transitionTable {
	if c.Role == RoleAgent {
		return agentTransitions
	}
	return managerTransitions
}

// Fire drives the FSM with evt. Re-entrant events queued by a post-action
// are drained before Fire returns.
func (c *Context) Fire(evt Event, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueue(evt, data)
	c.drain()
}

func (c *Context) enqueue(evt Event, data interface{}) {
	c.pending = append(c.pending, pendingEvent{evt, data})
}

// drain is a no-op re-entrancy guard: if already draining (a post-action
// called enqueue while we're inside this very loop), just return — the
// outermost call keeps consuming c.pending.
func (c *Context) drain() {
	if c.draining {
		return
	}
	c.draining = true
	defer func() { c.draining = false }()
	for len(c.pending) > 0 {
		pe := c.pending[0]
		c.pending = c.pending[1:]
		c.applyTransition(pe.evt, pe.data)
	}
}

func (c *Context) applyTransition(evt Event, data interface{}) {
	tr, ok := c.table().find(c.state, evt)
	if !ok {
		glog.V(1).Infof("phd: %v: no transition for state=%v event=%v, dropping", c.ID, c.state, evt)
		return
	}
	prev := c.state
	c.state = tr.to
	if tr.post != nil {
		tr.post(c, data)
	}
	if prev != tr.to {
		glog.V(1).Infof("phd: %v: %v -> %v on %v", c.ID, prev, tr.to, evt)
		if c.mgr != nil {
			c.mgr.notifyStateChange(c, prev, tr.to)
		}
	}
}

func postAcceptKnownConfig(c *Context, data interface{}) {
	ar, _ := data.(*assocRequest)
	if ar == nil {
		return
	}
	c.acceptAssociation(ar.req, ar.report)
}

func postTransitionWaitingForConfig(c *Context, data interface{}) {
	ar, _ := data.(*assocRequest)
	if ar == nil {
		return
	}
	c.acceptAssociation(ar.req, nil)
}

func postRejectAssoc(c *Context, data interface{}) {
	c.sendAPDU(&apdu.AARE{ProtocolVersion: protocolVersion, Result: apdu.ResultRejectedPermanent})
}

func postPerformConfiguration(c *Context, data interface{}) {
	pcr, _ := data.(*pendingConfigReport)
	if pcr == nil {
		return
	}
	c.pendingReport = pcr.report
	c.pendingReportInvoke = pcr.invokeID
	report := pcr.report
	accept := true
	if c.mgr != nil && c.mgr.listener.ValidateConfig != nil {
		accept = c.mgr.listener.ValidateConfig(c, report)
	}
	if accept {
		c.enqueue(EvtReqAgentSuppliedKnownConfig, nil)
	} else {
		c.enqueue(EvtReqAgentSuppliedUnknownConfig, nil)
	}
}

func postConfigAccepted(c *Context, data interface{}) {
	c.MDS = dimNewMDSFromReport(c.pendingReport)
	if c.mgr != nil {
		c.mgr.store.Save(c.systemID, c.configID, c.pendingReport)
	}
	c.sendPRST(c.pendingReportInvoke, &dataapdu.EventReportResult{
		ObjHandle: 0, CurrentTime: 0, EventType: configReportEventType,
		EventReplyInfo: []byte("accepted"),
	})
	c.notifyDeviceAvailable()
}

func postConfigUnsupported(c *Context, data interface{}) {
	c.sendPRST(c.pendingReportInvoke, &dataapdu.EventReportResult{
		ObjHandle: 0, CurrentTime: 0, EventType: configReportEventType,
		EventReplyInfo: []byte("unsupported"),
	})
}

func postDispatchData(c *Context, data interface{}) {
	d, _ := data.(*dataapdu.DataAPDU)
	if d == nil {
		return
	}
	c.dispatchDataAPDU(d)
}

func postReleaseRequest(c *Context, data interface{}) {
	c.sendAPDU(&apdu.RLRQ{})
	c.armTimeout(disassociateTimeoutSeconds, EvtTimeout)
}

func postReleaseResponse(c *Context, data interface{}) {
	c.sendAPDU(&apdu.RLRE{})
	c.teardown()
}

func postReleaseComplete(c *Context, data interface{}) {
	c.teardown()
}

func postAbortUndefined(c *Context, data interface{}) {
	c.sendAPDU(&apdu.ABRT{Reason: apdu.AbortUndefined})
	c.teardown()
}

func postAbortReceived(c *Context, data interface{}) {
	c.teardown()
}
