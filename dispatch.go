package phd

import (
	"github.com/golang/glog"

	"github.com/signove/phd-manager/apdu"
	"github.com/signove/phd-manager/config"
	"github.com/signove/phd-manager/dataapdu"
	"github.com/signove/phd-manager/dim"
)

// protocolVersion is the only association-control protocol version this
// Manager speaks; any other value in an AARQ is unacceptable.
const protocolVersion uint16 = 1

// waitForConfigTimeoutSeconds bounds how long a Context stays in
// WaitingForConfig for the Agent's roiv-confirmed-event-report before the
// association is aborted. disassociateTimeoutSeconds bounds the RLRE
// that should follow an RLRQ this Manager sent. Both are interop
// ceilings, not protocol constants; see DESIGN.md.
const (
	waitForConfigTimeoutSeconds = 30
	disassociateTimeoutSeconds  = 10
)

// ProcessInputData is the transport entry point for one Context: buf is a
// single complete APDU, already de-framed by the plugin. A malformed APDU
// is logged and dropped without any FSM transition, per spec.
func (c *Context) ProcessInputData(buf []byte) {
	pdu, err := apdu.Decode(buf)
	if err != nil {
		glog.Warningf("phd: %v: malformed APDU: %v", c.ID, err)
		return
	}
	switch p := pdu.(type) {
	case *apdu.AARQ:
		c.handleAARQ(p)
	case *apdu.AARE:
		if c.Role == RoleAgent && p.Result == apdu.ResultAccepted {
			c.Fire(EvtRxAAREAcceptedKnown, nil)
			return
		}
		c.Fire(EvtRxAAREUnexpected, nil)
	case *apdu.RLRQ:
		c.Fire(EvtRxRLRQ, nil)
	case *apdu.RLRE:
		c.Fire(EvtRxRLRE, nil)
	case *apdu.ABRT:
		c.Fire(EvtRxABRT, nil)
	case *apdu.PRST:
		c.handlePRST(p)
	default:
		glog.Warningf("phd: %v: unhandled APDU %v", c.ID, pdu)
	}
}

// handleAARQ classifies an incoming association request against the
// standard and extended configuration registries before handing it to the
// FSM; resolving the ConfigReport here (rather than inside a post-action)
// keeps the table's post-actions free of registry lookups.
func (c *Context) handleAARQ(req *apdu.AARQ) {
	if req.ProtocolVersion != protocolVersion {
		c.Fire(EvtRxAARQUnacceptable, &assocRequest{req: req})
		return
	}
	if report, ok := c.resolveConfig(req); ok {
		c.Fire(EvtRxAARQAcceptableKnown, &assocRequest{req: req, report: report})
		return
	}
	c.Fire(EvtRxAARQAcceptableUnknown, &assocRequest{req: req})
}

// resolveConfig reports the ConfigReport req's asserted configuration
// resolves to, if any. An Agent that asserts ConfigUnknown is always
// treated as unresolved, even if its ConfigID happens to be registered.
func (c *Context) resolveConfig(req *apdu.AARQ) (*dim.ConfigReport, bool) {
	if req.Config != apdu.ConfigKnown {
		return nil, false
	}
	if config.IsStandardRange(req.ConfigID) {
		return config.LookupStandard(req.ConfigID)
	}
	if config.IsExtendedRange(req.ConfigID) && c.mgr != nil && c.mgr.store != nil {
		report, ok, err := c.mgr.store.Lookup(req.SystemID, req.ConfigID)
		if err != nil {
			glog.Warningf("phd: %v: extended config lookup: %v", c.ID, err)
			return nil, false
		}
		return report, ok
	}
	return nil, false
}

// acceptAssociation sends the AARE for an AARQ the FSM has already
// decided to accept. report is nil when the Agent must still supply a
// ConfigReport in WaitingForConfig.
func (c *Context) acceptAssociation(req *apdu.AARQ, report *dim.ConfigReport) {
	c.systemID = req.SystemID
	c.configID = req.ConfigID
	if report != nil {
		c.MDS = dimNewMDSFromReport(report)
		c.sendAPDU(&apdu.AARE{ProtocolVersion: protocolVersion, Result: apdu.ResultAccepted, ConfigID: req.ConfigID})
		c.notifyDeviceAvailable()
		return
	}
	c.sendAPDU(&apdu.AARE{ProtocolVersion: protocolVersion, Result: apdu.ResultAcceptedUnknownConfig, ConfigID: req.ConfigID})
	c.armTimeout(waitForConfigTimeoutSeconds, EvtTimeout)
}

// handlePRST unwraps a Data-APDU and routes it either to the
// WaitingForConfig/CheckingConfig special case (an advertised
// ConfigReport) or to the ordinary Operating dispatch path.
func (c *Context) handlePRST(p *apdu.PRST) {
	data, err := dataapdu.Decode(p.Payload)
	if err != nil {
		glog.Warningf("phd: %v: malformed Data-APDU: %v", c.ID, err)
		return
	}
	if c.state == StateWaitingForConfig {
		if args, ok := data.Message.(*dataapdu.EventReportArgs); ok && args.EventType == dim.NotiConfig {
			report, err := dim.DecodeConfigReport(args.EventInfo)
			if err != nil {
				glog.Warningf("phd: %v: malformed config report: %v", c.ID, err)
				return
			}
			c.Fire(EvtRxConfirmedEventReport, &pendingConfigReport{invokeID: data.InvokeID, report: report})
			return
		}
	}
	if c.state == StateOperating {
		c.Fire(EvtRxPRSTExpected, data)
		return
	}
	c.Fire(EvtRxPRSTUnexpected, data)
}

// dispatchDataAPDU runs only from Operating, via postDispatchData: an
// Agent-initiated event report to apply, or a response to a
// Manager-initiated roiv to hand back to the Service.
func (c *Context) dispatchDataAPDU(d *dataapdu.DataAPDU) {
	switch dataapdu.Classify(d.Message.Choice()) {
	case dataapdu.FamilyROIV:
		c.handleIncomingROIV(d)
	case dataapdu.FamilyRORS, dataapdu.FamilyROER, dataapdu.FamilyRORJ:
		if _, ok := c.svc.OnResponse(d); !ok {
			// An unmatched invoke-id inside the already-draining loop: queue
			// rather than Fire, the mutex is already held.
			c.enqueue(EvtUnknownInvokeID, nil)
		}
	}
}

func (c *Context) handleIncomingROIV(d *dataapdu.DataAPDU) {
	args, ok := d.Message.(*dataapdu.EventReportArgs)
	if !ok {
		// Only event reports flow Agent -> Manager unsolicited; anything
		// else this Manager doesn't serve.
		c.sendPRST(d.InvokeID, &dataapdu.RejectResult{Problem: dataapdu.RejectUnrecognizedAPDU})
		return
	}
	c.handleEventReport(d.InvokeID, args)
}

func (c *Context) handleEventReport(invokeID uint16, msg *dataapdu.EventReportArgs) {
	if c.MDS == nil {
		return
	}
	var kind dim.ScanReportKind
	switch msg.EventType {
	case dim.NotiScanReportFixed:
		kind = dim.ScanFixed
	case dim.NotiScanReportVar:
		kind = dim.ScanVar
	case dim.NotiScanReportGrouped:
		kind = dim.ScanGrouped
	case dim.NotiSegmentData:
		c.handleSegmentData(invokeID, msg)
		return
	default:
		if msg.Confirmed {
			c.sendPRST(invokeID, &dataapdu.ErrorResult{ErrorCode: dataapdu.ErrorCodeInvalidPDU})
		}
		return
	}
	if c.mgr != nil {
		c.mgr.metrics.eventsReceived.Inc()
	}
	updates, err := c.MDS.ApplyEventReport(kind, msg.EventInfo)
	if err != nil {
		glog.V(1).Infof("phd: %v: event report decode: %v", c.ID, err)
	}
	if msg.Confirmed {
		c.sendPRST(invokeID, &dataapdu.EventReportResult{ObjHandle: msg.ObjHandle, EventType: msg.EventType})
	}
	if len(updates) > 0 {
		c.notifyMeasurementDataUpdated(updates)
	}
}

// handleSegmentData applies an unsolicited PM-Segment data push: the
// payload is {store_handle:u16, segment_handle:u16, bytes...}, assigned
// verbatim to the matching PMSegment.
func (c *Context) handleSegmentData(invokeID uint16, msg *dataapdu.EventReportArgs) {
	const header = 4
	if len(msg.EventInfo) < header {
		if msg.Confirmed {
			c.sendPRST(invokeID, &dataapdu.ErrorResult{ErrorCode: dataapdu.ErrorCodeInvalidPDU})
		}
		return
	}
	storeHandle := uint16(msg.EventInfo[0])<<8 | uint16(msg.EventInfo[1])
	segHandle := uint16(msg.EventInfo[2])<<8 | uint16(msg.EventInfo[3])
	data := msg.EventInfo[header:]
	obj, ok := c.MDS.Lookup(storeHandle)
	if !ok {
		return
	}
	store, ok := obj.(*dim.PMStore)
	if !ok {
		return
	}
	seg, ok := store.Segments[segHandle]
	if !ok {
		seg = &dim.PMSegment{Object: dim.Object{Handle: segHandle, Class: dim.ClassPMSegment}}
		store.Segments[segHandle] = seg
	}
	seg.Data = data
	if c.mgr != nil {
		c.mgr.metrics.segmentsRetrieved.Inc()
	}
	if msg.Confirmed {
		c.sendPRST(invokeID, &dataapdu.EventReportResult{ObjHandle: msg.ObjHandle, EventType: msg.EventType})
	}
	if c.mgr != nil && c.mgr.listener.SegmentDataReceived != nil {
		c.mgr.listener.SegmentDataReceived(c, storeHandle, segHandle, data)
	}
}

// sendAPDU encodes and transmits an association-control APDU. A transport
// error is logged; the Context relies on the plugin's own disconnect
// indication to eventually tear it down rather than inferring one here.
func (c *Context) sendAPDU(a apdu.APDU) {
	buf, err := apdu.Encode(a)
	if err != nil {
		glog.Errorf("phd: %v: encode %v: %v", c.ID, a.Choice(), err)
		return
	}
	if c.plugin == nil {
		return
	}
	if err := c.plugin.SendAPDU(c.ID.Conn, buf); err != nil {
		glog.Warningf("phd: %v: send %v: %v", c.ID, a.Choice(), err)
	}
}

// sendPRST wraps msg in a Data-APDU and an association-control PRST.
func (c *Context) sendPRST(invokeID uint16, msg dataapdu.Message) {
	buf, err := dataapdu.Encode(&dataapdu.DataAPDU{InvokeID: invokeID, Message: msg})
	if err != nil {
		glog.Errorf("phd: %v: encode %v: %v", c.ID, msg.Choice(), err)
		return
	}
	c.sendAPDU(&apdu.PRST{Payload: buf})
}

// teardown cancels the Context's timer and pending requests and drops its
// DIM tree, firing device_unavailable exactly once if it had one. Every
// path out of Operating (release, abort sent or received, transport loss)
// routes through here.
func (c *Context) teardown() {
	c.cancelTimeout()
	c.svc.cancelAll()
	hadMDS := c.MDS != nil
	c.MDS = nil
	if hadMDS {
		c.notifyDeviceUnavailable()
	}
}

func (c *Context) armTimeout(seconds int, evt Event) {
	c.cancelTimeout()
	if c.plugin == nil {
		return
	}
	token := c.plugin.TimerReset(c.ID.Conn, seconds, func() { c.Fire(evt, nil) })
	c.timeout = &TimeoutAction{Seconds: seconds, Timer: token}
}

func (c *Context) cancelTimeout() {
	if c.timeout == nil {
		return
	}
	if c.plugin != nil {
		c.plugin.TimerCancel(c.ID.Conn, c.timeout.Timer)
	}
	c.timeout = nil
}

func (c *Context) notifyDeviceAvailable() {
	if c.mgr != nil && c.mgr.listener.DeviceAvailable != nil {
		c.mgr.listener.DeviceAvailable(c)
	}
}

func (c *Context) notifyDeviceUnavailable() {
	if c.mgr != nil && c.mgr.listener.DeviceUnavailable != nil {
		c.mgr.listener.DeviceUnavailable(c)
	}
}

func (c *Context) notifyMeasurementDataUpdated(updates []dim.HandleUpdate) {
	if c.mgr != nil && c.mgr.listener.MeasurementDataUpdated != nil {
		c.mgr.listener.MeasurementDataUpdated(c, updates)
	}
}

func dimNewMDSFromReport(report *dim.ConfigReport) *dim.MDS {
	mds := dim.NewMDS(0)
	if err := mds.ApplyConfig(report); err != nil {
		glog.Warningf("phd: apply config: %v", err)
	}
	return mds
}
