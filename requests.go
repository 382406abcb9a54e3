package phd

import (
	"fmt"
	"time"

	"github.com/signove/phd-manager/dataapdu"
	"github.com/signove/phd-manager/dim"
)

// defaultRequestTimeout bounds a Manager-initiated roiv that doesn't
// specify its own deadline.
const defaultRequestTimeout = 5 * time.Second

// onServiceTimeout builds the Service timeout callback shared by every
// request helper: it forwards to the Manager's Timeout listener, and
// counts against the requests_timed_out metric.
func (c *Context) onServiceTimeout() func() {
	return func() {
		if c.mgr == nil {
			return
		}
		c.mgr.metrics.requestsTimedOut.Inc()
		if c.mgr.listener.Timeout != nil {
			c.mgr.listener.Timeout(c)
		}
	}
}

func (c *Context) sendRequest(timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	if c.State() != StateOperating {
		return nil, fmt.Errorf("phd: %v: not operating", c.ID)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return c.svc.SendRequest(timeout, c.onServiceTimeout(), onComplete)
}

// RequestGet issues a roiv-get for attrIDs on handle (all declared
// attributes if attrIDs is empty), completing onComplete with the
// matching rors-get, or nil on timeout.
func (c *Context) RequestGet(handle uint16, attrIDs []uint16, timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	req, err := c.sendRequest(timeout, onComplete)
	if err != nil {
		return nil, err
	}
	c.sendPRST(req.InvokeID, &dataapdu.GetArgs{ObjHandle: handle, AttributeIDList: attrIDs})
	return req, nil
}

// RequestSet issues a confirmed roiv-set of attrs on handle.
func (c *Context) RequestSet(handle uint16, attrs []dataapdu.Attribute, timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	req, err := c.sendRequest(timeout, onComplete)
	if err != nil {
		return nil, err
	}
	c.sendPRST(req.InvokeID, &dataapdu.SetArgs{Confirmed: true, ObjHandle: handle, AttributeList: attrs})
	return req, nil
}

// RequestAction issues a confirmed roiv-action of actionType on handle.
func (c *Context) RequestAction(handle, actionType uint16, info []byte, timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	req, err := c.sendRequest(timeout, onComplete)
	if err != nil {
		return nil, err
	}
	c.sendPRST(req.InvokeID, &dataapdu.ActionArgs{Confirmed: true, ObjHandle: handle, ActionType: actionType, ActionInfo: info})
	return req, nil
}

// Action type values this Manager issues against a PM-Store, per
// original_source/src/manager.c's manager_request_get_segment_info/
// _get_segment_data/_clear_segments.
const (
	ActionGetSegmentInfo uint16 = 0x0C0D
	ActionGetSegmentData uint16 = 0x0C0E
	ActionClearSegments  uint16 = 0x0C0F
)

// RequestMDSGet reads every declared attribute of the MDS object
// (handle 0).
func (c *Context) RequestMDSGet(timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	return c.RequestGet(0, nil, timeout, onComplete)
}

// RequestGetSegmentInfo asks storeHandle's PM-Store to describe its
// segments.
func (c *Context) RequestGetSegmentInfo(storeHandle uint16, timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	return c.RequestAction(storeHandle, ActionGetSegmentInfo, nil, timeout, onComplete)
}

// RequestGetSegmentData asks storeHandle's PM-Store to transmit
// segmentHandle's stored measurements.
func (c *Context) RequestGetSegmentData(storeHandle, segmentHandle uint16, timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	info := []byte{byte(segmentHandle >> 8), byte(segmentHandle)}
	return c.RequestAction(storeHandle, ActionGetSegmentData, info, timeout, onComplete)
}

// RequestClearSegments asks storeHandle's PM-Store to discard its stored
// segments.
func (c *Context) RequestClearSegments(storeHandle uint16, timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	return c.RequestAction(storeHandle, ActionClearSegments, nil, timeout, onComplete)
}

// SetScannerOperationalState enables or disables scanHandle's periodic or
// episodic reporting.
func (c *Context) SetScannerOperationalState(scanHandle uint16, enabled bool, timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	state := byte(0)
	if enabled {
		state = 1
	}
	attrs := []dataapdu.Attribute{{ID: dim.AttrOpStat, Value: []byte{state}}}
	return c.RequestSet(scanHandle, attrs, timeout, onComplete)
}

// RequestSetTime writes an absolute timestamp onto the MDS object.
func (c *Context) RequestSetTime(abs uint32, timeout time.Duration, onComplete func(*dataapdu.DataAPDU)) (*Request, error) {
	v := []byte{byte(abs >> 24), byte(abs >> 16), byte(abs >> 8), byte(abs)}
	attrs := []dataapdu.Attribute{{ID: dim.AttrTimeAbs, Value: v}}
	return c.RequestSet(0, attrs, timeout, onComplete)
}

// RequestAssociationRelease asks the Agent to release the association
// normally.
func (c *Context) RequestAssociationRelease() {
	c.Fire(EvtReqAssocRel, nil)
}

// RequestAssociationAbort aborts the association immediately, without
// waiting for a release exchange.
func (c *Context) RequestAssociationAbort() {
	c.Fire(EvtReqAssocAbort, nil)
}
