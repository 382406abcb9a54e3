package phd

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/signove/phd-manager/dim"
)

// transPlugin backs Contexts created by InjectTransContext. Grounded on
// plugin_trans.c's "dummy" transcoding plug-in: send_apdu_stream and
// get_apdu are error paths that should never run, because a trans
// Context's configuration and events are supplied directly by the host
// process rather than carried on a wire; only disconnect and timer
// service are real.
type transPlugin struct{}

func (transPlugin) SendAPDU(conn uint64, data []byte) error {
	return fmt.Errorf("phd: trans context %d: send_apdu_stream is not supported", conn)
}

func (transPlugin) Disconnect(conn uint64) error { return nil }

func (transPlugin) TimerReset(conn uint64, seconds int, fire func()) interface{} {
	return time.AfterFunc(time.Duration(seconds)*time.Second, fire)
}

func (transPlugin) TimerCancel(conn uint64, token interface{}) {
	if t, ok := token.(*time.Timer); ok {
		t.Stop()
	}
}

var transConnCounter uint64

// InjectTransContext builds an already-Operating Context whose identity
// and configuration are supplied directly by the caller instead of
// negotiated over AARQ/AARE — for a host that already resolved a device's
// configuration through some other channel (a gateway, a replay log) and
// only needs this Manager's DIM tree and event-report decoding.
func (m *Manager) InjectTransContext(systemID []byte, configID uint16, report *dim.ConfigReport) (*Context, error) {
	if report == nil {
		return nil, fmt.Errorf("phd: InjectTransContext: nil config report")
	}
	conn := atomic.AddUint64(&transConnCounter, 1)
	id := ContextID{Conn: conn}
	ctx := m.registry.create(id, RoleTrans, transPlugin{}, m)
	ctx.mu.Lock()
	ctx.systemID = systemID
	ctx.configID = configID
	ctx.MDS = dimNewMDSFromReport(report)
	ctx.state = StateOperating
	ctx.mu.Unlock()
	ctx.notifyDeviceAvailable()
	return ctx, nil
}

// InjectEvent applies an event report directly to a trans Context's DIM
// tree, bypassing the Data-APDU/FSM pipeline: there is no wire to carry
// one.
func (m *Manager) InjectEvent(ctx *Context, kind dim.ScanReportKind, payload []byte) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.MDS == nil {
		return fmt.Errorf("phd: %v: no DIM tree", ctx.ID)
	}
	updates, err := ctx.MDS.ApplyEventReport(kind, payload)
	if err != nil {
		return err
	}
	if len(updates) > 0 {
		ctx.notifyMeasurementDataUpdated(updates)
	}
	return nil
}
