package phd

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signove/phd-manager/apdu"
	"github.com/signove/phd-manager/config"
	"github.com/signove/phd-manager/dataapdu"
	"github.com/signove/phd-manager/dim"
	"github.com/signove/phd-manager/mder"
)

// fakePlugin is an in-memory stand-in for a real transport: it never
// touches a socket, it just records every APDU a Context sends so a test
// can decode and assert on it.
type fakePlugin struct {
	mu   sync.Mutex
	sent [][]byte
}

func (p *fakePlugin) SendAPDU(conn uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.sent = append(p.sent, cp)
	return nil
}

func (p *fakePlugin) Disconnect(conn uint64) error { return nil }

func (p *fakePlugin) TimerReset(conn uint64, seconds int, fire func()) interface{} { return nil }
func (p *fakePlugin) TimerCancel(conn uint64, token interface{})                   {}

func (p *fakePlugin) last() apdu.APDU {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	pdu, err := apdu.Decode(p.sent[len(p.sent)-1])
	if err != nil {
		return nil
	}
	return pdu
}

func (p *fakePlugin) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func sfloatBytes(x float64) []byte {
	w := mder.NewWriter()
	w.WriteSFloat(x)
	return w.Bytes()
}

// fixedScanPayload builds a ScanFixed event-report payload for a single
// Numeric handle carrying a simple-nu value plus an absolute timestamp,
// matching the pulseOximeterConfig/weighingScaleConfig attribute-value-map
// shape ({simple-nu float32}, {timestamp u32}).
func fixedScanPayload(handle uint16, value float64, timestamp uint32) []byte {
	body := mder.NewWriter()
	body.WriteFloat(value)
	body.WriteU32(timestamp)

	w := mder.NewWriter()
	w.WriteU16(handle)
	w.WriteU16(uint16(len(body.Bytes())))
	w.WriteBytes(body.Bytes())
	return w.Bytes()
}

func sendAARQ(t *testing.T, mgr *Manager, pid uint8, conn uint64, systemID []byte, configID uint16, known bool) {
	t.Helper()
	assertion := apdu.ConfigUnknown
	if known {
		assertion = apdu.ConfigKnown
	}
	buf, err := apdu.Encode(&apdu.AARQ{
		ProtocolVersion: protocolVersion,
		SystemID:        systemID,
		ConfigID:        configID,
		Config:          assertion,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.ProcessInputData(pid, conn, buf))
}

func sendConfirmedEventReport(t *testing.T, mgr *Manager, pid uint8, conn uint64, invokeID uint16, eventType uint16, info []byte) {
	t.Helper()
	data := &dataapdu.DataAPDU{
		InvokeID: invokeID,
		Message: &dataapdu.EventReportArgs{
			Confirmed: true,
			EventType: eventType,
			EventInfo: info,
		},
	}
	body, err := dataapdu.Encode(data)
	require.NoError(t, err)
	buf, err := apdu.Encode(&apdu.PRST{Payload: body})
	require.NoError(t, err)
	require.NoError(t, mgr.ProcessInputData(pid, conn, buf))
}

func sendUnconfirmedEventReport(t *testing.T, mgr *Manager, pid uint8, conn uint64, eventType uint16, info []byte) {
	t.Helper()
	data := &dataapdu.DataAPDU{
		Message: &dataapdu.EventReportArgs{
			EventType: eventType,
			EventInfo: info,
		},
	}
	body, err := dataapdu.Encode(data)
	require.NoError(t, err)
	buf, err := apdu.Encode(&apdu.PRST{Payload: body})
	require.NoError(t, err)
	require.NoError(t, mgr.ProcessInputData(pid, conn, buf))
}

// S1: pulse oximeter, known standard config.
func TestS1PulseOximeterKnownConfig(t *testing.T) {
	var available int
	mgr := NewManager(nil, ManagerListener{
		DeviceAvailable: func(ctx *Context) { available++ },
	})
	plugin := &fakePlugin{}
	pid := mgr.RegisterPlugin(plugin)
	ctx := mgr.TransportConnectIndication(pid, 1)
	require.Equal(t, StateUnassociated, ctx.State())

	sendAARQ(t, mgr, pid, 1, []byte{0x01, 0x02, 0x03}, 0x0190, true)

	assert.Equal(t, StateOperating, ctx.State())
	assert.Equal(t, 1, available)

	snap, ok := ctx.Snapshot()
	require.True(t, ok)
	var sawSpO2, sawPulse bool
	for _, obj := range snap.Objects {
		switch obj.Handle {
		case 1:
			sawSpO2 = true
		case 10:
			sawPulse = true
		}
	}
	assert.True(t, sawSpO2, "expected SpO2 numeric at handle 1")
	assert.True(t, sawPulse, "expected pulse-rate numeric at handle 10")

	aare, ok := plugin.last().(*apdu.AARE)
	require.True(t, ok)
	assert.Equal(t, apdu.ResultAccepted, aare.Result)
}

// S2: blood pressure, unknown config then Agent-supplied ConfigReport.
func TestS2BloodPressureUnknownThenAccept(t *testing.T) {
	store := config.NewMemStore()
	mgr := NewManager(store, ManagerListener{})
	plugin := &fakePlugin{}
	pid := mgr.RegisterPlugin(plugin)
	ctx := mgr.TransportConnectIndication(pid, 2)

	systemID := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	sendAARQ(t, mgr, pid, 2, systemID, 0x4000, false)
	assert.Equal(t, StateWaitingForConfig, ctx.State())

	report := &dim.ConfigReport{
		Objects: []dim.ConfigObject{
			{
				Class:  dim.ClassNumeric,
				Handle: 1,
				Attribute: []dataapdu.Attribute{
					{ID: dim.AttrAttributeValMap, Value: []byte{byte(dim.AttrNuCmpdValObsBasic >> 8), byte(dim.AttrNuCmpdValObsBasic), 0, 10}},
				},
			},
			{
				Class:  dim.ClassNumeric,
				Handle: 2,
				Attribute: []dataapdu.Attribute{
					{ID: dim.AttrAttributeValMap, Value: []byte{byte(dim.AttrNuValObsSimp >> 8), byte(dim.AttrNuValObsSimp), 0, 4}},
				},
			},
		},
	}
	encoded := dim.EncodeConfigReport(report)
	sendConfirmedEventReport(t, mgr, pid, 2, 7, dim.NotiConfig, encoded)

	assert.Equal(t, StateOperating, ctx.State())

	found := false
	for _, sent := range plugin.sent {
		pdu, err := apdu.Decode(sent)
		if err != nil {
			continue
		}
		prst, ok := pdu.(*apdu.PRST)
		if !ok {
			continue
		}
		d, err := dataapdu.Decode(prst.Payload)
		if err != nil {
			continue
		}
		if _, ok := d.Message.(*dataapdu.EventReportResult); ok && d.InvokeID == 7 {
			found = true
		}
	}
	assert.True(t, found, "expected an EventReportResult replying to invoke 7")

	cached, ok, err := store.Lookup(systemID, 0x4000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached.Objects, 2)
}

// S3: weighing scale, fixed event updates the observed value.
func TestS3WeighingScaleFixedEvent(t *testing.T) {
	systemID := []byte{0x10, 0x20}
	store := config.NewMemStore()
	require.NoError(t, store.Save(systemID, 0x4000, weighingScaleReportForTest()))

	mgr := NewManager(store, ManagerListener{})
	plugin := &fakePlugin{}
	pid := mgr.RegisterPlugin(plugin)
	ctx := mgr.TransportConnectIndication(pid, 3)

	sendAARQ(t, mgr, pid, 3, systemID, 0x4000, true)
	require.Equal(t, StateOperating, ctx.State())

	const ts = 1196942  // arbitrary relative-time stand-in for 2007-12-06T12:10:00
	payload := fixedScanPayload(1, 79.6, ts)
	sendUnconfirmedEventReport(t, mgr, pid, 3, dim.NotiScanReportFixed, payload)

	snap, ok := ctx.Snapshot()
	require.True(t, ok)
	var num *dim.Numeric
	for _, obj := range snap.Objects {
		if obj.Handle == 1 {
			o, _ := ctx.MDS.Lookup(1)
			num, _ = o.(*dim.Numeric)
		}
	}
	require.NotNil(t, num)
	assert.InDelta(t, 79.6, num.Value.Simple, 0.05)
	assert.Equal(t, uint32(ts), num.Value.Time)
}

func weighingScaleReportForTest() *dim.ConfigReport {
	return &dim.ConfigReport{
		Objects: []dim.ConfigObject{
			{
				Class:  dim.ClassNumeric,
				Handle: 1,
				Attribute: []dataapdu.Attribute{
					{ID: dim.AttrAttributeValMap, Value: append(
						[]byte{byte(dim.AttrNuValObsSimp >> 8), byte(dim.AttrNuValObsSimp), 0, 4},
						byte(dim.AttrTimeStampAbs>>8), byte(dim.AttrTimeStampAbs), 0, 4,
					)},
				},
			},
		},
	}
}

// S4: PM-Store retrieval via action request/response, then an unsolicited
// segment-data push.
func TestS4PMStoreRetrieval(t *testing.T) {
	var received [][]byte
	mgr := NewManager(nil, ManagerListener{
		SegmentDataReceived: func(ctx *Context, storeHandle, segHandle uint16, data []byte) {
			received = append(received, data)
		},
	})
	plugin := &fakePlugin{}
	pid := mgr.RegisterPlugin(plugin)
	ctx := mgr.TransportConnectIndication(pid, 4)
	sendAARQ(t, mgr, pid, 4, []byte{0x01}, 0x06A4, true) // glucometer: PM-Store at handle 2
	require.Equal(t, StateOperating, ctx.State())

	var infoReply *dataapdu.ActionResult
	req, err := ctx.RequestGetSegmentInfo(2, time.Second, func(d *dataapdu.DataAPDU) {
		if d != nil {
			infoReply, _ = d.Message.(*dataapdu.ActionResult)
		}
	})
	require.NoError(t, err)

	replyBody, err := dataapdu.Encode(&dataapdu.DataAPDU{
		InvokeID: req.InvokeID,
		Message:  &dataapdu.ActionResult{ObjHandle: 2, ActionType: ActionGetSegmentInfo, ActionInfo: []byte{0, 1}},
	})
	require.NoError(t, err)
	buf, err := apdu.Encode(&apdu.PRST{Payload: replyBody})
	require.NoError(t, err)
	require.NoError(t, mgr.ProcessInputData(pid, 4, buf))
	require.NotNil(t, infoReply)

	_, err = ctx.RequestGetSegmentData(2, 1, time.Second, nil)
	require.NoError(t, err)

	segInfo := []byte{0, 2, 0, 1}
	segData := []byte{0x01, 0x02, 0x03, 0x04}
	sendUnconfirmedEventReport(t, mgr, pid, 4, dim.NotiSegmentData, append(segInfo, segData...))

	require.Len(t, received, 1)
	assert.Equal(t, segData, received[0])
}

// S5: Manager-initiated release.
func TestS5ReleaseByManager(t *testing.T) {
	var unavailable int
	mgr := NewManager(nil, ManagerListener{
		DeviceUnavailable: func(ctx *Context) { unavailable++ },
	})
	plugin := &fakePlugin{}
	pid := mgr.RegisterPlugin(plugin)
	ctx := mgr.TransportConnectIndication(pid, 5)
	sendAARQ(t, mgr, pid, 5, []byte{0x01}, 0x0190, true)
	require.Equal(t, StateOperating, ctx.State())

	ctx.RequestAssociationRelease()
	assert.Equal(t, StateDisassociating, ctx.State())
	_, ok := plugin.last().(*apdu.RLRQ)
	assert.True(t, ok)

	buf, err := apdu.Encode(&apdu.RLRE{})
	require.NoError(t, err)
	require.NoError(t, mgr.ProcessInputData(pid, 5, buf))

	assert.Equal(t, StateUnassociated, ctx.State())
	assert.Equal(t, 1, unavailable)
}

// S6: an unexpected APDU while Operating aborts the association.
func TestS6AbortOnUnexpectedAARE(t *testing.T) {
	var unavailable int
	mgr := NewManager(nil, ManagerListener{
		DeviceUnavailable: func(ctx *Context) { unavailable++ },
	})
	plugin := &fakePlugin{}
	pid := mgr.RegisterPlugin(plugin)
	ctx := mgr.TransportConnectIndication(pid, 6)
	sendAARQ(t, mgr, pid, 6, []byte{0x01}, 0x0190, true)
	require.Equal(t, StateOperating, ctx.State())

	buf, err := apdu.Encode(&apdu.AARE{ProtocolVersion: protocolVersion, Result: apdu.ResultAccepted})
	require.NoError(t, err)
	require.NoError(t, mgr.ProcessInputData(pid, 6, buf))

	assert.Equal(t, StateUnassociated, ctx.State())
	assert.Equal(t, 1, unavailable)

	abrt, ok := plugin.last().(*apdu.ABRT)
	require.True(t, ok)
	assert.Equal(t, apdu.AbortUndefined, abrt.Reason)
}

// Context isolation: firing events on one Context never touches another.
func TestContextIsolation(t *testing.T) {
	mgr := NewManager(nil, ManagerListener{})
	plugin := &fakePlugin{}
	pid := mgr.RegisterPlugin(plugin)
	a := mgr.TransportConnectIndication(pid, 100)
	b := mgr.TransportConnectIndication(pid, 200)

	sendAARQ(t, mgr, pid, 100, []byte{0x01}, 0x0190, true)
	require.Equal(t, StateOperating, a.State())
	assert.Equal(t, StateUnassociated, b.State())

	a.RequestAssociationAbort()
	assert.Equal(t, StateUnassociated, a.State())
	assert.Equal(t, StateUnassociated, b.State())
}
