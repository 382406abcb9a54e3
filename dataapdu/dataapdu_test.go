package dataapdu_test

import (
	"testing"

	"github.com/signove/phd-manager/dataapdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, invokeID uint16, msg dataapdu.Message) *dataapdu.DataAPDU {
	t.Helper()
	d := &dataapdu.DataAPDU{InvokeID: invokeID, Message: msg}
	buf, err := dataapdu.Encode(d)
	require.NoError(t, err)
	got, err := dataapdu.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, invokeID, got.InvokeID)
	return got
}

func TestEventReportRoundTrip(t *testing.T) {
	args := &dataapdu.EventReportArgs{
		Confirmed:    true,
		ObjHandle:    0,
		EventType:    0x0D1C, // MDC_NOTI_CONFIG
		RelativeTime: 12345,
		EventInfo:    []byte{1, 2, 3, 4},
	}
	got := roundTrip(t, 7, args)
	decoded, ok := got.Message.(*dataapdu.EventReportArgs)
	require.True(t, ok)
	assert.Equal(t, args, decoded)
	assert.Equal(t, dataapdu.FamilyROIV, dataapdu.Classify(decoded.Choice()))
}

func TestGetRoundTrip(t *testing.T) {
	args := &dataapdu.GetArgs{ObjHandle: 1, AttributeIDList: []uint16{0x0A45, 0x0A46}}
	got := roundTrip(t, 1, args)
	decoded, ok := got.Message.(*dataapdu.GetArgs)
	require.True(t, ok)
	assert.Equal(t, args, decoded)

	result := &dataapdu.GetResult{
		ObjHandle: 1,
		AttributeList: []dataapdu.Attribute{
			{ID: 0x0A45, Value: []byte{0, 1}},
			{ID: 0x0A46, Value: []byte{0, 2}},
		},
	}
	got2 := roundTrip(t, 1, result)
	decodedResult, ok := got2.Message.(*dataapdu.GetResult)
	require.True(t, ok)
	assert.Equal(t, result, decodedResult)
	assert.Equal(t, dataapdu.FamilyRORS, dataapdu.Classify(decodedResult.Choice()))
}

func TestSetRoundTrip(t *testing.T) {
	args := &dataapdu.SetArgs{
		Confirmed: true,
		ObjHandle: 2,
		AttributeList: []dataapdu.Attribute{
			{ID: 0x0A3F, Value: []byte{0xAA}},
		},
	}
	got := roundTrip(t, 9, args)
	decoded, ok := got.Message.(*dataapdu.SetArgs)
	require.True(t, ok)
	assert.Equal(t, args, decoded)
}

func TestActionRoundTrip(t *testing.T) {
	args := &dataapdu.ActionArgs{Confirmed: true, ObjHandle: 3, ActionType: 0x0A57, ActionInfo: []byte{1}}
	got := roundTrip(t, 4, args)
	decoded, ok := got.Message.(*dataapdu.ActionArgs)
	require.True(t, ok)
	assert.Equal(t, args, decoded)
}

func TestErrorAndRejectRoundTrip(t *testing.T) {
	errResult := &dataapdu.ErrorResult{ErrorCode: dataapdu.ErrorCodeNoSuchAttribute}
	got := roundTrip(t, 2, errResult)
	decoded, ok := got.Message.(*dataapdu.ErrorResult)
	require.True(t, ok)
	assert.Equal(t, errResult.ErrorCode, decoded.ErrorCode)
	assert.Equal(t, dataapdu.FamilyROER, dataapdu.Classify(decoded.Choice()))

	reject := &dataapdu.RejectResult{Problem: dataapdu.RejectUnrecognizedInvokeID, ProblemValue: 42}
	got2 := roundTrip(t, 0xFFFF, reject)
	decodedReject, ok := got2.Message.(*dataapdu.RejectResult)
	require.True(t, ok)
	assert.Equal(t, reject, decodedReject)
	assert.Equal(t, dataapdu.FamilyRORJ, dataapdu.Classify(decodedReject.Choice()))
}

func TestDecodeUnknownChoiceFails(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x99, 0x99, 0x00, 0x00}
	_, err := dataapdu.Decode(buf)
	require.Error(t, err)
	var derr *dataapdu.DecodeError
	require.ErrorAs(t, err, &derr)
}
