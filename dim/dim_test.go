package dim_test

import (
	"testing"

	"github.com/signove/phd-manager/dataapdu"
	"github.com/signove/phd-manager/dim"
	"github.com/signove/phd-manager/mder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attrValueMapBytes(specs []dim.AttrSpec) []byte {
	w := mder.NewWriter()
	for _, s := range specs {
		w.WriteU16(s.AttrID)
		w.WriteU16(uint16(s.Length))
	}
	return w.Bytes()
}

func pulseOxConfig() *dim.ConfigReport {
	specs := []dim.AttrSpec{
		{AttrID: dim.AttrNuValObsSimp, Length: 4},
		{AttrID: dim.AttrTimeStampAbs, Length: 4},
	}
	return &dim.ConfigReport{
		Objects: []dim.ConfigObject{
			{
				Class:  dim.ClassNumeric,
				Handle: 1,
				Attribute: []dataapdu.Attribute{
					{ID: dim.AttrAttributeValMap, Value: attrValueMapBytes(specs)},
					{ID: dim.AttrUnitCode, Value: []byte{0x02, 0x20}},
				},
			},
			{
				Class:  dim.ClassNumeric,
				Handle: 10,
				Attribute: []dataapdu.Attribute{
					{ID: dim.AttrAttributeValMap, Value: attrValueMapBytes(specs)},
				},
			},
		},
	}
}

func TestApplyConfigBuildsObjects(t *testing.T) {
	m := dim.NewMDS(0)
	require.NoError(t, m.ApplyConfig(pulseOxConfig()))
	assert.Len(t, m.Objects(), 2)

	obj, ok := m.Lookup(1)
	require.True(t, ok)
	num, ok := obj.(*dim.Numeric)
	require.True(t, ok)
	assert.Len(t, num.AttrValueMap, 2)
	assert.Equal(t, []byte{0x02, 0x20}, num.Attrs[dim.AttrUnitCode])
}

func TestApplyEventReportFixed(t *testing.T) {
	m := dim.NewMDS(0)
	require.NoError(t, m.ApplyConfig(pulseOxConfig()))

	body := mder.NewWriter()
	body.WriteFloat(98)
	body.WriteU32(1000)

	w := mder.NewWriter()
	w.WriteU16(1) // handle
	w.WriteU16(uint16(len(body.Bytes())))
	w.WriteBytes(body.Bytes())

	updates, err := m.ApplyEventReport(dim.ScanFixed, w.Bytes())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, uint16(1), updates[0].Handle)
	assert.InEpsilon(t, 98.0, updates[0].Values[0].Simple, 1e-6)
	assert.EqualValues(t, 1000, updates[0].Values[0].Time)
}

func TestApplyEventReportUnknownHandleDiscarded(t *testing.T) {
	m := dim.NewMDS(0)
	require.NoError(t, m.ApplyConfig(pulseOxConfig()))

	w := mder.NewWriter()
	w.WriteU16(999) // unknown handle
	w.WriteU16(4)
	w.WriteFloat(1)

	updates, err := m.ApplyEventReport(dim.ScanFixed, w.Bytes())
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestApplyEventReportGrouped(t *testing.T) {
	m := dim.NewMDS(0)
	specs := []dim.AttrSpec{{AttrID: dim.AttrNuValObsBasic, Length: 2}}
	report := &dim.ConfigReport{
		Objects: []dim.ConfigObject{
			{
				Class:  dim.ClassScannerPeriodic,
				Handle: 100,
				Attribute: []dataapdu.Attribute{
					{ID: dim.AttrScanHandleList, Value: []byte{0, 1, 0, 2}},
				},
			},
			{Class: dim.ClassNumeric, Handle: 1, Attribute: []dataapdu.Attribute{
				{ID: dim.AttrAttributeValMap, Value: attrValueMapBytes(specs)},
			}},
			{Class: dim.ClassNumeric, Handle: 2, Attribute: []dataapdu.Attribute{
				{ID: dim.AttrAttributeValMap, Value: attrValueMapBytes(specs)},
			}},
		},
	}
	require.NoError(t, m.ApplyConfig(report))

	inner := mder.NewWriter()
	inner.WriteSFloat(72)
	inner.WriteSFloat(98)

	w := mder.NewWriter()
	w.WriteU16(100)
	w.WriteU16(uint16(len(inner.Bytes())))
	w.WriteBytes(inner.Bytes())

	updates, err := m.ApplyEventReport(dim.ScanGrouped, w.Bytes())
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.InEpsilon(t, 72.0, updates[0].Values[0].Basic, 1e-6)
	assert.InEpsilon(t, 98.0, updates[1].Values[0].Basic, 1e-6)
}

func TestGetAllPreservesInsertionOrder(t *testing.T) {
	m := dim.NewMDS(0)
	require.NoError(t, m.ApplyConfig(pulseOxConfig()))
	snap := m.GetAll()
	require.Len(t, snap.Objects, 2)
	assert.EqualValues(t, 1, snap.Objects[0].Handle)
	assert.EqualValues(t, 10, snap.Objects[1].Handle)
}
