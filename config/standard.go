// Package config implements the two ISO/IEEE 11073-20601 configuration
// registries: a process-wide table of standard configurations keyed by
// dev-configuration-id, and an extended-configuration cache keyed by
// (system-id, dev-configuration-id) with a pluggable persistence seam.
//
// The standard-config registry follows the teacher's sopclass package: a
// static table of named entries (there, SOPUID{Name, UID}; here,
// dev-configuration-id -> factory) built at init time via plain var
// declarations, looked up by exact match.
package config

import (
	"fmt"

	"github.com/signove/phd-manager/dataapdu"
	"github.com/signove/phd-manager/dim"
)

// Factory produces the ConfigObjectList for a standard configuration.
type Factory func() *dim.ConfigReport

var standardRegistry = map[uint16]Factory{}

// RegisterStandard adds (or replaces) the factory for a standard
// dev-configuration-id. Valid ids are 0x0001..0x3FFF; callers outside that
// range get an error so a programming mistake can't silently shadow the
// extended range.
func RegisterStandard(id uint16, f Factory) error {
	if id == 0 || id > 0x3FFF {
		return fmt.Errorf("config: standard id 0x%04x out of range 0x0001..0x3FFF", id)
	}
	standardRegistry[id] = f
	return nil
}

// LookupStandard resolves a standard dev-configuration-id.
func LookupStandard(id uint16) (*dim.ConfigReport, bool) {
	f, ok := standardRegistry[id]
	if !ok {
		return nil, false
	}
	return f(), true
}

// IsStandardRange reports whether id falls in the standard-config range.
func IsStandardRange(id uint16) bool { return id >= 0x0001 && id <= 0x3FFF }

// IsExtendedRange reports whether id falls in the extended-config range.
func IsExtendedRange(id uint16) bool { return id >= 0x4000 && id <= 0x7FFF }

func attr(id uint16, v []byte) dataapdu.Attribute { return dataapdu.Attribute{ID: id, Value: v} }

func attrValueMap(specs []dim.AttrSpec) []byte {
	buf := make([]byte, 0, len(specs)*4)
	for _, s := range specs {
		buf = append(buf, byte(s.AttrID>>8), byte(s.AttrID), byte(s.Length>>8), byte(s.Length))
	}
	return buf
}

func u16bytes(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// 0x0190 / 0x0191: pulse oximeter, SpO2 + pulse rate as simple-nu
// numerics. Handle 1 is SpO2, handle 10 is pulse rate, matching the S1
// scenario fixture.
func pulseOximeterConfig() *dim.ConfigReport {
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
					attr(dim.AttrAttributeValMap, attrValueMap(specs)),
					attr(dim.AttrUnitCode, u16bytes(0x0220)), // MDC_DIM_PERCENT
					attr(dim.AttrIDLabelString, []byte("SpO2")),
				},
			},
			{
				Class:  dim.ClassNumeric,
				Handle: 10,
				Attribute: []dataapdu.Attribute{
					attr(dim.AttrAttributeValMap, attrValueMap(specs)),
					attr(dim.AttrUnitCode, u16bytes(0x0248)), // MDC_DIM_BEAT_PER_MIN
					attr(dim.AttrIDLabelString, []byte("Pulse")),
				},
			},
		},
	}
}

// 0x02BC: blood pressure monitor, systolic/diastolic/MAP as a
// compound-basic-nu plus a simple pulse-rate numeric.
func bloodPressureConfig() *dim.ConfigReport {
	compoundSpecs := []dim.AttrSpec{{AttrID: dim.AttrNuCmpdValObsBasic, Length: 10}} // count(2)+length(2)+3*sfloat(2)
	simpleSpecs := []dim.AttrSpec{{AttrID: dim.AttrNuValObsSimp, Length: 4}}
	return &dim.ConfigReport{
		Objects: []dim.ConfigObject{
			{
				Class:  dim.ClassNumeric,
				Handle: 1,
				Attribute: []dataapdu.Attribute{
					attr(dim.AttrAttributeValMap, attrValueMap(compoundSpecs)),
					attr(dim.AttrUnitCode, u16bytes(0x0272)), // MDC_DIM_MMHG
					attr(dim.AttrIDLabelString, []byte("NIBP")),
				},
			},
			{
				Class:  dim.ClassNumeric,
				Handle: 2,
				Attribute: []dataapdu.Attribute{
					attr(dim.AttrAttributeValMap, attrValueMap(simpleSpecs)),
					attr(dim.AttrUnitCode, u16bytes(0x0248)),
					attr(dim.AttrIDLabelString, []byte("Pulse")),
				},
			},
		},
	}
}

// 0x05DC: weighing scale, a single simple-nu weight measurement.
func weighingScaleConfig() *dim.ConfigReport {
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
					attr(dim.AttrAttributeValMap, attrValueMap(specs)),
					attr(dim.AttrUnitCode, u16bytes(0x0316)), // MDC_DIM_KILO_G
					attr(dim.AttrIDLabelString, []byte("Weight")),
				},
			},
		},
	}
}

// 0x06A4: glucometer, a single simple-nu glucose reading plus a PM-Store
// for historical entries.
func glucometerConfig() *dim.ConfigReport {
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
					attr(dim.AttrAttributeValMap, attrValueMap(specs)),
					attr(dim.AttrUnitCode, u16bytes(0x0408)), // MDC_DIM_MOLE_PER_VOL
					attr(dim.AttrIDLabelString, []byte("Glucose")),
				},
			},
			{
				Class:  dim.ClassPMStore,
				Handle: 2,
				Attribute: []dataapdu.Attribute{
					attr(dim.AttrNumSeg, u16bytes(0)),
				},
			},
		},
	}
}

func init() {
	_ = RegisterStandard(0x0190, pulseOximeterConfig)
	_ = RegisterStandard(0x0191, pulseOximeterConfig)
	_ = RegisterStandard(0x02BC, bloodPressureConfig)
	_ = RegisterStandard(0x05DC, weighingScaleConfig)
	_ = RegisterStandard(0x06A4, glucometerConfig)
}
