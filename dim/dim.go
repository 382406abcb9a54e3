// Package dim implements the ISO/IEEE 11073-20601 Domain Information
// Model: the MDS object tree a Context builds from a ConfigReport and
// mutates as event reports arrive.
//
// The object shapes follow spec.md's data model directly; there is no
// teacher analogue (DICOM has no DIM), so this package leans on
// original_source/src/dim/*.c for attribute-decode edge cases instead.
package dim

import (
	"fmt"

	"github.com/signove/phd-manager/dataapdu"
)

// ObjClass tags the kind of DIM object.
type ObjClass uint8

const (
	ClassMDS ObjClass = iota
	ClassNumeric
	ClassEnumeration
	ClassRTSA
	ClassScannerEpisodic
	ClassScannerPeriodic
	ClassPMStore
	ClassPMSegment
)

func (c ObjClass) String() string {
	switch c {
	case ClassMDS:
		return "MDS"
	case ClassNumeric:
		return "Numeric"
	case ClassEnumeration:
		return "Enumeration"
	case ClassRTSA:
		return "RT-SA"
	case ClassScannerEpisodic:
		return "ConfigScanner"
	case ClassScannerPeriodic:
		return "PeriCfgScanner"
	case ClassPMStore:
		return "PM-Store"
	case ClassPMSegment:
		return "PM-Segment"
	default:
		return "unknown"
	}
}

// Object is the common header every DIM object embeds.
type Object struct {
	Handle uint16
	Class  ObjClass
	// Attrs holds every attribute not promoted to a typed field, keyed by
	// OID, preserved verbatim for Get-all round trips.
	Attrs map[uint16][]byte
}

func newObject(handle uint16, class ObjClass) Object {
	return Object{Handle: handle, Class: class, Attrs: map[uint16][]byte{}}
}

// AttrSpec is one entry of an Attribute-Value-Map: the OID and the fixed
// byte length event-report data uses for it, established at config time.
type AttrSpec struct {
	AttrID uint16
	Length int
}

// NuKind discriminates the observed-value union on a Numeric.
type NuKind uint8

const (
	NuSimple NuKind = iota
	NuBasic
	NuCompoundBasic
)

// NumericValue is the last observed value of a Numeric object.
type NumericValue struct {
	Kind     NuKind
	Simple   float64
	Basic    float64
	Compound []float64
	Time     uint32
	Status   uint16
}

// Numeric is a measured value object (e.g. SpO2, pulse rate, weight).
type Numeric struct {
	Object
	AttrValueMap []AttrSpec
	Value        NumericValue
}

// Enumeration is a coded-value object.
type Enumeration struct {
	Object
	Value uint16
}

// Scanner is a periodic or episodic measurement scheduler.
type Scanner struct {
	Object
	Periodic         bool
	OperationalState uint8 // 0 = disabled, 1 = enabled
	FilterHandles    []uint16
}

// PMSegment holds on-demand-decoded segment data.
type PMSegment struct {
	Object
	InstNumber       uint16
	AbsoluteTimeOrig uint32
	Data             []byte
}

// PMStore is the parent of a device's stored-measurement segments.
type PMStore struct {
	Object
	SegmentCount uint16
	Segments     map[uint16]*PMSegment
}

// MDS is the root DIM object for one Context.
type MDS struct {
	Object
	SystemID           []byte
	DateTime           uint32
	SystemModel        string
	DevConfigID        uint16
	SystemTypeSpecList []uint16
	ProductionSpec     string

	objects   []*Object // ordered, insertion order preserved for Get-all
	byHandle  map[uint16]interface{}
}

// NewMDS constructs an empty MDS root, ready for ApplyConfig.
func NewMDS(handle uint16) *MDS {
	return &MDS{
		Object:   newObject(handle, ClassMDS),
		byHandle: map[uint16]interface{}{},
	}
}

// ConfigObject is one entry of a ConfigReport: an object to create plus
// its initial attribute list.
type ConfigObject struct {
	Class     ObjClass
	Handle    uint16
	Attribute []dataapdu.Attribute
}

// ConfigReport is the full device configuration advertised by an Agent,
// either resolved from a standard/extended registry or received live in
// a roiv-confirmed-event-report.
type ConfigReport struct {
	Objects []ConfigObject
}

// ApplyConfig builds the object tree described by report onto m. The
// Manager runs it once per association, on a fresh MDS, when the Context
// enters Operating.
func (m *MDS) ApplyConfig(report *ConfigReport) error {
	for _, co := range report.Objects {
		obj, err := m.createObject(co)
		if err != nil {
			return fmt.Errorf("dim: apply config handle 0x%04x: %w", co.Handle, err)
		}
		m.register(co.Handle, obj)
	}
	return nil
}

func (m *MDS) register(handle uint16, obj interface{}) {
	m.byHandle[handle] = obj
}

func (m *MDS) createObject(co ConfigObject) (interface{}, error) {
	switch co.Class {
	case ClassNumeric:
		n := &Numeric{Object: newObject(co.Handle, ClassNumeric)}
		applyAttributes(&n.Object, co.Attribute, func(id uint16, v []byte) bool {
			if id == AttrAttributeValMap {
				n.AttrValueMap = decodeAttrValueMap(v)
				return true
			}
			return false
		})
		m.objects = append(m.objects, &n.Object)
		return n, nil
	case ClassEnumeration:
		e := &Enumeration{Object: newObject(co.Handle, ClassEnumeration)}
		applyAttributes(&e.Object, co.Attribute, nil)
		m.objects = append(m.objects, &e.Object)
		return e, nil
	case ClassScannerEpisodic, ClassScannerPeriodic:
		s := &Scanner{Object: newObject(co.Handle, co.Class), Periodic: co.Class == ClassScannerPeriodic}
		applyAttributes(&s.Object, co.Attribute, func(id uint16, v []byte) bool {
			if id == AttrOpStat && len(v) >= 1 {
				s.OperationalState = v[0]
				return true
			}
			if id == AttrScanHandleList {
				s.FilterHandles = decodeHandleList(v)
				return true
			}
			return false
		})
		m.objects = append(m.objects, &s.Object)
		return s, nil
	case ClassPMStore:
		p := &PMStore{Object: newObject(co.Handle, ClassPMStore), Segments: map[uint16]*PMSegment{}}
		applyAttributes(&p.Object, co.Attribute, func(id uint16, v []byte) bool {
			if id == AttrNumSeg && len(v) >= 2 {
				p.SegmentCount = uint16(v[0])<<8 | uint16(v[1])
				return true
			}
			return false
		})
		m.objects = append(m.objects, &p.Object)
		return p, nil
	case ClassPMSegment:
		seg := &PMSegment{Object: newObject(co.Handle, ClassPMSegment)}
		applyAttributes(&seg.Object, co.Attribute, nil)
		m.objects = append(m.objects, &seg.Object)
		return seg, nil
	case ClassRTSA:
		r := &Object{}
		*r = newObject(co.Handle, ClassRTSA)
		applyAttributes(r, co.Attribute, nil)
		m.objects = append(m.objects, r)
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported object class %v", co.Class)
	}
}

// applyAttributes stores every attribute in obj.Attrs, first offering it
// to special, which returns true if it consumed the attribute into a
// typed field.
func applyAttributes(obj *Object, attrs []dataapdu.Attribute, special func(id uint16, v []byte) bool) {
	for _, a := range attrs {
		if special != nil && special(a.ID, a.Value) {
			continue
		}
		obj.Attrs[a.ID] = a.Value
	}
}

func decodeHandleList(v []byte) []uint16 {
	var out []uint16
	for i := 0; i+1 < len(v); i += 2 {
		out = append(out, uint16(v[i])<<8|uint16(v[i+1]))
	}
	return out
}

func decodeAttrValueMap(v []byte) []AttrSpec {
	var out []AttrSpec
	for i := 0; i+3 < len(v); i += 4 {
		id := uint16(v[i])<<8 | uint16(v[i+1])
		length := int(uint16(v[i+2])<<8 | uint16(v[i+3]))
		out = append(out, AttrSpec{AttrID: id, Length: length})
	}
	return out
}

// Lookup finds a DIM object by handle; ok is false for the MDS handle
// itself or an unknown handle.
func (m *MDS) Lookup(handle uint16) (interface{}, bool) {
	o, ok := m.byHandle[handle]
	return o, ok
}

// Objects returns every non-MDS object in insertion order.
func (m *MDS) Objects() []*Object { return m.objects }

// Snapshot is an immutable-enough view of the MDS, as returned by
// Context.Snapshot.
type Snapshot struct {
	Handle             uint16
	SystemID           []byte
	SystemModel        string
	DevConfigID        uint16
	ProductionSpec     string
	Objects            []*Object
}

// GetAll returns a Snapshot of the MDS's own fields plus its objects in
// insertion order. It does not encode anything for the wire.
func (m *MDS) GetAll() Snapshot {
	return Snapshot{
		Handle:         m.Handle,
		SystemID:       m.SystemID,
		SystemModel:    m.SystemModel,
		DevConfigID:    m.DevConfigID,
		ProductionSpec: m.ProductionSpec,
		Objects:        m.objects,
	}
}
