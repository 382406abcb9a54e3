package dim

import (
	"fmt"

	"github.com/signove/phd-manager/mder"
)

// ScanReportKind distinguishes the three MDS-Dynamic-Data-Update layouts.
type ScanReportKind uint8

const (
	ScanFixed ScanReportKind = iota
	ScanVar
	ScanGrouped
)

// HandleUpdate is one decoded {handle, values} entry, ready to hand to a
// measurement_data_updated listener.
type HandleUpdate struct {
	Handle uint16
	Values []NumericValue
}

// ApplyEventReport decodes payload per kind and applies it to the object
// tree, returning the updates actually made (for the listener callback).
// An entry for an unknown handle is discarded; a Fixed entry whose object
// has no Attribute-Value-Map, or whose payload is shorter than the lengths
// that map declares, aborts that entry's decode only.
func (m *MDS) ApplyEventReport(kind ScanReportKind, payload []byte) ([]HandleUpdate, error) {
	switch kind {
	case ScanFixed:
		return m.applyFixed(payload)
	case ScanVar:
		return m.applyVar(payload)
	case ScanGrouped:
		return m.applyGrouped(payload)
	default:
		return nil, fmt.Errorf("dim: unknown scan report kind %d", kind)
	}
}

// applyFixed decodes a sequence of {handle:u16, length:u16, bytes...}
// entries, each consuming attributes in the order of the object's
// Attribute-Value-Map.
func (m *MDS) applyFixed(payload []byte) ([]HandleUpdate, error) {
	r := mder.NewReader(payload)
	var updates []HandleUpdate
	for r.Len() > 0 {
		handle := r.ReadU16()
		n := int(r.ReadU16())
		body := r.ReadBytes(n)
		if r.Err() != nil {
			return updates, r.Err()
		}
		obj, ok := m.Lookup(handle)
		if !ok {
			continue // unknown handle: discard entry, continue
		}
		num, ok := obj.(*Numeric)
		if !ok {
			continue
		}
		val, err := decodeFixedNumeric(num, body)
		if err != nil {
			// abort this entry's decode only; Context stays Operating.
			continue
		}
		num.Value = val
		updates = append(updates, HandleUpdate{Handle: handle, Values: []NumericValue{val}})
	}
	return updates, nil
}

// decodeFixedNumeric walks num.AttrValueMap against body, pulling out the
// simple/basic/compound-basic value, timestamp, and status fields it
// recognizes; an empty AttrValueMap, or a body shorter than the lengths
// the map declares, is an error (abort this event only). Bytes past the
// last mapped attribute are ignored.
func decodeFixedNumeric(num *Numeric, body []byte) (NumericValue, error) {
	if len(num.AttrValueMap) == 0 {
		return NumericValue{}, fmt.Errorf("dim: no attribute-value-map for handle 0x%04x", num.Handle)
	}
	r := mder.NewReader(body)
	var val NumericValue
	for _, spec := range num.AttrValueMap {
		if r.Len() < spec.Length {
			return NumericValue{}, fmt.Errorf("dim: attribute-value-map length %d exceeds payload", spec.Length)
		}
		chunk := r.ReadBytes(spec.Length)
		cr := mder.NewReader(chunk)
		switch spec.AttrID {
		case AttrNuValObsSimp:
			val.Kind = NuSimple
			val.Simple = cr.ReadFloat()
		case AttrNuValObsBasic:
			val.Kind = NuBasic
			val.Basic = cr.ReadSFloat()
		case AttrNuCmpdValObsBasic:
			val.Kind = NuCompoundBasic
			count := int(cr.ReadU16())
			_ = cr.ReadU16() // declared byte length, redundant with count*2
			vals := make([]float64, 0, count)
			for i := 0; i < count; i++ {
				vals = append(vals, cr.ReadSFloat())
			}
			val.Compound = vals
		case AttrTimeStampAbs:
			val.Time = cr.ReadU32()
		case AttrMsmtStat:
			val.Status = cr.ReadU16()
		}
		if cr.Err() != nil {
			return NumericValue{}, cr.Err()
		}
	}
	return val, nil
}

// applyVar decodes {handle:u16, item-count:u16, items...} where each item
// is {attr_id:u16, length:u16, bytes}.
func (m *MDS) applyVar(payload []byte) ([]HandleUpdate, error) {
	r := mder.NewReader(payload)
	var updates []HandleUpdate
	for r.Len() > 0 {
		handle := r.ReadU16()
		itemCount := int(r.ReadU16())
		var val NumericValue
		for i := 0; i < itemCount; i++ {
			attrID := r.ReadU16()
			length := int(r.ReadU16())
			chunk := r.ReadBytes(length)
			if r.Err() != nil {
				return updates, r.Err()
			}
			cr := mder.NewReader(chunk)
			switch attrID {
			case AttrNuValObsSimp:
				val.Kind = NuSimple
				val.Simple = cr.ReadFloat()
			case AttrNuValObsBasic:
				val.Kind = NuBasic
				val.Basic = cr.ReadSFloat()
			case AttrTimeStampAbs:
				val.Time = cr.ReadU32()
			case AttrMsmtStat:
				val.Status = cr.ReadU16()
			}
		}
		obj, ok := m.Lookup(handle)
		if !ok {
			continue
		}
		if num, ok := obj.(*Numeric); ok {
			num.Value = val
		}
		updates = append(updates, HandleUpdate{Handle: handle, Values: []NumericValue{val}})
	}
	return updates, nil
}

// applyGrouped decodes one payload covering several "virtual" objects
// driven by a scanner's filter-handle list: {scanner_handle:u16,
// length:u16, bytes...} where bytes holds each filtered object's fixed
// payload back to back, in FilterHandles order.
func (m *MDS) applyGrouped(payload []byte) ([]HandleUpdate, error) {
	r := mder.NewReader(payload)
	scannerHandle := r.ReadU16()
	n := int(r.ReadU16())
	body := r.ReadBytes(n)
	if r.Err() != nil {
		return nil, r.Err()
	}
	obj, ok := m.Lookup(scannerHandle)
	if !ok {
		return nil, nil
	}
	scanner, ok := obj.(*Scanner)
	if !ok {
		return nil, nil
	}
	br := mder.NewReader(body)
	var updates []HandleUpdate
	for _, handle := range scanner.FilterHandles {
		sub, ok := m.Lookup(handle)
		if !ok {
			continue
		}
		num, ok := sub.(*Numeric)
		if !ok {
			continue
		}
		size := 0
		for _, spec := range num.AttrValueMap {
			size += spec.Length
		}
		if br.Len() < size {
			break
		}
		chunk := br.ReadBytes(size)
		val, err := decodeFixedNumeric(num, chunk)
		if err != nil {
			continue
		}
		num.Value = val
		updates = append(updates, HandleUpdate{Handle: handle, Values: []NumericValue{val}})
	}
	return updates, nil
}
